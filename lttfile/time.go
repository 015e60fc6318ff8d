// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Time is a trace timestamp in nanoseconds.
type Time uint64

// MaxTime is later than any event time.
const MaxTime Time = math.MaxUint64

func (t Time) String() string {
	return fmt.Sprintf("%d.%09d", uint64(t)/1e9, uint64(t)%1e9)
}

// ParseTime parses a time in the "sec.nsec" form produced by
// Time.String. The fractional part may have fewer than nine digits.
func ParseTime(s string) (Time, error) {
	sec, frac := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		sec, frac = s[:dot], s[dot+1:]
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("bad time %q: more than 9 fractional digits", s)
	}
	var secs, nsecs uint64
	var err error
	if sec != "" {
		if secs, err = strconv.ParseUint(sec, 10, 64); err != nil {
			return 0, fmt.Errorf("bad time %q: %w", s, err)
		}
	}
	if frac != "" {
		frac += strings.Repeat("0", 9-len(frac))
		if nsecs, err = strconv.ParseUint(frac, 10, 64); err != nil {
			return 0, fmt.Errorf("bad time %q: %w", s, err)
		}
	}
	return Time(secs*1e9 + nsecs), nil
}

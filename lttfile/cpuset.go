// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// A CPUSet represents a sorted set of CPUs by CPU index.
//
// A CPUSet is also a flag value, so it can be set from a command
// line list such as "0-3,6".
type CPUSet []int

// ParseCPUSet parses a comma-separated list of CPUs and CPU ranges.
func ParseCPUSet(str string) (CPUSet, error) {
	out := CPUSet{}
	if str == "" {
		return out, nil
	}
	for _, r := range strings.Split(str, ",") {
		lo, hi, isRange := strings.Cut(r, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad CPU %q: %w", r, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("bad CPU range %q: %w", r, err)
			}
		}
		if first < 0 || last < first {
			return nil, fmt.Errorf("bad CPU range %q", r)
		}
		for cpu := first; cpu <= last; cpu++ {
			out = append(out, cpu)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Contains reports whether cpu is in c. An empty set contains every
// CPU.
func (c CPUSet) Contains(cpu int) bool {
	if len(c) == 0 {
		return true
	}
	_, ok := slices.BinarySearch(c, cpu)
	return ok
}

func (c CPUSet) String() string {
	if len(c) == 0 {
		return ""
	}

	var out strings.Builder
	lo, hi := c[0], c[0]-1
	flush := func() {
		if lo == hi {
			fmt.Fprintf(&out, ",%d", lo)
		} else {
			fmt.Fprintf(&out, ",%d-%d", lo, hi)
		}
	}
	for _, cpu := range c {
		if cpu == hi+1 {
			hi = cpu
		} else {
			flush()
			lo, hi = cpu, cpu
		}
	}
	flush()
	return out.String()[1:]
}

// Set parses str into c.
func (c *CPUSet) Set(str string) error {
	s, err := ParseCPUSet(str)
	if err != nil {
		return err
	}
	*c = s
	return nil
}

// Type returns the flag type name of a CPUSet.
func (c *CPUSet) Type() string {
	return "cpus"
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "fmt"

// A MapError reports a failure to map a tracefile block into memory.
type MapError struct {
	Path  string
	Block int
	Err   error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%s: mapping block %d: %v", e.Path, e.Block, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// A mapping is one block of a tracefile resident in memory.
type mapping struct {
	// data is the block itself.
	data []byte

	// mem is the region that must be released, which may start
	// before data to satisfy page alignment.
	mem []byte
}

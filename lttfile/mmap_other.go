// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package lttfile

import "os"

// mapRegion reads n bytes of f starting at off. Platforms without
// mmap get a private copy of the block.
func mapRegion(f *os.File, off int64, n int) (mapping, error) {
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return mapping{}, err
	}
	return mapping{data: buf, mem: buf}, nil
}

func (m *mapping) unmap() error {
	*m = mapping{}
	return nil
}

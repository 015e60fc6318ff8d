// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package lttfile

import (
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = int64(unix.Getpagesize())

// mapRegion maps n bytes of f starting at off read-only.
func mapRegion(f *os.File, off int64, n int) (mapping, error) {
	start := off &^ (pageSize - 1)
	skew := int(off - start)
	mem, err := unix.Mmap(int(f.Fd()), start, skew+n, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return mapping{}, err
	}
	return mapping{data: mem[skew : skew+n : skew+n], mem: mem}, nil
}

func (m *mapping) unmap() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	*m = mapping{}
	return err
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "encoding/binary"

// Arch describes the architecture a facility's events were recorded
// on. It determines the width of architecture-dependent field types
// and the padding between payload fields.
type Arch struct {
	Order binary.ByteOrder

	IntSize     int
	LongSize    int
	PointerSize int
	SizeTSize   int

	// Alignment is the maximum alignment applied before each
	// payload field. Zero means fields are packed.
	Alignment int
}

// alignPad returns the number of padding bytes needed to bring off to
// a multiple of min(natural, a.Alignment).
func (a *Arch) alignPad(off, natural int) int {
	if a.Alignment == 0 || natural <= 1 {
		return 0
	}
	n := natural
	if a.Alignment < n {
		n = a.Alignment
	}
	return (n - off%n) % n
}

// width returns the byte width of primitive kind k declared with size
// size. A zero declared size means the architecture's int size.
func (a *Arch) width(k Kind, size int) int {
	switch k {
	case KindLong, KindUlong, KindOff:
		return a.LongSize
	case KindPointer:
		return a.PointerSize
	case KindSizeT, KindSSizeT:
		return a.SizeTSize
	}
	if size != 0 {
		return size
	}
	return a.IntSize
}

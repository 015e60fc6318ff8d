// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttwrite

import "encoding/binary"

// A Payload builds an event payload. Each scalar is preceded by the
// padding the reader expects for a field of its width.
type Payload struct {
	order    binary.ByteOrder
	align    int
	archSize int
	buf      []byte
}

// Align pads the payload to a multiple of min(n, alignment).
func (p *Payload) Align(n int) *Payload {
	if p.align == 0 || n <= 1 {
		return p
	}
	if p.align < n {
		n = p.align
	}
	for len(p.buf)%n != 0 {
		p.buf = append(p.buf, 0)
	}
	return p
}

func (p *Payload) U8(x uint8) *Payload {
	p.buf = append(p.buf, x)
	return p
}

func (p *Payload) U16(x uint16) *Payload {
	p.Align(2)
	var b [2]byte
	p.order.PutUint16(b[:], x)
	p.buf = append(p.buf, b[:]...)
	return p
}

func (p *Payload) U32(x uint32) *Payload {
	p.Align(4)
	var b [4]byte
	p.order.PutUint32(b[:], x)
	p.buf = append(p.buf, b[:]...)
	return p
}

func (p *Payload) U64(x uint64) *Payload {
	p.Align(8)
	var b [8]byte
	p.order.PutUint64(b[:], x)
	p.buf = append(p.buf, b[:]...)
	return p
}

func (p *Payload) I32(x int32) *Payload {
	return p.U32(uint32(x))
}

// Long appends an architecture-width integer, as used for long,
// pointer and size_t fields.
func (p *Payload) Long(x int64) *Payload {
	if p.archSize == 4 {
		return p.U32(uint32(x))
	}
	return p.U64(uint64(x))
}

// String appends a NUL-terminated string.
func (p *Payload) String(s string) *Payload {
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
	return p
}

// Raw appends b without padding.
func (p *Payload) Raw(b ...byte) *Payload {
	p.buf = append(p.buf, b...)
	return p
}

// Bytes returns the encoded payload.
func (p *Payload) Bytes() []byte {
	return p.buf
}

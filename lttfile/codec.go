// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// A DecodeError reports a read past the end of a decoded buffer.
type DecodeError struct {
	Off, Len, Have int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %d bytes at offset %d: only %d bytes available", e.Len, e.Off, e.Have)
}

// bufDecoder decodes fixed-width values from the front of buf.
//
// Reads past the end of buf do not panic. Instead they record a
// DecodeError in err, return zero, and leave buf empty; later reads
// also return zero. Callers check err once after a run of reads.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
	off   int // bytes consumed so far
	err   error
}

func (b *bufDecoder) need(n int) bool {
	if b.err != nil {
		return false
	}
	if n < 0 || n > len(b.buf) {
		b.err = &DecodeError{b.off, n, len(b.buf)}
		b.buf = nil
		return false
	}
	return true
}

func (b *bufDecoder) advance(n int) {
	b.buf = b.buf[n:]
	b.off += n
}

func (b *bufDecoder) skip(n int) {
	if b.need(n) {
		b.advance(n)
	}
}

func (b *bufDecoder) u8() uint8 {
	if !b.need(1) {
		return 0
	}
	x := b.buf[0]
	b.advance(1)
	return x
}

func (b *bufDecoder) u16() uint16 {
	if !b.need(2) {
		return 0
	}
	x := b.order.Uint16(b.buf)
	b.advance(2)
	return x
}

func (b *bufDecoder) u32() uint32 {
	if !b.need(4) {
		return 0
	}
	x := b.order.Uint32(b.buf)
	b.advance(4)
	return x
}

func (b *bufDecoder) u64() uint64 {
	if !b.need(8) {
		return 0
	}
	x := b.order.Uint64(b.buf)
	b.advance(8)
	return x
}

func (b *bufDecoder) cstring() string {
	if b.err != nil {
		return ""
	}
	i := bytes.IndexByte(b.buf, 0)
	if i < 0 {
		b.err = &DecodeError{b.off, len(b.buf) + 1, len(b.buf)}
		b.buf = nil
		return ""
	}
	x := string(b.buf[:i])
	b.advance(i + 1)
	return x
}

// uintAt decodes an unsigned integer of size bytes at data[off:].
func uintAt(data []byte, off, size int, order binary.ByteOrder) (uint64, error) {
	if off < 0 || off+size > len(data) {
		return 0, &DecodeError{off, size, len(data) - off}
	}
	b := data[off : off+size]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 8:
		return order.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", size)
}

// intAt decodes a signed integer of size bytes at data[off:],
// sign-extending it to 64 bits.
func intAt(data []byte, off, size int, order binary.ByteOrder) (int64, error) {
	x, err := uintAt(data, off, size, order)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*size)
	return int64(x<<shift) >> shift, nil
}

// floatAt decodes a 4 or 8 byte IEEE float at data[off:].
func floatAt(data []byte, off, size int, order binary.ByteOrder) (float64, error) {
	x, err := uintAt(data, off, size, order)
	if err != nil {
		return 0, err
	}
	switch size {
	case 4:
		return float64(math.Float32frombits(uint32(x))), nil
	case 8:
		return math.Float64frombits(x), nil
	}
	return 0, fmt.Errorf("unsupported float size %d", size)
}

// cstringAt decodes the NUL-terminated string at data[off:]. It
// returns the string and its encoded size including the terminator.
func cstringAt(data []byte, off int) (string, int, error) {
	if off < 0 || off > len(data) {
		return "", 0, &DecodeError{off, 1, len(data) - off}
	}
	i := bytes.IndexByte(data[off:], 0)
	if i < 0 {
		return "", 0, &DecodeError{off, len(data) - off + 1, len(data) - off}
	}
	return string(data[off : off+i]), i + 1, nil
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"encoding/binary"
	"fmt"
)

// A Position identifies an event in a tracefile.
//
// Positions order events within one tracefile. The position just
// past the last event of a tracefile has Block equal to the number
// of blocks and Offset zero.
type Position struct {
	// Tracefile is the ID of the tracefile within its trace.
	Tracefile int

	// Block and Offset locate the event header.
	Block, Offset int

	// TSC is the reconstructed cycle counter of the event. It is
	// zero if unknown, in which case seeking to the position
	// rescans its block.
	TSC uint64
}

// Compare returns -1, 0, or +1 depending on whether p is before, the
// same as, or after q. It panics if p and q belong to different
// tracefiles.
func (p Position) Compare(q Position) int {
	if p.Tracefile != q.Tracefile {
		panic(fmt.Sprintf("comparing positions of tracefiles %d and %d", p.Tracefile, q.Tracefile))
	}
	switch {
	case p.Block < q.Block:
		return -1
	case p.Block > q.Block:
		return 1
	case p.Offset < q.Offset:
		return -1
	case p.Offset > q.Offset:
		return 1
	}
	return 0
}

func (p Position) String() string {
	return fmt.Sprintf("tf%d:%d+%#x", p.Tracefile, p.Block, p.Offset)
}

const positionSize = 20

func (p Position) appendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(p.Tracefile))
	b = binary.BigEndian.AppendUint32(b, uint32(p.Block))
	b = binary.BigEndian.AppendUint32(b, uint32(p.Offset))
	return binary.BigEndian.AppendUint64(b, p.TSC)
}

// MarshalBinary encodes p in a fixed 20 byte form.
func (p Position) MarshalBinary() ([]byte, error) {
	return p.appendBinary(make([]byte, 0, positionSize)), nil
}

// UnmarshalBinary decodes a position encoded by MarshalBinary.
func (p *Position) UnmarshalBinary(b []byte) error {
	if len(b) != positionSize {
		return fmt.Errorf("bad position encoding length %d", len(b))
	}
	bd := bufDecoder{buf: b, order: binary.BigEndian}
	p.Tracefile = int(bd.u32())
	p.Block = int(bd.u32())
	p.Offset = int(bd.u32())
	p.TSC = bd.u64()
	return bd.err
}

// A TracesetPosition is the read position of every tracefile of a
// Merger, in the Merger's tracefile order.
type TracesetPosition struct {
	// Time is the time of the next event that will be read, or
	// MaxTime at the end of the traceset.
	Time Time

	Files []Position
}

// Equal reports whether p and q name the same read position.
func (p TracesetPosition) Equal(q TracesetPosition) bool {
	if len(p.Files) != len(q.Files) {
		return false
	}
	for i := range p.Files {
		if p.Files[i].Tracefile != q.Files[i].Tracefile || p.Files[i].Compare(q.Files[i]) != 0 {
			return false
		}
	}
	return true
}

// MarshalBinary encodes p as its time, the tracefile count, and each
// tracefile position.
func (p TracesetPosition) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 12+positionSize*len(p.Files))
	b = binary.BigEndian.AppendUint64(b, uint64(p.Time))
	b = binary.BigEndian.AppendUint32(b, uint32(len(p.Files)))
	for _, f := range p.Files {
		b = f.appendBinary(b)
	}
	return b, nil
}

// UnmarshalBinary decodes a position encoded by MarshalBinary.
func (p *TracesetPosition) UnmarshalBinary(b []byte) error {
	bd := bufDecoder{buf: b, order: binary.BigEndian}
	t := bd.u64()
	n := bd.u32()
	if bd.err != nil {
		return bd.err
	}
	if uint64(len(bd.buf)) != uint64(n)*positionSize {
		return fmt.Errorf("bad traceset position encoding: %d bytes for %d tracefiles", len(bd.buf), n)
	}
	p.Time = Time(t)
	p.Files = make([]Position, n)
	for i := range p.Files {
		if err := p.Files[i].UnmarshalBinary(bd.buf[:positionSize]); err != nil {
			return err
		}
		bd.skip(positionSize)
	}
	return nil
}

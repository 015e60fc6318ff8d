// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	magicNative  = 0x00D6B7ED
	magicSwapped = 0xEDB7D600

	blockHeaderSize = 56
	traceHeaderSize = 68
	eventHeaderSize = 6
)

var (
	// ErrBadMagic is returned when a tracefile's magic number
	// matches neither byte order.
	ErrBadMagic = errors.New("bad tracefile magic number")

	// ErrTruncated is returned when a tracefile is too small to
	// hold its headers or its declared blocks.
	ErrTruncated = errors.New("truncated tracefile")
)

// A BlockTime is a block boundary as both wall time and cycle count.
type BlockTime struct {
	Timestamp Time
	Cycles    uint64
	Freq      uint64
}

// A Block is the decoded header of one tracefile block.
type Block struct {
	Index      int
	Begin, End BlockTime

	// LostSize is the number of unused bytes at the end of the
	// block.
	LostSize uint32

	// BufSize is the size of the block in bytes.
	BufSize uint32

	nsPerCycle float64
}

func decodeBlockHeader(b []byte, order binary.ByteOrder) (Block, error) {
	bd := bufDecoder{buf: b, order: order}
	var blk Block
	blk.Begin = BlockTime{Time(bd.u64()), bd.u64(), bd.u64()}
	blk.End = BlockTime{Time(bd.u64()), bd.u64(), bd.u64()}
	blk.LostSize = bd.u32()
	blk.BufSize = bd.u32()
	if bd.err != nil {
		return blk, fmt.Errorf("%w: block header: %v", ErrTruncated, bd.err)
	}
	blk.nsPerCycle = blk.computeNsPerCycle()
	return blk, nil
}

// computeNsPerCycle returns the slope used to convert cycle counts in
// this block to nanoseconds.
func (b *Block) computeNsPerCycle() float64 {
	if b.End.Cycles > b.Begin.Cycles && b.End.Timestamp >= b.Begin.Timestamp {
		return float64(b.End.Timestamp-b.Begin.Timestamp) / float64(b.End.Cycles-b.Begin.Cycles)
	}
	if b.Begin.Freq != 0 {
		return 1e9 / float64(b.Begin.Freq)
	}
	return 1
}

// Time converts a cycle count within this block to a timestamp.
func (b *Block) Time(tsc uint64) Time {
	delta := float64(int64(tsc - b.Begin.Cycles))
	t := float64(b.Begin.Timestamp) + delta*b.nsPerCycle
	if t < 0 {
		return 0
	}
	return Time(t + 0.5)
}

// A TraceHeader is the header that follows the first block header of
// every tracefile.
type TraceHeader struct {
	Magic          uint32
	ArchType       uint32
	ArchVariant    uint32
	FloatWordOrder uint32
	ArchSize       uint8
	Major, Minor   uint8
	FlightRecorder bool
	HasHeartbeat   bool
	Alignment      uint8
	HasTSC         bool
	FreqScale      uint32
	StartFreq      uint64
	StartTSC       uint64
	StartMonotonic uint64
	StartTime      time.Time
}

// decodeTraceHeader decodes the trace header in b and returns the
// byte order its magic number selects.
func decodeTraceHeader(b []byte) (TraceHeader, binary.ByteOrder, error) {
	var hdr TraceHeader
	if len(b) < traceHeaderSize {
		return hdr, nil, fmt.Errorf("%w: trace header needs %d bytes, have %d", ErrTruncated, traceHeaderSize, len(b))
	}
	var order binary.ByteOrder
	switch m := binary.LittleEndian.Uint32(b); m {
	case magicNative:
		order = binary.LittleEndian
	case magicSwapped:
		order = binary.BigEndian
	default:
		return hdr, nil, fmt.Errorf("%w %#08x", ErrBadMagic, m)
	}
	bd := bufDecoder{buf: b, order: order}
	hdr.Magic = bd.u32()
	hdr.ArchType = bd.u32()
	hdr.ArchVariant = bd.u32()
	hdr.FloatWordOrder = bd.u32()
	hdr.ArchSize = bd.u8()
	hdr.Major = bd.u8()
	hdr.Minor = bd.u8()
	hdr.FlightRecorder = bd.u8() != 0
	hdr.HasHeartbeat = bd.u8() != 0
	hdr.Alignment = bd.u8()
	hdr.HasTSC = bd.u8() != 0
	bd.skip(1)
	hdr.FreqScale = bd.u32()
	hdr.StartFreq = bd.u64()
	hdr.StartTSC = bd.u64()
	hdr.StartMonotonic = bd.u64()
	sec, nsec := bd.u64(), bd.u64()
	if bd.err != nil {
		return hdr, nil, bd.err
	}
	hdr.StartTime = time.Unix(int64(sec), int64(nsec)).UTC()
	return hdr, order, nil
}

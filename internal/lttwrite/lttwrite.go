// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lttwrite writes synthetic trace directories for tests.
package lttwrite

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Format constants of the trace file layout.
const (
	BlockHeaderSize = 56
	TraceHeaderSize = 68
	EventHeaderSize = 6

	MagicNative = 0x00D6B7ED
)

// Core facility event IDs.
const (
	CoreFacilityLoad = iota
	CoreFacilityUnload
	CoreStateDumpFacilityLoad
	CoreHeartbeat
	CoreHeartbeatFull
)

// Config describes the layout of a stream.
type Config struct {
	// Order is the byte order of the stream. Nil means little
	// endian.
	Order binary.ByteOrder

	// ArchSize is the width of long, pointer and size_t. Zero
	// means 8.
	ArchSize int

	// Alignment is the payload and event header alignment. Zero
	// means packed.
	Alignment int

	// HasTSC selects full TSC headers instead of deltas.
	HasTSC bool

	// BlockSize is the size of each block. Zero means 4096.
	BlockSize int

	// Freq is the cycle frequency. Zero means 1 GHz, which makes
	// event times equal to their TSC.
	Freq uint64
}

func (c Config) withDefaults() Config {
	if c.Order == nil {
		c.Order = binary.LittleEndian
	}
	if c.ArchSize == 0 {
		c.ArchSize = 8
	}
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
	if c.Freq == 0 {
		c.Freq = 1e9
	}
	return c
}

// Event is one event to write.
type Event struct {
	Facility, ID uint8
	TSC          uint64
	Payload      []byte
}

// A Stream accumulates the events of one tracefile.
type Stream struct {
	Name   string
	Config Config
	Events []Event
}

// NewStream returns an empty stream called name, such as "cpu_0".
func NewStream(name string, cfg Config) *Stream {
	return &Stream{Name: name, Config: cfg.withDefaults()}
}

// Add appends an event. Events must be added in TSC order.
func (s *Stream) Add(facility, id uint8, tsc uint64, payload []byte) *Stream {
	if n := len(s.Events); n > 0 && tsc < s.Events[n-1].TSC {
		panic(fmt.Sprintf("stream %s: TSC %d before %d", s.Name, tsc, s.Events[n-1].TSC))
	}
	s.Events = append(s.Events, Event{facility, id, tsc, payload})
	return s
}

// LoadFacility appends a core facility_load event.
func (s *Stream) LoadFacility(tsc uint64, name string, checksum uint32, id uint8) *Stream {
	c := s.Config
	p := s.Payload().String(name).U32(checksum).U32(uint32(id)).
		U32(4).U32(uint32(c.ArchSize)).U32(uint32(c.ArchSize)).U32(uint32(c.ArchSize)).
		U32(uint32(c.Alignment))
	return s.Add(0, CoreFacilityLoad, tsc, p.Bytes())
}

// Payload returns an empty payload builder using the layout of s.
func (s *Stream) Payload() *Payload {
	return &Payload{order: s.Config.Order, align: s.Config.Alignment, archSize: s.Config.ArchSize}
}

func (s *Stream) nsPer() float64 {
	return 1e9 / float64(s.Config.Freq)
}

func (s *Stream) timestamp(tsc uint64) uint64 {
	return uint64(math.Round(float64(tsc) * s.nsPer()))
}

// Bytes encodes the stream.
func (s *Stream) Bytes() []byte {
	c := s.Config
	var out []byte
	var blk []byte
	var begin, last uint64
	first := 0

	startBlock := func(tsc uint64) {
		blk = make([]byte, c.BlockSize)
		begin, last = tsc, tsc
		if out == nil {
			first = BlockHeaderSize + TraceHeaderSize
			s.putTraceHeader(blk[BlockHeaderSize:])
		} else {
			first = BlockHeaderSize
		}
	}
	used := 0
	finish := func() {
		s.putBlockHeader(blk, begin, last, uint32(c.BlockSize-used))
		out = append(out, blk...)
	}

	var start uint64
	if len(s.Events) > 0 {
		start = s.Events[0].TSC
	}
	startBlock(start)
	used = first
	for _, ev := range s.Events {
		off := alignUp(used, c.Alignment)
		if off+EventHeaderSize+len(ev.Payload) > c.BlockSize {
			finish()
			startBlock(last)
			used = first
			off = alignUp(used, c.Alignment)
			if off+EventHeaderSize+len(ev.Payload) > c.BlockSize {
				panic(fmt.Sprintf("stream %s: event of %d bytes does not fit a block", s.Name, len(ev.Payload)))
			}
		}
		var x uint64
		if c.HasTSC {
			x = ev.TSC & 0xffffffff
		} else {
			x = ev.TSC - last
			if x > math.MaxUint32 {
				panic(fmt.Sprintf("stream %s: TSC delta %d overflows", s.Name, x))
			}
		}
		c.Order.PutUint32(blk[off:], uint32(x))
		blk[off+4] = ev.Facility
		blk[off+5] = ev.ID
		copy(blk[off+EventHeaderSize:], ev.Payload)
		used = off + EventHeaderSize + len(ev.Payload)
		last = ev.TSC
	}
	finish()
	return out
}

func alignUp(off, a int) int {
	if a <= 1 {
		return off
	}
	return off + (a-off%a)%a
}

func (s *Stream) putBlockHeader(b []byte, begin, end uint64, lost uint32) {
	o := s.Config.Order
	o.PutUint64(b[0:], s.timestamp(begin))
	o.PutUint64(b[8:], begin)
	o.PutUint64(b[16:], s.Config.Freq)
	o.PutUint64(b[24:], s.timestamp(end))
	o.PutUint64(b[32:], end)
	o.PutUint64(b[40:], s.Config.Freq)
	o.PutUint32(b[48:], lost)
	o.PutUint32(b[52:], uint32(s.Config.BlockSize))
}

func (s *Stream) putTraceHeader(b []byte) {
	c := s.Config
	o := c.Order
	o.PutUint32(b[0:], MagicNative)
	o.PutUint32(b[4:], 1)  // arch type
	o.PutUint32(b[8:], 0)  // arch variant
	o.PutUint32(b[12:], 0) // float word order
	b[16] = byte(c.ArchSize)
	b[17], b[18] = 0, 8 // version
	b[19] = 0           // flight recorder
	b[20] = 0           // heartbeat
	b[21] = byte(c.Alignment)
	if c.HasTSC {
		b[22] = 1
	}
	o.PutUint32(b[24:], 1)
	o.PutUint64(b[28:], c.Freq)
	o.PutUint64(b[36:], 0)
	o.PutUint64(b[44:], 0)
	o.PutUint64(b[52:], 1700000000)
	o.PutUint64(b[60:], 0)
}

// Write writes streams into directory dir, creating it and any
// subdirectories named by the streams.
func Write(dir string, streams ...*Stream) error {
	for _, s := range streams {
		path := filepath.Join(dir, filepath.FromSlash(s.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return err
		}
		if err := os.WriteFile(path, s.Bytes(), 0o666); err != nil {
			return err
		}
	}
	return nil
}

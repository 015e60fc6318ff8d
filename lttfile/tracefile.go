// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// A Tracefile is one stream of a trace: a file of fixed-size blocks,
// of which at most one is mapped at a time.
//
// A Tracefile is an iterator over its events. Typical usage is
//
//	for tf.Next() {
//		ev := &tf.Event
//		...
//	}
//	if err := tf.Err(); err != nil { ... }
type Tracefile struct {
	// ID is the index of this tracefile in its trace.
	ID int

	// Name is the path of the stream relative to the trace
	// directory, such as "cpu_0" or "control/facilities_0".
	Name string

	// Group is Name without its CPU suffix.
	Group string

	// CPU is the CPU suffix of Name, or -1 if it has none.
	CPU int

	Header    TraceHeader
	Order     binary.ByteOrder
	BlockSize int
	NumBlocks int

	// Event is the event most recently read by Next or
	// ReadNextEvent.
	Event Event

	path string
	f    *os.File
	facs *facilityTable

	m     mapping
	block Block
	cur   int // index of the mapped block, or -1
	eof   bool

	// next is the offset of the end of the last event read. The
	// next event header starts at next, rounded up to the header
	// alignment.
	next    int
	prevTSC uint64

	// bad is the position of the first event or block that could
	// not be decoded, or nil. It is the logical end of tf: reading
	// and seeking stop there, so every pass over tf returns the
	// same events.
	bad *Position

	err error
}

// openTracefile opens the stream at path and validates its headers.
func openTracefile(path, name string) (*Tracefile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tf, err := newTracefile(f, path, name)
	if err != nil {
		f.Close()
		return nil, err
	}
	return tf, nil
}

func newTracefile(f *os.File, path, name string) (*Tracefile, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	var hdr [blockHeaderSize + traceHeaderSize]byte
	if size < int64(len(hdr)) {
		return nil, fmt.Errorf("%s: %w: %d bytes", name, ErrTruncated, size)
	}
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}
	th, order, err := decodeTraceHeader(hdr[blockHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	blk, err := decodeBlockHeader(hdr[:blockHeaderSize], order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	bs := int64(blk.BufSize)
	if bs < int64(len(hdr)) {
		return nil, fmt.Errorf("%s: %w: block size %d", name, ErrTruncated, bs)
	}
	if size < bs {
		return nil, fmt.Errorf("%s: %w: %d bytes with block size %d", name, ErrTruncated, size, bs)
	}

	tf := &Tracefile{
		Name:      name,
		CPU:       -1,
		Group:     name,
		Header:    th,
		Order:     order,
		BlockSize: int(bs),
		NumBlocks: int(size / bs),
		path:      path,
		f:         f,
		cur:       -1,
	}
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		if cpu, err := strconv.Atoi(name[i+1:]); err == nil && cpu >= 0 {
			tf.Group, tf.CPU = name[:i], cpu
		}
	}
	return tf, nil
}

// Close unmaps the current block and closes the underlying file.
func (tf *Tracefile) Close() error {
	err := tf.m.unmap()
	if tf.f != nil {
		if err2 := tf.f.Close(); err == nil {
			err = err2
		}
		tf.f = nil
	}
	return err
}

// Block returns the header of the mapped block. It is the zero Block
// if no block is mapped.
func (tf *Tracefile) Block() Block {
	return tf.block
}

// arch returns the architecture of the stream as recorded in its
// trace header, used for the core facility.
func (tf *Tracefile) arch() Arch {
	w := int(tf.Header.ArchSize)
	return Arch{
		Order:       tf.Order,
		IntSize:     4,
		LongSize:    w,
		PointerSize: w,
		SizeTSize:   w,
		Alignment:   int(tf.Header.Alignment),
	}
}

// firstEventOffset returns the block offset of the first event of
// block n.
func (tf *Tracefile) firstEventOffset(n int) int {
	if n == 0 {
		return blockHeaderSize + traceHeaderSize
	}
	return blockHeaderSize
}

// readBlockHeader reads the header of block n without mapping it.
func (tf *Tracefile) readBlockHeader(n int) (Block, error) {
	var buf [blockHeaderSize]byte
	if _, err := tf.f.ReadAt(buf[:], int64(n)*int64(tf.BlockSize)); err != nil {
		return Block{}, err
	}
	blk, err := decodeBlockHeader(buf[:], tf.Order)
	blk.Index = n
	return blk, err
}

// MapBlock unmaps the current block, maps block n, and positions the
// cursor before its first event.
func (tf *Tracefile) MapBlock(n int) error {
	if n < 0 || n >= tf.NumBlocks {
		return fmt.Errorf("%s: block %d out of range [0,%d)", tf.Name, n, tf.NumBlocks)
	}
	if tf.cur == n {
		tf.rewindBlock()
		return nil
	}
	old := tf.cur
	tf.cur = -1
	if err := tf.m.unmap(); err != nil {
		return &MapError{tf.path, old, err}
	}
	m, err := mapRegion(tf.f, int64(n)*int64(tf.BlockSize), tf.BlockSize)
	if err != nil {
		return &MapError{tf.path, n, err}
	}
	blk, err := decodeBlockHeader(m.data, tf.Order)
	if err != nil {
		m.unmap()
		return fmt.Errorf("%s: block %d: %w", tf.Name, n, err)
	}
	blk.Index = n
	if int(blk.BufSize) != tf.BlockSize || blk.LostSize > blk.BufSize ||
		int(blk.BufSize-blk.LostSize) < tf.firstEventOffset(n) {
		m.unmap()
		return fmt.Errorf("%s: block %d: %w: buf_size %d lost_size %d", tf.Name, n, ErrTruncated, blk.BufSize, blk.LostSize)
	}
	tf.m, tf.block, tf.cur = m, blk, n
	tf.rewindBlock()
	return nil
}

func (tf *Tracefile) rewindBlock() {
	tf.eof = false
	tf.next = tf.firstEventOffset(tf.cur)
	tf.prevTSC = tf.block.Begin.Cycles
}

// end returns the logical end of the mapped block.
func (tf *Tracefile) end() int {
	return int(tf.block.BufSize - tf.block.LostSize)
}

func (tf *Tracefile) headerOffset() int {
	off := tf.next
	if a := int(tf.Header.Alignment); a > 1 {
		off += (a - off%a) % a
	}
	return off
}

// ReadNextEvent decodes the event following the cursor in the mapped
// block into tf.Event. It returns false and a nil error at the end of
// the block; the caller must then map the next block.
func (tf *Tracefile) ReadNextEvent() (bool, error) {
	if tf.cur < 0 || tf.eof {
		return false, nil
	}
	end := tf.end()
	off := tf.headerOffset()
	if off+eventHeaderSize > end || tf.past(tf.cur, off) {
		return false, nil
	}
	data := tf.m.data[:end]
	bd := bufDecoder{buf: data[off:], order: tf.Order}
	x := bd.u32()
	facID, evID := bd.u8(), bd.u8()

	var tsc uint64
	if tf.Header.HasTSC {
		tsc = tf.prevTSC&^0xffffffff | uint64(x)
		if tsc < tf.prevTSC {
			tsc += 1 << 32
		}
	} else {
		tsc = tf.prevTSC + uint64(x)
	}

	pos := Position{Tracefile: tf.ID, Block: tf.cur, Offset: off, TSC: tsc}
	fac := tf.facs.lookup(facID)
	if fac == nil {
		return false, fmt.Errorf("%s: event at %v: unknown facility %d", tf.Name, pos, facID)
	}
	et := fac.Event(evID)
	if et == nil {
		return false, fmt.Errorf("%s: event at %v: facility %s has no event %d", tf.Name, pos, fac.Name, evID)
	}
	payload := data[off+eventHeaderSize:]
	size, err := et.payloadSize(pos, payload)
	if err != nil {
		return false, fmt.Errorf("%s: event %s.%s at %v: %w", tf.Name, fac.Name, et.Name, pos, err)
	}

	tf.Event = Event{
		Tracefile:  tf,
		Type:       et,
		FacilityID: facID,
		EventID:    evID,
		TSC:        tsc,
		Time:       tf.block.Time(tsc),
		Block:      tf.cur,
		Offset:     off,
		payload:    payload,
		size:       size,
	}
	tf.next = off + eventHeaderSize + size
	tf.prevTSC = tsc
	return true, nil
}

// Next reads the next event into tf.Event, mapping the following
// block when the current one is exhausted. It returns false at the
// end of the tracefile or on error.
//
// The position of an error becomes the end of tf: after a rewind,
// Next returns the events before it and then reports the end of the
// tracefile.
func (tf *Tracefile) Next() bool {
	if tf.err != nil || tf.eof {
		return false
	}
	if tf.cur < 0 {
		if tf.past(0, 0) {
			tf.eof = true
			return false
		}
		if err := tf.MapBlock(0); err != nil {
			tf.fail(0, 0, err)
			return false
		}
	}
	for {
		ok, err := tf.ReadNextEvent()
		if err != nil {
			tf.fail(tf.cur, tf.headerOffset(), err)
			return false
		}
		if ok {
			return true
		}
		n := tf.cur + 1
		if n >= tf.NumBlocks || tf.past(n, 0) {
			tf.eof = true
			return false
		}
		if err := tf.MapBlock(n); err != nil {
			tf.fail(n, 0, err)
			return false
		}
	}
}

// fail records err as the error of tf and the position of the
// failure as the end of tf.
func (tf *Tracefile) fail(block, off int, err error) {
	tf.err = err
	if !tf.past(block, off) {
		tf.bad = &Position{Tracefile: tf.ID, Block: block, Offset: off}
	}
}

// past reports whether offset off of block is at or after the end
// left by a failure.
func (tf *Tracefile) past(block, off int) bool {
	if tf.bad == nil {
		return false
	}
	return block > tf.bad.Block || block == tf.bad.Block && off >= tf.bad.Offset
}

// Err returns the first error encountered by Next.
func (tf *Tracefile) Err() error {
	return tf.err
}

// EOF reports whether Next has reached the end of the tracefile.
func (tf *Tracefile) EOF() bool {
	return tf.eof
}

// endPosition returns the position just past the last event.
func (tf *Tracefile) endPosition() Position {
	return Position{Tracefile: tf.ID, Block: tf.NumBlocks}
}

// SeekBlock positions tf before the first event of block n and
// clears any error.
func (tf *Tracefile) SeekBlock(n int) error {
	tf.facs.invalidate()
	tf.err = nil
	if n == tf.NumBlocks || tf.past(n, 0) {
		tf.eof = true
		return nil
	}
	if err := tf.MapBlock(n); err != nil {
		tf.fail(n, 0, err)
		return err
	}
	return nil
}

// SeekPosition positions tf so that the next event read is the one
// at pos. It panics if pos belongs to another tracefile.
func (tf *Tracefile) SeekPosition(pos Position) error {
	if pos.Tracefile != tf.ID {
		panic(fmt.Sprintf("seeking tracefile %d to position in tracefile %d", tf.ID, pos.Tracefile))
	}
	if err := tf.SeekBlock(pos.Block); err != nil || tf.eof {
		return err
	}
	if pos.Offset < tf.next || pos.Offset > tf.end() {
		tf.err = fmt.Errorf("%s: position %v outside block", tf.Name, pos)
		return tf.err
	}
	if pos.TSC != 0 && pos.Offset+eventHeaderSize <= tf.end() {
		// Rebuild the cursor from the recorded TSC.
		tf.next = pos.Offset
		if tf.Header.HasTSC {
			tf.prevTSC = pos.TSC
		} else {
			delta := tf.Order.Uint32(tf.m.data[pos.Offset:])
			tf.prevTSC = pos.TSC - uint64(delta)
		}
		return nil
	}
	// Scan the block for the event.
	for {
		save := tf.saveCursor()
		ok, err := tf.ReadNextEvent()
		if err != nil {
			tf.fail(tf.cur, tf.headerOffset(), err)
			return err
		}
		if !ok || tf.Event.Offset >= pos.Offset {
			tf.restoreCursor(save)
			if ok && tf.Event.Offset != pos.Offset {
				tf.err = fmt.Errorf("%s: no event at %v", tf.Name, pos)
				return tf.err
			}
			return nil
		}
	}
}

// SeekTime positions tf so that the next event read is the first
// with time at or after t.
func (tf *Tracefile) SeekTime(t Time) error {
	var herr error
	n := sort.Search(tf.NumBlocks, func(i int) bool {
		if tf.past(i, 0) {
			return true
		}
		blk, err := tf.readBlockHeader(i)
		if err != nil {
			// Nothing after an unreadable block is read.
			tf.fail(i, 0, err)
			herr = err
			return true
		}
		return blk.End.Timestamp >= t
	})
	for ; n < tf.NumBlocks && !tf.past(n, 0); n++ {
		if err := tf.SeekBlock(n); err != nil {
			return err
		}
		for {
			save := tf.saveCursor()
			ok, err := tf.ReadNextEvent()
			if err != nil {
				tf.fail(tf.cur, tf.headerOffset(), err)
				return err
			}
			if !ok {
				break
			}
			if tf.Event.Time >= t {
				tf.restoreCursor(save)
				return herr
			}
		}
	}
	if err := tf.SeekBlock(tf.NumBlocks); err != nil {
		return err
	}
	return herr
}

type cursor struct {
	next    int
	prevTSC uint64
}

func (tf *Tracefile) saveCursor() cursor {
	return cursor{tf.next, tf.prevTSC}
}

func (tf *Tracefile) restoreCursor(c cursor) {
	tf.next, tf.prevTSC = c.next, c.prevTSC
}

// Span returns the times of the first and last block boundaries of
// tf.
func (tf *Tracefile) Span() (start, end Time, err error) {
	first, err := tf.readBlockHeader(0)
	if err != nil {
		return 0, 0, err
	}
	last, err := tf.readBlockHeader(tf.NumBlocks - 1)
	if err != nil {
		return 0, 0, err
	}
	return first.Begin.Timestamp, last.End.Timestamp, nil
}

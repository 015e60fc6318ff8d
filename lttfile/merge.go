// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "fmt"

// A Merger iterates over the events of a set of traces in time order.
//
// Events with equal times are ordered by trace, then by tracefile
// ID. A tracefile that fails mid-stream ends at the failure and the
// error is logged once; the other tracefiles continue. Rewinding
// replays the events of the failed tracefile before the failure.
//
// Typical usage is
//
//	m := NewMerger(traces...)
//	for m.Next() {
//		ev := m.Event()
//		...
//	}
type Merger struct {
	Traces []*Trace

	// files holds a cursor for every tracefile, in traceset
	// order.
	files []*mergeCursor

	// heap holds the cursors with a pending event, ordered by
	// the time of that event.
	heap []*mergeCursor

	// cur is the cursor whose event was returned last. It is
	// advanced lazily so its event stays valid until the next
	// call to Next or Position.
	cur *mergeCursor
}

type mergeCursor struct {
	tf     *Tracefile
	trace  int
	done   bool
	logged bool // an error of tf was logged
}

func (c *mergeCursor) less(d *mergeCursor) bool {
	if c.tf.Event.Time != d.tf.Event.Time {
		return c.tf.Event.Time < d.tf.Event.Time
	}
	if c.trace != d.trace {
		return c.trace < d.trace
	}
	return c.tf.ID < d.tf.ID
}

// NewMerger returns a Merger positioned at the current position of
// every tracefile of traces.
func NewMerger(traces ...*Trace) *Merger {
	m := &Merger{Traces: traces}
	for i, t := range traces {
		for _, tf := range t.Tracefiles {
			m.files = append(m.files, &mergeCursor{tf: tf, trace: i})
		}
	}
	m.fill()
	return m
}

// fill reads the next event of every tracefile and rebuilds the heap.
func (m *Merger) fill() {
	m.heap, m.cur = m.heap[:0], nil
	for _, c := range m.files {
		if c.tf.f == nil {
			c.done = true
			continue
		}
		c.done = false
		if m.read(c) {
			m.heap = heapInsert(m.heap, c)
		}
	}
}

// read reads the next event of c and reports whether there is one.
func (m *Merger) read(c *mergeCursor) bool {
	if c.tf.Next() {
		return true
	}
	c.done = true
	m.check(c, c.tf.Err())
	return false
}

// check logs the first error of c's tracefile.
func (m *Merger) check(c *mergeCursor, err error) {
	if err == nil || c.logged {
		return
	}
	c.logged = true
	m.Traces[c.trace].log.WithError(err).WithField("tracefile", c.tf.Name).Error("tracefile ends at error")
}

// refresh advances the cursor of the last returned event.
func (m *Merger) refresh() {
	c := m.cur
	if c == nil {
		return
	}
	m.cur = nil
	// c is still at the root: nothing has changed the heap since
	// Next returned it.
	if m.read(c) {
		heapUpdate(m.heap, 0)
	} else {
		m.heap = heapRemove(m.heap, 0)
	}
}

// Next advances to the next event in time order. It returns false
// when every tracefile is exhausted.
func (m *Merger) Next() bool {
	m.refresh()
	if len(m.heap) == 0 {
		return false
	}
	m.cur = m.heap[0]
	return true
}

// Event returns the event most recently returned by Next.
func (m *Merger) Event() *Event {
	if m.cur == nil {
		return nil
	}
	return &m.cur.tf.Event
}

// Trace returns the index in m.Traces of the trace of the current
// event.
func (m *Merger) Trace() int {
	return m.cur.trace
}

// Peek returns the time of the event that the next call to Next will
// return, or MaxTime if there is none.
func (m *Merger) Peek() Time {
	m.refresh()
	if len(m.heap) == 0 {
		return MaxTime
	}
	return m.heap[0].tf.Event.Time
}

// Position returns the position of the event that the next call to
// Next will return. It invalidates the event returned by Event.
func (m *Merger) Position() TracesetPosition {
	p := TracesetPosition{Time: m.Peek(), Files: make([]Position, len(m.files))}
	for i, c := range m.files {
		if c.done {
			p.Files[i] = c.tf.endPosition()
		} else {
			p.Files[i] = c.tf.Event.Position()
		}
	}
	return p
}

// Seek repositions m so that the next event returned is the one at
// p. It panics if p was not taken from a Merger over the same
// tracefiles.
func (m *Merger) Seek(p TracesetPosition) {
	if len(p.Files) != len(m.files) {
		panic(fmt.Sprintf("traceset position has %d tracefiles, merger has %d", len(p.Files), len(m.files)))
	}
	for i, c := range m.files {
		if c.tf.f == nil {
			continue
		}
		m.check(c, c.tf.SeekPosition(p.Files[i]))
	}
	m.fill()
}

// SeekStart repositions m before the first event of every tracefile.
func (m *Merger) SeekStart() {
	for _, c := range m.files {
		if c.tf.f == nil {
			continue
		}
		m.check(c, c.tf.SeekBlock(0))
	}
	m.fill()
}

// SeekTime repositions m so that the next event returned is the
// first with time at or after t.
func (m *Merger) SeekTime(t Time) {
	for _, c := range m.files {
		if c.tf.f == nil {
			continue
		}
		m.check(c, c.tf.SeekTime(t))
	}
	m.fill()
}

func heapInsert(heap []*mergeCursor, c *mergeCursor) []*mergeCursor {
	heap = append(heap, c)
	heapSiftUp(heap, len(heap)-1)
	return heap
}

func heapUpdate(heap []*mergeCursor, i int) {
	if heapSiftUp(heap, i) != i {
		return
	}
	heapSiftDown(heap, i)
}

func heapRemove(heap []*mergeCursor, i int) []*mergeCursor {
	// Sift i up to the root regardless of order, then replace
	// the root with the last entry.
	for i > 0 {
		heap[(i-1)/2], heap[i] = heap[i], heap[(i-1)/2]
		i = (i - 1) / 2
	}
	heap[0], heap[len(heap)-1] = heap[len(heap)-1], heap[0]
	heap = heap[:len(heap)-1]
	heapSiftDown(heap, 0)
	return heap
}

func heapSiftUp(heap []*mergeCursor, i int) int {
	for i > 0 && heap[i].less(heap[(i-1)/2]) {
		heap[(i-1)/2], heap[i] = heap[i], heap[(i-1)/2]
		i = (i - 1) / 2
	}
	return i
}

func heapSiftDown(heap []*mergeCursor, i int) int {
	for {
		m := i
		if l := 2*i + 1; l < len(heap) && heap[l].less(heap[m]) {
			m = l
		}
		if r := 2*i + 2; r < len(heap) && heap[r].less(heap[m]) {
			m = r
		}
		if m == i {
			break
		}
		heap[i], heap[m] = heap[m], heap[i]
		i = m
	}
	return i
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"sort"

	"github.com/lttng/go-lttv/lttfile"
)

// A Checkpoint is a snapshot of the state of every trace of an
// Engine together with the read position it corresponds to.
type Checkpoint struct {
	// Time is the time of the last event applied before the
	// snapshot. Every event before Position has a time at or
	// before Time, and every event after has a time at or after
	// Time.
	Time lttfile.Time

	// Position is the position of the next event to apply.
	Position lttfile.TracesetPosition

	// Events is the number of events applied before the
	// snapshot.
	Events int

	traces []*lttfile.Trace
	states []*TraceState
}

// State returns the snapshot of trace i. It must not be modified.
func (c *Checkpoint) State(i int) *TraceState {
	return c.states[i]
}

// checkpointIndex stores checkpoints in increasing time order and
// supports lookup by time and position.
type checkpointIndex struct {
	cps []*Checkpoint
}

// add appends c if it is later than every stored checkpoint and
// reports whether it did.
func (x *checkpointIndex) add(c *Checkpoint) bool {
	if n := len(x.cps); n > 0 && c.Time <= x.cps[n-1].Time {
		return false
	}
	x.cps = append(x.cps, c)
	return true
}

// last returns the latest checkpoint, or nil.
func (x *checkpointIndex) last() *Checkpoint {
	if len(x.cps) == 0 {
		return nil
	}
	return x.cps[len(x.cps)-1]
}

// before returns the latest checkpoint with time strictly before t,
// or nil.
func (x *checkpointIndex) before(t lttfile.Time) *Checkpoint {
	i := sort.Search(len(x.cps), func(i int) bool {
		return x.cps[i].Time >= t
	})
	if i == 0 {
		return nil
	}
	return x.cps[i-1]
}

// atOrBefore returns the latest checkpoint whose position is not
// after p in any tracefile, or nil.
func (x *checkpointIndex) atOrBefore(p lttfile.TracesetPosition) *Checkpoint {
	i := sort.Search(len(x.cps), func(i int) bool {
		return x.cps[i].Position.Time > p.Time
	})
	for i--; i >= 0; i-- {
		if positionLE(x.cps[i].Position, p) {
			return x.cps[i]
		}
	}
	return nil
}

func positionLE(a, b lttfile.TracesetPosition) bool {
	for i := range a.Files {
		if a.Files[i].Compare(b.Files[i]) > 0 {
			return false
		}
	}
	return true
}

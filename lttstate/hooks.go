// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"github.com/lttng/go-lttv/lttfile"
	"golang.org/x/exp/slices"
)

// A Hook observes every event an Engine dispatches.
//
// OnEvent receives the event and the state of its trace. The state
// must not be modified, and the event is only valid during the call.
type Hook interface {
	OnEvent(ev *lttfile.Event, s *TraceState)
}

// HookFunc adapts a function to a Hook.
type HookFunc func(ev *lttfile.Event, s *TraceState)

func (f HookFunc) OnEvent(ev *lttfile.Event, s *TraceState) {
	f(ev, s)
}

// Hook priorities. Hooks run in increasing priority order, and hooks
// of equal priority in the order they were added. The state update
// itself runs at PriorityState, so hooks with a lower priority see
// the state before the event and hooks with a higher priority see it
// after.
const (
	PriorityState   = 25
	PriorityDefault = 50
)

type hookEntry struct {
	priority int
	hook     Hook
}

// stateHook applies events to the trace state.
type stateHook struct{}

func (stateHook) OnEvent(ev *lttfile.Event, s *TraceState) {
	s.Apply(ev)
}

// addHook inserts h into hooks, keeping hooks ordered by priority.
func addHook(hooks []hookEntry, priority int, h Hook) []hookEntry {
	hooks = append(hooks, hookEntry{priority, h})
	slices.SortStableFunc(hooks, func(a, b hookEntry) int {
		return a.priority - b.priority
	})
	return hooks
}

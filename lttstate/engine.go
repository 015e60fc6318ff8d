// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lttstate reconstructs the state of a traced system from
// its kernel trace events.
//
// An Engine replays the time-ordered events of one or more traces.
// For every trace it maintains a TraceState holding the processes
// with their execution stacks and the modes of CPUs, interrupt
// lines, soft IRQs, traps, and block devices. Hooks observe every
// event together with the state of its trace.
//
// The Engine periodically saves checkpoints of the whole state, so
// seeking to a time restores the closest earlier checkpoint and
// replays only the events after it.
package lttstate // import "github.com/lttng/go-lttv/lttstate"

import (
	"strconv"

	"github.com/lttng/go-lttv/lttfile"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultCheckpointInterval is the number of events between
// automatic checkpoints.
const DefaultCheckpointInterval = 50000

// Config configures an Engine.
type Config struct {
	// CheckpointInterval is the number of events between
	// automatic checkpoints. A checkpoint is also taken at the
	// end of the replay. Zero or less disables automatic
	// checkpoints.
	CheckpointInterval int

	// Logger receives engine diagnostics. If nil, the logger of
	// the first trace is used.
	Logger logrus.FieldLogger

	// Metrics, if not nil, is updated as the engine runs.
	Metrics *Metrics
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{CheckpointInterval: DefaultCheckpointInterval}
}

// An Engine replays the events of a set of traces in time order,
// maintaining the state of each trace.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	cfg    Config
	log    logrus.FieldLogger
	traces []*lttfile.Trace
	m      *lttfile.Merger
	states []*TraceState
	hooks  []hookEntry

	checkpoints checkpointIndex

	// ev is the event dispatched last, or nil.
	ev *lttfile.Event

	// events is the number of events dispatched since the start
	// of the traces and time the time of the last one.
	events int
	time   lttfile.Time

	// ended is set once the end of the traces was reached.
	ended bool
}

// NewEngine returns an engine positioned before the first event of
// traces, with every trace in its initial state.
func NewEngine(cfg Config, traces ...*lttfile.Trace) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    cfg.Logger,
		traces: traces,
		m:      lttfile.NewMerger(traces...),
	}
	if e.log == nil && len(traces) > 0 {
		e.log = traces[0].Logger()
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	for i, t := range traces {
		s := NewTraceState(t)
		s.Index = i
		s.metrics = cfg.Metrics
		e.states = append(e.states, s)
	}
	e.hooks = addHook(e.hooks, PriorityState, stateHook{})
	e.m.SeekStart()
	return e
}

// Traces returns the traces replayed by e.
func (e *Engine) Traces() []*lttfile.Trace {
	return e.traces
}

// State returns the live state of trace i.
func (e *Engine) State(i int) *TraceState {
	return e.states[i]
}

// States returns the live state of every trace.
func (e *Engine) States() []*TraceState {
	return e.states
}

// AddHook registers h to run on every dispatched event with the
// given priority. See PriorityState.
func (e *Engine) AddHook(priority int, h Hook) {
	e.hooks = addHook(e.hooks, priority, h)
}

// Next dispatches the next event to the hooks. It returns false at
// the end of the traces.
func (e *Engine) Next() bool {
	if n := e.cfg.CheckpointInterval; n > 0 && e.events > 0 && e.events%n == 0 {
		e.checkpoint()
	}
	if !e.m.Next() {
		e.ev = nil
		if !e.ended {
			e.ended = true
			if e.cfg.CheckpointInterval > 0 {
				e.checkpoint()
			}
		}
		return false
	}
	ev := e.m.Event()
	s := e.states[e.m.Trace()]
	e.ev = ev
	e.events++
	e.time = ev.Time
	for _, h := range e.hooks {
		h.hook.OnEvent(ev, s)
	}
	if m := e.cfg.Metrics; m != nil {
		m.Events.Inc()
		m.Processes.Set(float64(len(s.Processes)))
	}
	return true
}

// Event returns the event dispatched by the last call to Next, or
// nil. It is valid until the next call to a method of e.
func (e *Engine) Event() *lttfile.Event {
	return e.ev
}

// Time returns the time of the last dispatched event.
func (e *Engine) Time() lttfile.Time {
	return e.time
}

// Events returns the number of events dispatched since the start of
// the traces.
func (e *Engine) Events() int {
	return e.events
}

// Position returns the position of the next event to dispatch.
func (e *Engine) Position() lttfile.TracesetPosition {
	e.ev = nil
	return e.m.Position()
}

// ReplayUntil dispatches every event with a time before t.
func (e *Engine) ReplayUntil(t lttfile.Time) {
	for e.m.Peek() < t {
		e.Next()
	}
	e.ev = nil
}

// Run dispatches every remaining event.
func (e *Engine) Run() {
	for e.Next() {
	}
}

// Reset returns every trace to its initial state and rewinds the
// replay to the first event. Stored checkpoints are kept.
func (e *Engine) Reset() {
	for _, s := range e.states {
		s.reset()
	}
	e.m.SeekStart()
	e.ev = nil
	e.events, e.time, e.ended = 0, 0, false
}

// Save returns a checkpoint of the current state and position.
func (e *Engine) Save() *Checkpoint {
	c := &Checkpoint{
		Time:     e.time,
		Position: e.Position(),
		Events:   e.events,
		traces:   e.traces,
		states:   make([]*TraceState, len(e.states)),
	}
	for i, s := range e.states {
		c.states[i] = s.Clone()
	}
	return c
}

// Restore replaces the state of every trace with the snapshot in c
// and repositions the replay at c. It panics if c was not taken
// from an engine over the same traces.
func (e *Engine) Restore(c *Checkpoint) {
	if !slices.Equal(c.traces, e.traces) {
		panic("restoring a checkpoint of different traces")
	}
	for i, s := range e.states {
		s.restore(c.states[i])
	}
	e.m.Seek(c.Position)
	e.ev = nil
	e.events, e.time = c.Events, c.Time
	e.ended = false
}

// checkpoint stores a checkpoint of the current state, unless the
// latest stored checkpoint already covers its time.
func (e *Engine) checkpoint() {
	if e.events == 0 {
		return
	}
	if last := e.checkpoints.last(); last != nil && e.time <= last.Time {
		return
	}
	c := e.Save()
	e.checkpoints.add(c)
	e.log.WithFields(logrus.Fields{"time": c.Time, "events": c.Events}).Debug("checkpoint")
	if m := e.cfg.Metrics; m != nil {
		m.Checkpoints.Inc()
	}
}

// Checkpoints returns the stored checkpoints in increasing time
// order.
func (e *Engine) Checkpoints() []*Checkpoint {
	return e.checkpoints.cps
}

// SeekTime brings the state to the point where exactly the events
// with a time before t have been dispatched.
//
// SeekTime restores the latest checkpoint before t, or the initial
// state if there is none, and replays forward from there. If the
// replay is already past that checkpoint and before t, it continues
// from where it is.
func (e *Engine) SeekTime(t lttfile.Time) {
	c := e.checkpoints.before(t)
	var restored bool
	switch {
	case (e.events == 0 || e.time < t) && (c == nil || c.Events <= e.events):
		// Replaying forward from here is no longer than
		// replaying from c.
	case c != nil:
		e.Restore(c)
		restored = true
	default:
		e.Reset()
	}
	e.ReplayUntil(t)
	e.seeked("time", restored)
}

// SeekPosition brings the state to the point where the next event to
// dispatch is the one at p.
func (e *Engine) SeekPosition(p lttfile.TracesetPosition) {
	c := e.checkpoints.atOrBefore(p)
	restored := c != nil
	if c != nil {
		e.Restore(c)
	} else {
		e.Reset()
	}
	for {
		cur := e.m.Position()
		if cur.Equal(p) || cur.Time > p.Time || !e.Next() {
			break
		}
	}
	e.ev = nil
	e.seeked("position", restored)
}

func (e *Engine) seeked(kind string, restored bool) {
	e.log.WithFields(logrus.Fields{"kind": kind, "time": e.time, "restored": restored}).Debug("seek")
	if m := e.cfg.Metrics; m != nil {
		m.Seeks.WithLabelValues(kind, strconv.FormatBool(restored)).Inc()
	}
}

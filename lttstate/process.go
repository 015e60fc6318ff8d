// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"github.com/lttng/go-lttv/lttfile"
	"github.com/sirupsen/logrus"
)

// unnamed is the name of a process seen before its name is known.
const unnamed = "UNNAMED"

// createProcess adds a new process forked from parent, which may be
// nil. The new process starts in a system call returning from the
// fork.
func (s *TraceState) createProcess(parent *ProcessState, cpu, pid, tgid int, name string, t lttfile.Time) *ProcessState {
	p := &ProcessState{
		PID:      pid,
		TGID:     tgid,
		CPU:      cpu,
		Name:     s.intern(name),
		Creation: t,
		Stack: []ExecState{
			{Mode: ModeUserMode, Status: StatusWaitFork, Entry: t, Change: t},
			{Mode: ModeSyscall, Status: StatusWaitFork, Entry: t, Change: t},
		},
	}
	if parent != nil {
		p.PPID = parent.PID
		p.Type = parent.Type
		if len(parent.FDs) > 0 {
			p.FDs = make(map[int]string, len(parent.FDs))
			for fd, name := range parent.FDs {
				p.FDs[fd] = name
			}
		}
	}
	s.Processes[p.Key()] = p
	return p
}

// findOrCreate returns the process pid, creating a placeholder in an
// unknown mode if it has not been seen.
func (s *TraceState) findOrCreate(pid, cpu int, t lttfile.Time) *ProcessState {
	if p := s.Process(pid, cpu); p != nil {
		return p
	}
	p := s.createProcess(nil, cpu, pid, 0, unnamed, t)
	p.Stack = p.Stack[:1]
	p.Stack[0] = ExecState{Mode: ModeUnknown, Status: StatusUnnamed, Entry: t, Change: t}
	return p
}

// running returns the process running on cpu. It reports false if
// cpu is not a valid CPU number.
func (s *TraceState) running(ev *lttfile.Event) (*ProcessState, bool) {
	cpu := ev.CPU()
	if cpu < 0 || cpu >= maxResourceID {
		s.warn(ev, "event outside a CPU stream", nil)
		return nil, false
	}
	c := s.cpu(cpu)
	p := s.Processes[c.Running]
	if p == nil {
		// The running process was torn down before being
		// scheduled out.
		p = s.findOrCreate(c.Running.PID, cpu, ev.Time)
	}
	return p, true
}

// exitProcess records one teardown signal for p and removes p once
// both signals have been seen. It reports whether p was removed.
func (s *TraceState) exitProcess(p *ProcessState) bool {
	p.FreeEvents++
	if p.FreeEvents < 2 {
		return false
	}
	delete(s.Processes, p.Key())
	return true
}

// push enters a new execution frame of mode m in p. The frame
// inherits the status of the frame below.
func (s *TraceState) push(p *ProcessState, m Mode, submode string, t lttfile.Time) {
	status := p.Top().Status
	p.Stack = append(p.Stack, ExecState{
		Mode:    m,
		Submode: s.intern(submode),
		Status:  status,
		Entry:   t,
		Change:  t,
	})
}

// pop leaves the innermost frame of p, which must be of mode m. A
// mismatched mode or the last frame is logged and ignored.
func (s *TraceState) pop(ev *lttfile.Event, p *ProcessState, m Mode) {
	top := p.Top()
	if top.Mode != m {
		s.warn(ev, "different execution mode type: ignoring exit", logrus.Fields{"pid": p.PID, "mode": top.Mode, "want": m})
		return
	}
	if len(p.Stack) == 1 {
		s.warn(ev, "popping last state on stack: ignoring it", logrus.Fields{"pid": p.PID})
		return
	}
	p.Stack = p.Stack[:len(p.Stack)-1]
	p.Top().Change = ev.Time
}

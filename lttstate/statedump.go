// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"github.com/lttng/go-lttv/lttfile"
	"github.com/sirupsen/logrus"
)

// The state dump enumerates the processes, file descriptors, and
// interrupt handlers that exist when tracing starts. The mode of a
// dumped process is not trustworthy: a user process may be in user
// mode or blocked in a system call, and a kernel thread in a system
// call, trap, or interrupt. Dumped processes get a "maybe" bottom
// frame that dumpEnd resolves.

// statusOf maps the status encoding of the state dump to a Status.
func statusOf(x uint64) (Status, bool) {
	if x > uint64(StatusDead) {
		return 0, false
	}
	return Status(x), true
}

func (s *TraceState) dumpProcessState(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	ppid := int(r.Int("ppid"))
	tgid := int(r.Int("tgid"))
	name := r.String("name")
	typ := ProcessType(r.Uint("type"))
	submode := r.String("submode")
	status, ok := statusOf(r.Uint("status"))
	if !s.decoded(ev, r) {
		return
	}
	if !ok || typ > KernelThread {
		s.warn(ev, "bad state dump encoding", logrus.Fields{"pid": pid})
		return
	}
	if pid == 0 {
		// The idle processes exist from the start.
		return
	}

	if p := s.Process(pid, -1); p != nil {
		// The process was forked or scheduled in during the
		// dump. Leave its stack alone; dumpEnd fixes it up.
		p.PPID = ppid
		p.TGID = tgid
		p.Name = s.intern(name)
		p.Type = typ
		if b := p.Bottom(); b.Mode == ModeUnknown {
			if typ == KernelThread {
				b.Mode = ModeSyscall
			} else {
				b.Mode = ModeUserMode
			}
		}
		return
	}

	parent := s.Process(ppid, -1)
	p := s.createProcess(parent, -1, pid, tgid, name, ev.Time)
	p.PPID = ppid
	p.Type = typ
	mode := ModeMaybeUserMode
	if typ == KernelThread {
		mode = ModeMaybeSyscall
	}
	p.Stack = p.Stack[:1]
	p.Stack[0] = ExecState{
		Mode:    mode,
		Submode: s.intern(submode),
		Status:  status,
		Entry:   ev.Time,
		Change:  ev.Time,
	}
}

func (s *TraceState) dumpFileDescriptor(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	fd := int(r.Int("fd"))
	name := r.String("filename")
	if !s.decoded(ev, r) {
		return
	}
	s.findOrCreate(pid, ev.CPU(), ev.Time).setFD(fd, s.intern(name))
}

func (s *TraceState) dumpInterrupt(ev *lttfile.Event, r *lttfile.FieldReader) {
	irq, ok := s.resourceID(ev, r, "irq")
	if !ok {
		return
	}
	name := r.String("name")
	if !s.decoded(ev, r) {
		return
	}
	s.irq(irq).Name = s.intern(name)
}

// dumpEnd resolves the "maybe" frames left by the state dump.
func (s *TraceState) dumpEnd(ev *lttfile.Event, r *lttfile.FieldReader) {
	for _, p := range s.Processes {
		s.fixProcess(p, ev.Time)
	}
}

// fixProcess turns the "maybe" bottom frame of p into a concrete
// mode. The status reported by the dump is kept unless the dump left
// it unnamed.
func (s *TraceState) fixProcess(p *ProcessState, t lttfile.Time) {
	b := p.Bottom()
	if p.Type == KernelThread {
		if b.Mode == ModeMaybeSyscall {
			b.Mode = ModeSyscall
			if b.Status == StatusUnnamed {
				b.Status = StatusWait
			}
			b.Entry, b.Change = t, t
		}
		return
	}
	if b.Mode != ModeMaybeUserMode {
		return
	}
	b.Mode = ModeUserMode
	if b.Status == StatusUnnamed {
		b.Status = StatusRun
	}
	b.Entry, b.Change = t, t
	if len(p.Stack) == 1 {
		// Never seen entering the kernel: assume it is in a
		// system call.
		s.push(p, ModeSyscall, "", t)
		if top := p.Top(); top.Status == StatusWaitFork {
			top.Status = StatusWait
		}
	}
}

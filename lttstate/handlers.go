// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"fmt"
	"strings"

	"github.com/lttng/go-lttv/lttfile"
	"github.com/sirupsen/logrus"
)

// Kernel task states reported by sched_switch.
const (
	taskRunning = 0
	exitDead    = 32
	taskDead    = 64
)

type handler func(s *TraceState, ev *lttfile.Event, r *lttfile.FieldReader)

// handlers maps event names to their state transitions. Events are
// matched by name in any facility.
var handlers = map[string]handler{
	"sched_switch":       (*TraceState).schedSwitch,
	"sched_wakeup":       (*TraceState).schedWakeup,
	"sched_process_fork": (*TraceState).processFork,
	"sched_process_exit": (*TraceState).processExit,
	"sched_process_free": (*TraceState).processFree,
	"sched_process_exec": (*TraceState).processExec,
	"kernel_thread":      (*TraceState).kernelThread,
	"exit_syscall":       (*TraceState).syscallExit,

	"irq_handler_entry": (*TraceState).irqEntry,
	"irq_handler_exit":  (*TraceState).irqExit,
	"softirq_raise":     (*TraceState).softIRQRaise,
	"softirq_entry":     (*TraceState).softIRQEntry,
	"softirq_exit":      (*TraceState).softIRQExit,
	"trap_entry":        (*TraceState).trapEntry,
	"trap_exit":         (*TraceState).trapExit,

	"block_request_issue":    (*TraceState).bdevIssue,
	"block_request_complete": (*TraceState).bdevComplete,
	"fs_open":                (*TraceState).fsOpen,
	"fs_close":               (*TraceState).fsClose,

	"lttng_statedump_process_state":   (*TraceState).dumpProcessState,
	"lttng_statedump_file_descriptor": (*TraceState).dumpFileDescriptor,
	"lttng_statedump_interrupt":       (*TraceState).dumpInterrupt,
	"lttng_statedump_end":             (*TraceState).dumpEnd,
}

// Apply updates s with the effect of ev. Events with no effect on
// the state only advance its time.
func (s *TraceState) Apply(ev *lttfile.Event) {
	s.Time = ev.Time
	s.Events++
	name := ev.Name()
	h := handlers[name]
	if h == nil {
		if !strings.HasPrefix(name, "sys_") {
			return
		}
		h = (*TraceState).syscallEntry
	}
	h(s, ev, ev.Fields())
}

// decoded reports whether every field read through r succeeded,
// logging a warning if not.
func (s *TraceState) decoded(ev *lttfile.Event, r *lttfile.FieldReader) bool {
	if err := r.Err(); err != nil {
		s.warn(ev, "cannot decode event", logrus.Fields{"error": err})
		return false
	}
	return true
}

func (s *TraceState) schedSwitch(ev *lttfile.Event, r *lttfile.FieldReader) {
	prevPID := int(r.Int("prev_pid"))
	nextPID := int(r.Int("next_pid"))
	prevState := r.Int("prev_state")
	var comm string
	if r.Has("next_comm") {
		comm = r.String("next_comm")
	}
	if !s.decoded(ev, r) {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	cpu := ev.CPU()
	t := ev.Time

	if p.PID != prevPID {
		s.warn(ev, "scheduled out process is not the running process", logrus.Fields{"pid": p.PID, "prev_pid": prevPID})
	}
	top := p.Top()
	if p.PID == 0 && top.Mode == ModeUnknown {
		if prevPID == 0 {
			// Scheduling out the idle process at trace start:
			// it must be waiting in a system call.
			top.Mode = ModeSyscall
			top.Status = StatusWait
			top.Entry, top.Change = t, t
		}
	} else {
		switch {
		case top.Status == StatusExit:
			top.Status = StatusZombie
		case prevState == taskRunning:
			top.Status = StatusWaitCPU
		default:
			top.Status = StatusWait
		}
		top.Change = t
		if prevState == exitDead || prevState == taskDead {
			if !s.exitProcess(p) {
				top.Status = StatusDead
			}
		}
	}

	next := s.findOrCreate(nextPID, cpu, t)
	c := &s.CPUs[cpu]
	c.Running = next.Key()
	next.CPU = cpu
	top = next.Top()
	top.Status = StatusRun
	top.Change = t
	if comm != "" {
		next.Name = s.intern(comm)
	}

	if nextPID == 0 {
		c.setBase(CPUIdle)
	} else {
		c.setBase(CPUBusy)
		if top.Mode == ModeTrap {
			c.push(CPUTrap)
		}
	}
}

func (s *TraceState) schedWakeup(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	cpu := ev.CPU()
	if r.Has("target_cpu") {
		cpu = int(r.Int("target_cpu"))
	}
	if !s.decoded(ev, r) {
		return
	}
	p := s.Process(pid, cpu)
	if p == nil {
		s.warn(ev, "wakeup of unknown process", logrus.Fields{"pid": pid})
		p = s.findOrCreate(pid, cpu, ev.Time)
	}
	if top := p.Top(); top.Status == StatusWait || top.Status == StatusWaitFork {
		top.Status = StatusWaitCPU
		top.Change = ev.Time
	}
}

func (s *TraceState) processFork(ev *lttfile.Event, r *lttfile.FieldReader) {
	parentPID := int(r.Int("parent_pid"))
	childPID := int(r.Int("child_pid"))
	var childTGID int
	if r.Has("child_tgid") {
		childTGID = int(r.Int("child_tgid"))
	}
	if !s.decoded(ev, r) {
		return
	}
	cpu := ev.CPU()
	parent := s.findOrCreate(parentPID, cpu, ev.Time)
	if child := s.Process(childPID, cpu); child != nil {
		// The child was scheduled in before the fork was
		// recorded, which happens when CPU clocks are not
		// synchronized. Only fix its lineage.
		s.warn(ev, "process seen before its fork", logrus.Fields{"pid": childPID})
		child.PPID = parent.PID
		child.TGID = childTGID
		return
	}
	s.createProcess(parent, cpu, childPID, childTGID, parent.Name, ev.Time)
}

func (s *TraceState) processExit(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	if !s.decoded(ev, r) {
		return
	}
	if p := s.Process(pid, ev.CPU()); p != nil {
		top := p.Top()
		top.Status = StatusExit
		top.Change = ev.Time
	}
}

func (s *TraceState) processFree(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	if !s.decoded(ev, r) {
		return
	}
	p := s.Process(pid, ev.CPU())
	if p == nil {
		s.warn(ev, "free of unknown process", logrus.Fields{"pid": pid})
		return
	}
	s.exitProcess(p)
}

func (s *TraceState) processExec(ev *lttfile.Event, r *lttfile.FieldReader) {
	name := r.String("filename")
	if !s.decoded(ev, r) {
		return
	}
	if p, ok := s.running(ev); ok {
		p.Name = s.intern(name)
	}
}

func (s *TraceState) kernelThread(ev *lttfile.Event, r *lttfile.FieldReader) {
	pid := int(r.Int("pid"))
	if !s.decoded(ev, r) {
		return
	}
	if p := s.Process(pid, ev.CPU()); p != nil {
		p.Bottom().Mode = ModeSyscall
		p.Type = KernelThread
	}
}

func (s *TraceState) syscallEntry(ev *lttfile.Event, r *lttfile.FieldReader) {
	if p, ok := s.running(ev); ok {
		s.push(p, ModeSyscall, ev.Name(), ev.Time)
	}
}

func (s *TraceState) syscallExit(ev *lttfile.Event, r *lttfile.FieldReader) {
	if p, ok := s.running(ev); ok {
		s.pop(ev, p, ModeSyscall)
	}
}

// resourceID reads the resource number in field name and checks it
// against the table limit.
func (s *TraceState) resourceID(ev *lttfile.Event, r *lttfile.FieldReader, name string) (uint64, bool) {
	id := r.Uint(name)
	if !s.decoded(ev, r) {
		return 0, false
	}
	if id >= maxResourceID {
		s.warn(ev, "resource number out of range", logrus.Fields{name: id})
		return 0, false
	}
	return id, true
}

func (s *TraceState) irqEntry(ev *lttfile.Event, r *lttfile.FieldReader) {
	irq, ok := s.resourceID(ev, r, "irq")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	q := s.irq(irq)
	submode := q.Name
	if submode == "" {
		submode = fmt.Sprintf("irq %d", irq)
	}
	s.push(p, ModeIRQ, submode, ev.Time)
	s.CPUs[ev.CPU()].push(CPUIRQ)
	q.push(IRQBusy)
}

func (s *TraceState) irqExit(ev *lttfile.Event, r *lttfile.FieldReader) {
	irq, ok := s.resourceID(ev, r, "irq")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	s.pop(ev, p, ModeIRQ)
	s.CPUs[ev.CPU()].pop()
	s.irq(irq).pop()
}

func (s *TraceState) softIRQRaise(ev *lttfile.Event, r *lttfile.FieldReader) {
	vec, ok := s.resourceID(ev, r, "vec")
	if !ok {
		return
	}
	s.softIRQ(vec).Pending = 1
}

func (s *TraceState) softIRQEntry(ev *lttfile.Event, r *lttfile.FieldReader) {
	vec, ok := s.resourceID(ev, r, "vec")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	s.push(p, ModeSoftIRQ, fmt.Sprintf("softirq %d", vec), ev.Time)
	s.CPUs[ev.CPU()].push(CPUSoftIRQ)
	si := s.softIRQ(vec)
	if si.Pending > 0 {
		si.Pending--
	}
	si.Running++
}

func (s *TraceState) softIRQExit(ev *lttfile.Event, r *lttfile.FieldReader) {
	vec, ok := s.resourceID(ev, r, "vec")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	s.pop(ev, p, ModeSoftIRQ)
	if si := s.softIRQ(vec); si.Running > 0 {
		si.Running--
	}
	s.CPUs[ev.CPU()].pop()
}

func (s *TraceState) trapEntry(ev *lttfile.Event, r *lttfile.FieldReader) {
	trap, ok := s.resourceID(ev, r, "trap")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	s.push(p, ModeTrap, fmt.Sprintf("trap %d", trap), ev.Time)
	s.CPUs[ev.CPU()].push(CPUTrap)
	s.trap(trap).Running++
}

func (s *TraceState) trapExit(ev *lttfile.Event, r *lttfile.FieldReader) {
	trap, ok := s.resourceID(ev, r, "trap")
	if !ok {
		return
	}
	p, ok := s.running(ev)
	if !ok {
		return
	}
	s.pop(ev, p, ModeTrap)
	if t := s.trap(trap); t.Running > 0 {
		t.Running--
	}
	s.CPUs[ev.CPU()].pop()
}

func (s *TraceState) bdevIssue(ev *lttfile.Event, r *lttfile.FieldReader) {
	major, minor := uint32(r.Uint("major")), uint32(r.Uint("minor"))
	var rw uint64
	if r.Has("rw") {
		rw = r.Uint("rw")
	}
	if !s.decoded(ev, r) {
		return
	}
	m := BdevBusyReading
	if rw != 0 {
		m = BdevBusyWriting
	}
	s.bdev(major, minor).push(m)
}

func (s *TraceState) bdevComplete(ev *lttfile.Event, r *lttfile.FieldReader) {
	major, minor := uint32(r.Uint("major")), uint32(r.Uint("minor"))
	if !s.decoded(ev, r) {
		return
	}
	s.bdev(major, minor).pop()
}

func (s *TraceState) fsOpen(ev *lttfile.Event, r *lttfile.FieldReader) {
	fd := int(r.Int("fd"))
	name := r.String("filename")
	if !s.decoded(ev, r) {
		return
	}
	if p, ok := s.running(ev); ok {
		p.setFD(fd, s.intern(name))
	}
}

func (s *TraceState) fsClose(ev *lttfile.Event, r *lttfile.FieldReader) {
	fd := int(r.Int("fd"))
	if !s.decoded(ev, r) {
		return
	}
	if p, ok := s.running(ev); ok {
		delete(p.FDs, fd)
	}
}

func (p *ProcessState) setFD(fd int, name string) {
	if p.FDs == nil {
		p.FDs = make(map[int]string)
	}
	p.FDs[fd] = name
}

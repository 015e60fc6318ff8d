// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/lttng/go-lttv/lttfile"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// A Mode is the kind of execution context a process is in.
type Mode uint8

const (
	ModeUserMode Mode = iota
	ModeSyscall
	ModeTrap
	ModeIRQ
	ModeSoftIRQ
	ModeUnknown

	// ModeMaybeUserMode and ModeMaybeSyscall mark the bottom of
	// the stack of a process enumerated by the state dump before
	// its actual mode is known.
	ModeMaybeUserMode
	ModeMaybeSyscall
)

var modeNames = [...]string{
	ModeUserMode:      "user_mode",
	ModeSyscall:       "syscall",
	ModeTrap:          "trap",
	ModeIRQ:           "irq",
	ModeSoftIRQ:       "softirq",
	ModeUnknown:       "unknown",
	ModeMaybeUserMode: "maybe_user_mode",
	ModeMaybeSyscall:  "maybe_syscall",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// A Status is the scheduling status of an execution context.
type Status uint8

const (
	StatusUnnamed Status = iota
	StatusWaitFork
	StatusWaitCPU
	StatusExit
	StatusZombie
	StatusWait
	StatusRun
	StatusDead
)

var statusNames = [...]string{
	StatusUnnamed:  "unnamed",
	StatusWaitFork: "wait_fork",
	StatusWaitCPU:  "wait_cpu",
	StatusExit:     "exit",
	StatusZombie:   "zombie",
	StatusWait:     "wait",
	StatusRun:      "run",
	StatusDead:     "dead",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// A ProcessType distinguishes user threads from kernel threads.
type ProcessType uint8

const (
	UserThread ProcessType = iota
	KernelThread
)

func (t ProcessType) String() string {
	switch t {
	case UserThread:
		return "user_thread"
	case KernelThread:
		return "kernel_thread"
	}
	return fmt.Sprintf("ProcessType(%d)", int(t))
}

// CPUMode is the mode of a CPU.
type CPUMode uint8

const (
	CPUUnknown CPUMode = iota
	CPUIdle
	CPUBusy
	CPUIRQ
	CPUSoftIRQ
	CPUTrap
)

var cpuModeNames = [...]string{"unknown", "idle", "busy", "irq", "softirq", "trap"}

func (m CPUMode) String() string {
	if int(m) < len(cpuModeNames) {
		return cpuModeNames[m]
	}
	return fmt.Sprintf("CPUMode(%d)", int(m))
}

// IRQMode is the mode of an interrupt line.
type IRQMode uint8

const (
	IRQUnknown IRQMode = iota
	IRQIdle
	IRQBusy
)

func (m IRQMode) String() string {
	switch m {
	case IRQUnknown:
		return "unknown"
	case IRQIdle:
		return "idle"
	case IRQBusy:
		return "busy"
	}
	return fmt.Sprintf("IRQMode(%d)", int(m))
}

// BdevMode is the mode of a block device.
type BdevMode uint8

const (
	BdevUnknown BdevMode = iota
	BdevIdle
	BdevBusyReading
	BdevBusyWriting
)

func (m BdevMode) String() string {
	switch m {
	case BdevUnknown:
		return "unknown"
	case BdevIdle:
		return "idle"
	case BdevBusyReading:
		return "busy_reading"
	case BdevBusyWriting:
		return "busy_writing"
	}
	return fmt.Sprintf("BdevMode(%d)", int(m))
}

// An ExecState is one frame of a process's execution stack.
type ExecState struct {
	Mode Mode

	// Submode names the syscall, trap, or interrupt of the
	// frame, or is empty.
	Submode string

	Status Status

	// Entry is the time the frame was pushed and Change the
	// time its status last changed.
	Entry, Change lttfile.Time
}

// A ProcessKey identifies a process in a TraceState.
//
// The idle process, PID 0, exists once per CPU. Every other process
// has CPU -1 in its key.
type ProcessKey struct {
	PID, CPU int
}

func keyOf(pid, cpu int) ProcessKey {
	if pid != 0 {
		cpu = -1
	}
	return ProcessKey{pid, cpu}
}

// A ProcessState is the reconstructed state of one process.
type ProcessState struct {
	PID, TGID, PPID int

	// CPU is the CPU the process last ran on.
	CPU int

	Type ProcessType
	Name string

	// Creation is the time the process was first seen.
	Creation lttfile.Time

	// Stack is the execution stack, innermost frame last. It is
	// never empty.
	Stack []ExecState

	// FDs maps open file descriptors to file names.
	FDs map[int]string

	// FreeEvents counts the teardown signals seen so far. The
	// process is removed when both the scheduler reported it
	// dead and the kernel freed it.
	FreeEvents int
}

// Key returns the key of p in its process table.
func (p *ProcessState) Key() ProcessKey {
	return keyOf(p.PID, p.CPU)
}

// Top returns the innermost execution frame of p.
func (p *ProcessState) Top() *ExecState {
	return &p.Stack[len(p.Stack)-1]
}

// Bottom returns the outermost execution frame of p.
func (p *ProcessState) Bottom() *ExecState {
	return &p.Stack[0]
}

func (p *ProcessState) String() string {
	top := p.Top()
	return fmt.Sprintf("%d %s %v/%v", p.PID, p.Name, top.Mode, top.Status)
}

func (p *ProcessState) clone() *ProcessState {
	c := *p
	c.Stack = slices.Clone(p.Stack)
	if p.FDs != nil {
		c.FDs = make(map[int]string, len(p.FDs))
		for fd, name := range p.FDs {
			c.FDs[fd] = name
		}
	}
	return &c
}

// CPUState is the state of one CPU.
type CPUState struct {
	// Modes is the CPU's mode stack. An empty stack means the
	// mode is unknown.
	Modes []CPUMode

	// Running is the key of the process running on the CPU.
	Running ProcessKey
}

// Mode returns the current mode of c.
func (c *CPUState) Mode() CPUMode {
	if len(c.Modes) == 0 {
		return CPUUnknown
	}
	return c.Modes[len(c.Modes)-1]
}

// IRQState is the state of one interrupt line.
type IRQState struct {
	Modes []IRQMode

	// Name is the handler name reported by the state dump.
	Name string
}

// Mode returns the current mode of q.
func (q *IRQState) Mode() IRQMode {
	if len(q.Modes) == 0 {
		return IRQUnknown
	}
	return q.Modes[len(q.Modes)-1]
}

// SoftIRQState is the state of one soft IRQ vector.
type SoftIRQState struct {
	// Pending is 1 if the vector was raised and has not run
	// since. Raising is not cumulative.
	Pending int

	// Running counts CPUs executing the vector.
	Running int
}

// TrapState is the state of one trap number.
type TrapState struct {
	Running int
}

// BdevKey identifies a block device.
type BdevKey struct {
	Major, Minor uint32
}

// BdevState is the state of one block device.
type BdevState struct {
	Modes []BdevMode
}

// Mode returns the current mode of b.
func (b *BdevState) Mode() BdevMode {
	if len(b.Modes) == 0 {
		return BdevUnknown
	}
	return b.Modes[len(b.Modes)-1]
}

// maxResourceID bounds the IRQ, soft IRQ, trap, and CPU numbers the
// state grows its tables for.
const maxResourceID = 1 << 12

// A TraceState is the reconstructed state of one trace at one point
// of its replay.
//
// A TraceState is owned by the Engine replaying its trace. Hooks may
// read it but must not modify it.
type TraceState struct {
	// Index is the index of the trace in its Engine.
	Index int

	// Time is the time of the last event applied.
	Time lttfile.Time

	Processes map[ProcessKey]*ProcessState

	CPUs     []CPUState
	IRQs     []IRQState
	SoftIRQs []SoftIRQState
	Traps    []TrapState
	Bdevs    map[BdevKey]*BdevState

	// Events counts the events applied.
	Events int

	trace   *lttfile.Trace
	names   map[string]string
	log     logrus.FieldLogger
	metrics *Metrics
}

// NewTraceState returns the initial state of trace t: an idle
// process on every CPU that has a tracefile, and nothing else.
func NewTraceState(t *lttfile.Trace) *TraceState {
	s := &TraceState{
		trace: t,
		names: make(map[string]string),
		log:   t.Logger().WithField("trace", t.Path),
	}
	s.reset()
	return s
}

func (s *TraceState) reset() {
	s.Time = 0
	s.Events = 0
	s.Processes = make(map[ProcessKey]*ProcessState)
	s.CPUs = nil
	s.IRQs = nil
	s.SoftIRQs = nil
	s.Traps = nil
	s.Bdevs = make(map[BdevKey]*BdevState)
	ncpu := 0
	for _, tf := range s.trace.Tracefiles {
		if tf.CPU >= ncpu && tf.CPU < maxResourceID {
			ncpu = tf.CPU + 1
		}
	}
	for cpu := 0; cpu < ncpu; cpu++ {
		s.cpu(cpu)
	}
}

// Trace returns the trace s describes.
func (s *TraceState) Trace() *lttfile.Trace {
	return s.trace
}

// Process returns the process with the given PID, or nil. The CPU is
// only used for PID 0.
func (s *TraceState) Process(pid, cpu int) *ProcessState {
	return s.Processes[keyOf(pid, cpu)]
}

// Running returns the process running on cpu, or nil.
func (s *TraceState) Running(cpu int) *ProcessState {
	if cpu < 0 || cpu >= len(s.CPUs) {
		return nil
	}
	return s.Processes[s.CPUs[cpu].Running]
}

// SortedProcesses returns the processes of s ordered by PID, then
// CPU.
func (s *TraceState) SortedProcesses() []*ProcessState {
	ps := make([]*ProcessState, 0, len(s.Processes))
	for _, p := range s.Processes {
		ps = append(ps, p)
	}
	slices.SortFunc(ps, func(a, b *ProcessState) int {
		if a.PID != b.PID {
			return a.PID - b.PID
		}
		return a.CPU - b.CPU
	})
	return ps
}

// Clone returns a deep copy of s. The copy shares nothing mutable
// with s.
func (s *TraceState) Clone() *TraceState {
	c := *s
	c.Processes = make(map[ProcessKey]*ProcessState, len(s.Processes))
	for k, p := range s.Processes {
		c.Processes[k] = p.clone()
	}
	c.CPUs = make([]CPUState, len(s.CPUs))
	for i, cpu := range s.CPUs {
		c.CPUs[i] = CPUState{slices.Clone(cpu.Modes), cpu.Running}
	}
	c.IRQs = make([]IRQState, len(s.IRQs))
	for i, q := range s.IRQs {
		c.IRQs[i] = IRQState{slices.Clone(q.Modes), q.Name}
	}
	c.SoftIRQs = slices.Clone(s.SoftIRQs)
	c.Traps = slices.Clone(s.Traps)
	c.Bdevs = make(map[BdevKey]*BdevState, len(s.Bdevs))
	for k, b := range s.Bdevs {
		c.Bdevs[k] = &BdevState{slices.Clone(b.Modes)}
	}
	return &c
}

// restore replaces the contents of s with a deep copy of snap. The
// name table of s is kept.
func (s *TraceState) restore(snap *TraceState) {
	if snap.trace != s.trace {
		panic("restoring the state of a different trace")
	}
	c := snap.Clone()
	c.names, c.log, c.metrics = s.names, s.log, s.metrics
	*s = *c
}

// Fingerprint returns a digest of s. Equal states have equal
// fingerprints.
func (s *TraceState) Fingerprint() uint64 {
	d := xxhash.New()
	fmt.Fprintf(d, "t%d e%d\n", s.Time, s.Events)
	for _, p := range s.SortedProcesses() {
		fmt.Fprintf(d, "p%d/%d %d %d %d %d %q %d %d\n", p.PID, p.CPU, p.TGID, p.PPID, p.Type, p.FreeEvents, p.Name, p.Creation, len(p.Stack))
		for _, es := range p.Stack {
			fmt.Fprintf(d, " %d %q %d %d %d\n", es.Mode, es.Submode, es.Status, es.Entry, es.Change)
		}
		fds := make([]int, 0, len(p.FDs))
		for fd := range p.FDs {
			fds = append(fds, fd)
		}
		slices.Sort(fds)
		for _, fd := range fds {
			fmt.Fprintf(d, " fd%d %q\n", fd, p.FDs[fd])
		}
	}
	for i, cpu := range s.CPUs {
		fmt.Fprintf(d, "c%d %v %v\n", i, cpu.Modes, cpu.Running)
	}
	for i, q := range s.IRQs {
		fmt.Fprintf(d, "i%d %v %q\n", i, q.Modes, q.Name)
	}
	fmt.Fprintf(d, "s%v t%v\n", s.SoftIRQs, s.Traps)
	bdevs := make([]BdevKey, 0, len(s.Bdevs))
	for k := range s.Bdevs {
		bdevs = append(bdevs, k)
	}
	slices.SortFunc(bdevs, func(a, b BdevKey) int {
		if a.Major != b.Major {
			return cmpUint32(a.Major, b.Major)
		}
		return cmpUint32(a.Minor, b.Minor)
	})
	for _, k := range bdevs {
		fmt.Fprintf(d, "b%d:%d %v\n", k.Major, k.Minor, s.Bdevs[k].Modes)
	}
	return d.Sum64()
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// intern returns a canonical copy of name.
func (s *TraceState) intern(name string) string {
	if c, ok := s.names[name]; ok {
		return c
	}
	s.names[name] = name
	return name
}

// cpu returns the state of CPU n, growing the CPU table and creating
// the CPU's idle process as needed.
func (s *TraceState) cpu(n int) *CPUState {
	for len(s.CPUs) <= n {
		i := len(s.CPUs)
		idle := &ProcessState{
			CPU:   i,
			Type:  KernelThread,
			Name:  s.intern("swapper"),
			Stack: []ExecState{{Mode: ModeUnknown, Status: StatusUnnamed, Entry: s.Time, Change: s.Time}},
		}
		s.Processes[idle.Key()] = idle
		s.CPUs = append(s.CPUs, CPUState{Running: idle.Key()})
	}
	return &s.CPUs[n]
}

func (s *TraceState) irq(n uint64) *IRQState {
	for uint64(len(s.IRQs)) <= n {
		s.IRQs = append(s.IRQs, IRQState{})
	}
	return &s.IRQs[n]
}

func (s *TraceState) softIRQ(n uint64) *SoftIRQState {
	for uint64(len(s.SoftIRQs)) <= n {
		s.SoftIRQs = append(s.SoftIRQs, SoftIRQState{})
	}
	return &s.SoftIRQs[n]
}

func (s *TraceState) trap(n uint64) *TrapState {
	for uint64(len(s.Traps)) <= n {
		s.Traps = append(s.Traps, TrapState{})
	}
	return &s.Traps[n]
}

func (s *TraceState) bdev(major, minor uint32) *BdevState {
	k := BdevKey{major, minor}
	b := s.Bdevs[k]
	if b == nil {
		b = new(BdevState)
		s.Bdevs[k] = b
	}
	return b
}

func (c *CPUState) push(m CPUMode) { c.Modes = append(c.Modes, m) }

// setBase clears the mode stack of c down to the single mode m.
func (c *CPUState) setBase(m CPUMode) { c.Modes = append(c.Modes[:0], m) }

func (c *CPUState) pop() {
	if len(c.Modes) <= 1 {
		c.setBase(CPUUnknown)
		return
	}
	c.Modes = c.Modes[:len(c.Modes)-1]
}

func (q *IRQState) push(m IRQMode) { q.Modes = append(q.Modes, m) }

func (q *IRQState) pop() {
	if len(q.Modes) <= 1 {
		q.Modes = append(q.Modes[:0], IRQIdle)
		return
	}
	q.Modes = q.Modes[:len(q.Modes)-1]
}

func (b *BdevState) push(m BdevMode) { b.Modes = append(b.Modes, m) }

func (b *BdevState) pop() {
	if len(b.Modes) <= 1 {
		b.Modes = append(b.Modes[:0], BdevIdle)
		return
	}
	b.Modes = b.Modes[:len(b.Modes)-1]
}

// warn logs a consistency warning about ev.
func (s *TraceState) warn(ev *lttfile.Event, msg string, fields logrus.Fields) {
	l := s.log.WithFields(logrus.Fields{"time": ev.Time, "cpu": ev.CPU(), "event": ev.Name()})
	if fields != nil {
		l = l.WithFields(fields)
	}
	l.Warn(msg)
	if s.metrics != nil {
		s.metrics.Warnings.Inc()
	}
}

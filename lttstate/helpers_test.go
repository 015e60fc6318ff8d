// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/lttng/go-lttv/internal/lttwrite"
	"github.com/lttng/go-lttv/lttfile"
	"github.com/lttng/go-lttv/lttfile/facdesc"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// A builder writes a kernel trace using the built-in facilities.
type builder struct {
	t       *testing.T
	reg     *lttfile.Registry
	ids     map[string]uint8
	streams []*lttwrite.Stream
	cpus    []*lttwrite.Stream
	dump    *lttwrite.Stream
}

func newBuilder(t *testing.T, ncpu int) *builder {
	var cfg lttwrite.Config
	b := &builder{t: t, reg: facdesc.Builtin(), ids: make(map[string]uint8)}
	control := lttwrite.NewStream("control/facilities_0", cfg)
	for i, f := range b.reg.Facilities() {
		id := uint8(i + 1)
		b.ids[f.Name] = id
		control.LoadFacility(0, f.Name, f.Checksum, id)
	}
	b.dump = lttwrite.NewStream("control/processes_0", cfg)
	b.streams = append(b.streams, control, b.dump)
	for i := 0; i < ncpu; i++ {
		s := lttwrite.NewStream(fmt.Sprintf("cpu_%d", i), cfg)
		b.cpus = append(b.cpus, s)
		b.streams = append(b.streams, s)
	}
	return b
}

// add appends event name to s, filling its payload with fill.
func (b *builder) add(s *lttwrite.Stream, tsc uint64, name string, fill func(p *lttwrite.Payload)) {
	b.t.Helper()
	for _, f := range b.reg.Facilities() {
		et := f.EventByName(name)
		if et == nil {
			continue
		}
		var data []byte
		if fill != nil {
			p := s.Payload()
			fill(p)
			data = p.Bytes()
		}
		s.Add(b.ids[f.Name], et.ID, tsc, data)
		return
	}
	b.t.Fatalf("no built-in event %s", name)
}

func (b *builder) switchTo(cpu int, tsc uint64, prev, next int32, prevState int64, comm string) {
	b.add(b.cpus[cpu], tsc, "sched_switch", func(p *lttwrite.Payload) {
		p.I32(prev).I32(next).Long(prevState).String(comm)
	})
}

func (b *builder) wakeup(cpu int, tsc uint64, pid int32, target int32) {
	b.add(b.cpus[cpu], tsc, "sched_wakeup", func(p *lttwrite.Payload) { p.I32(pid).I32(target) })
}

func (b *builder) fork(cpu int, tsc uint64, parent, child int32) {
	b.add(b.cpus[cpu], tsc, "sched_process_fork", func(p *lttwrite.Payload) { p.I32(parent).I32(child).I32(child) })
}

func (b *builder) pidEvent(cpu int, tsc uint64, name string, pid int32) {
	b.add(b.cpus[cpu], tsc, name, func(p *lttwrite.Payload) { p.I32(pid) })
}

func (b *builder) syscall(cpu int, tsc uint64) {
	b.add(b.cpus[cpu], tsc, "sys_read", func(p *lttwrite.Payload) { p.I32(3).Long(100) })
}

func (b *builder) syscallExit(cpu int, tsc uint64) {
	b.add(b.cpus[cpu], tsc, "exit_syscall", func(p *lttwrite.Payload) { p.Long(0) })
}

// Encodings of the state dump enumerations.
const (
	dumpUser   = 0
	dumpKernel = 1

	dumpModeUser    = 0
	dumpModeSyscall = 1
)

func (b *builder) dumpProcess(tsc uint64, pid, ppid int32, name string, typ, mode uint32, status Status) {
	b.add(b.dump, tsc, "lttng_statedump_process_state", func(p *lttwrite.Payload) {
		p.I32(pid).I32(ppid).I32(pid).String(name).U32(typ).U32(mode).String("").U32(uint32(status))
	})
}

func (b *builder) dumpEnd(tsc uint64) {
	b.add(b.dump, tsc, "lttng_statedump_end", nil)
}

// open writes the trace and opens it. Log output is captured by the
// returned hook.
func (b *builder) open() (*lttfile.Trace, *test.Hook) {
	b.t.Helper()
	dir := b.t.TempDir()
	if err := lttwrite.Write(dir, b.streams...); err != nil {
		b.t.Fatal(err)
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	tr, err := lttfile.Open(dir, lttfile.Options{Facilities: b.reg, Logger: log})
	if err != nil {
		b.t.Fatal(err)
	}
	b.t.Cleanup(func() { tr.Close() })
	return tr, hook
}

// engine opens the trace and returns an engine replaying it.
func (b *builder) engine(interval int) (*Engine, *test.Hook) {
	b.t.Helper()
	tr, hook := b.open()
	return NewEngine(Config{CheckpointInterval: interval}, tr), hook
}

// stateOpts compares trace states field by field.
var stateOpts = cmp.Options{
	cmpopts.IgnoreUnexported(TraceState{}),
	cmpopts.EquateEmpty(),
}

func hasWarning(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			return true
		}
	}
	return false
}

func top(t *testing.T, s *TraceState, pid, cpu int) ExecState {
	t.Helper()
	p := s.Process(pid, cpu)
	if p == nil {
		t.Fatalf("no process %d", pid)
	}
	return *p.Top()
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lttng/go-lttv/internal/lttwrite"
	"github.com/lttng/go-lttv/lttfile"
)

func TestForkSwitchWakeup(t *testing.T) {
	b := newBuilder(t, 1)
	b.fork(0, 10, 7, 42)
	b.switchTo(0, 20, 7, 42, 1, "child")
	b.wakeup(0, 30, 42, 0)
	e, _ := b.engine(0)
	s := e.State(0)

	e.ReplayUntil(11)
	child := s.Process(42, 0)
	if child == nil {
		t.Fatal("child not created by fork")
	}
	want := []ExecState{
		{Mode: ModeUserMode, Status: StatusWaitFork, Entry: 10, Change: 10},
		{Mode: ModeSyscall, Status: StatusWaitFork, Entry: 10, Change: 10},
	}
	if diff := cmp.Diff(want, child.Stack); diff != "" {
		t.Errorf("child stack after fork (-want +got):\n%s", diff)
	}
	if child.PPID != 7 || child.TGID != 42 || child.Name != s.Process(7, 0).Name {
		t.Errorf("child = %+v", child)
	}

	e.ReplayUntil(21)
	if got := top(t, s, 42, 0); got.Status != StatusRun {
		t.Errorf("after switch: status %v, want run", got.Status)
	}
	if s.Running(0).PID != 42 || s.Process(42, 0).Name != "child" {
		t.Errorf("running %v", s.Running(0))
	}
	if m := s.CPUs[0].Mode(); m != CPUBusy {
		t.Errorf("cpu mode %v, want busy", m)
	}

	// A wakeup of a running process changes nothing.
	e.Run()
	if got := top(t, s, 42, 0); got.Status != StatusRun || got.Change != 20 {
		t.Errorf("after wakeup: %+v, want run since 20", got)
	}
}

func TestIdlePerCPU(t *testing.T) {
	b := newBuilder(t, 2)
	b.switchTo(0, 10, 0, 5, 1, "a")
	b.switchTo(1, 20, 0, 6, 1, "b")
	e, _ := b.engine(0)
	s := e.State(0)

	idle0, idle1 := s.Process(0, 0), s.Process(0, 1)
	if idle0 == nil || idle1 == nil || idle0 == idle1 {
		t.Fatalf("idle processes %v and %v", idle0, idle1)
	}
	if idle0.Type != KernelThread || idle0.Top().Mode != ModeUnknown || idle0.Top().Status != StatusUnnamed {
		t.Errorf("initial idle process %+v", idle0)
	}

	e.Run()
	for cpu := 0; cpu < 2; cpu++ {
		if got := top(t, s, 0, cpu); got.Mode != ModeSyscall || got.Status != StatusWait {
			t.Errorf("idle on cpu %d: %v/%v, want syscall/wait", cpu, got.Mode, got.Status)
		}
	}
	if s.Running(0).PID != 5 || s.Running(1).PID != 6 {
		t.Errorf("running %v and %v", s.Running(0), s.Running(1))
	}
	if n := len(s.Processes); n != 4 {
		t.Errorf("%d processes, want 4", n)
	}
}

func TestIdleUnknownKept(t *testing.T) {
	// Scheduling out a process that claims not to be the idle
	// process leaves the unknown idle frame alone.
	b := newBuilder(t, 1)
	b.switchTo(0, 10, 9, 5, 1, "a")
	e, hook := b.engine(0)
	e.Run()
	if got := top(t, e.State(0), 0, 0); got.Mode != ModeUnknown {
		t.Errorf("idle mode %v, want unknown", got.Mode)
	}
	if !hasWarning(hook, "scheduled out process is not the running process") {
		t.Errorf("mismatched prev_pid not logged")
	}
}

func TestProcessLifecycle(t *testing.T) {
	for _, freeFirst := range []bool{false, true} {
		b := newBuilder(t, 1)
		b.fork(0, 10, 1, 42)
		b.switchTo(0, 20, 0, 42, 0, "child")
		b.pidEvent(0, 30, "sched_process_exit", 42)
		if freeFirst {
			b.pidEvent(0, 40, "sched_process_free", 42)
			b.switchTo(0, 50, 42, 0, 64, "swapper")
		} else {
			b.switchTo(0, 40, 42, 0, 64, "swapper")
			b.pidEvent(0, 50, "sched_process_free", 42)
		}
		b.syscall(0, 60)
		e, _ := b.engine(0)

		var seen []bool
		e.AddHook(PriorityState-1, HookFunc(func(ev *lttfile.Event, s *TraceState) {
			if ev.Time > 0 {
				seen = append(seen, s.Process(42, 0) != nil)
			}
		}))
		e.Run()

		want := []bool{false, true, true, true, true, false}
		if diff := cmp.Diff(want, seen); diff != "" {
			t.Errorf("freeFirst=%v: process 42 visible before each event (-want +got):\n%s", freeFirst, diff)
		}
	}
}

func TestDeadBeforeFree(t *testing.T) {
	b := newBuilder(t, 1)
	b.fork(0, 10, 1, 42)
	b.switchTo(0, 20, 0, 42, 0, "child")
	b.pidEvent(0, 30, "sched_process_exit", 42)
	b.switchTo(0, 40, 42, 0, 32, "swapper")
	e, _ := b.engine(0)
	e.Run()
	p := e.State(0).Process(42, 0)
	if p == nil {
		t.Fatal("process removed after one teardown signal")
	}
	if p.Top().Status != StatusDead || p.FreeEvents != 1 {
		t.Errorf("process %v with %d free events, want dead with 1", p, p.FreeEvents)
	}
	if m := e.State(0).CPUs[0].Mode(); m != CPUIdle {
		t.Errorf("cpu mode %v, want idle", m)
	}
}

func TestExitBecomesZombie(t *testing.T) {
	b := newBuilder(t, 1)
	b.switchTo(0, 10, 0, 42, 0, "p")
	b.pidEvent(0, 20, "sched_process_exit", 42)
	b.switchTo(0, 30, 42, 0, 16, "swapper")
	e, _ := b.engine(0)
	e.Run()
	if got := top(t, e.State(0), 42, 0); got.Status != StatusZombie {
		t.Errorf("status %v, want zombie", got.Status)
	}
}

func TestFreeUnknown(t *testing.T) {
	b := newBuilder(t, 1)
	b.pidEvent(0, 10, "sched_process_free", 99)
	b.wakeup(0, 20, 77, 0)
	e, hook := b.engine(0)
	e.Run()
	s := e.State(0)
	if s.Process(99, 0) != nil {
		t.Errorf("free created process 99")
	}
	if !hasWarning(hook, "free of unknown process") {
		t.Errorf("free of unknown process not logged")
	}
	p := s.Process(77, 0)
	if p == nil || p.Name != "UNNAMED" || p.Top().Mode != ModeUnknown || p.Top().Status != StatusUnnamed || len(p.Stack) != 1 {
		t.Errorf("placeholder for woken process = %+v", p)
	}
	if !hasWarning(hook, "wakeup of unknown process") {
		t.Errorf("wakeup of unknown process not logged")
	}
}

func TestForkOfExistingProcess(t *testing.T) {
	b := newBuilder(t, 2)
	b.switchTo(1, 10, 0, 42, 0, "early")
	b.fork(0, 20, 7, 42)
	e, hook := b.engine(0)
	e.Run()
	p := e.State(0).Process(42, 0)
	if p.PPID != 7 || p.TGID != 42 || p.Name != "early" || p.Top().Status != StatusRun {
		t.Errorf("repaired child = %+v", p)
	}
	if !hasWarning(hook, "process seen before its fork") {
		t.Errorf("early child not logged")
	}
}

func TestSyscallStack(t *testing.T) {
	b := newBuilder(t, 1)
	b.switchTo(0, 10, 0, 42, 0, "p")
	b.syscall(0, 20)
	b.syscall(0, 30)
	b.syscallExit(0, 40)
	e, _ := b.engine(0)
	e.Run()
	p := e.State(0).Process(42, 0)
	if len(p.Stack) != 2 {
		t.Fatalf("stack %+v, want two frames", p.Stack)
	}
	if got := p.Top(); got.Mode != ModeSyscall || got.Submode != "sys_read" || got.Status != StatusRun || got.Entry != 20 || got.Change != 40 {
		t.Errorf("top frame %+v", got)
	}
}

func TestPopWarnings(t *testing.T) {
	b := newBuilder(t, 1)
	b.switchTo(0, 10, 0, 42, 0, "p")
	// The placeholder for 42 is in an unknown mode.
	b.syscallExit(0, 20)
	b.add(b.cpus[0], 30, "kernel_thread", func(p *lttwrite.Payload) { p.I32(42).Long(0xffff0000) })
	// Now 42 has a lone system call frame.
	b.syscallExit(0, 40)
	e, hook := b.engine(0)
	e.Run()
	if !hasWarning(hook, "different execution mode type: ignoring exit") {
		t.Errorf("mismatched pop not logged")
	}
	if !hasWarning(hook, "popping last state on stack: ignoring it") {
		t.Errorf("pop of last frame not logged")
	}
	p := e.State(0).Process(42, 0)
	if len(p.Stack) != 1 || p.Type != KernelThread || p.Top().Mode != ModeSyscall {
		t.Errorf("kernel thread = %+v", p)
	}
}

func TestInterrupts(t *testing.T) {
	b := newBuilder(t, 1)
	cpu := b.cpus[0]
	irq := func(tsc uint64, name string, n uint32) {
		b.add(cpu, tsc, name, func(p *lttwrite.Payload) {
			p.U32(n)
			if name == "irq_handler_entry" {
				p.U8(1)
			}
		})
	}
	trap := func(tsc uint64, name string, n int64) {
		b.add(cpu, tsc, name, func(p *lttwrite.Payload) {
			p.Long(n)
			if name == "trap_entry" {
				p.Long(0x1000)
			}
		})
	}
	b.add(b.dump, 5, "lttng_statedump_interrupt", func(p *lttwrite.Payload) {
		p.U32(9).String("acpi").U8(1).String("acpi_irq")
	})
	b.switchTo(0, 10, 0, 42, 0, "p")
	irq(20, "irq_handler_entry", 9)
	irq(30, "softirq_raise", 3)
	irq(31, "softirq_raise", 3)
	irq(40, "irq_handler_exit", 9)
	irq(50, "softirq_entry", 3)
	trap(60, "trap_entry", 14)
	e, _ := b.engine(0)
	s := e.State(0)

	e.ReplayUntil(21)
	if got := top(t, s, 42, 0); got.Mode != ModeIRQ || got.Submode != "acpi" {
		t.Errorf("in irq: top frame %+v", got)
	}
	if s.CPUs[0].Mode() != CPUIRQ || s.IRQs[9].Mode() != IRQBusy {
		t.Errorf("in irq: cpu %v irq %v", s.CPUs[0].Mode(), s.IRQs[9].Mode())
	}
	e.ReplayUntil(32)
	if si := s.SoftIRQs[3]; si.Pending != 1 || si.Running != 0 {
		t.Errorf("after two raises: %+v, want pending 1", si)
	}
	e.ReplayUntil(41)
	if got := top(t, s, 42, 0); got.Mode != ModeUnknown {
		t.Errorf("after irq exit: top mode %v", got.Mode)
	}
	if s.CPUs[0].Mode() != CPUBusy || s.IRQs[9].Mode() != IRQIdle {
		t.Errorf("after irq exit: cpu %v irq %v", s.CPUs[0].Mode(), s.IRQs[9].Mode())
	}
	e.ReplayUntil(51)
	if si := s.SoftIRQs[3]; si.Pending != 0 || si.Running != 1 {
		t.Errorf("in softirq: %+v", si)
	}
	e.Run()
	if got := top(t, s, 42, 0); got.Mode != ModeTrap || got.Submode != "trap 14" {
		t.Errorf("in trap: top frame %+v", got)
	}
	if s.CPUs[0].Mode() != CPUTrap || s.Traps[14].Running != 1 {
		t.Errorf("in trap: cpu %v trap %+v", s.CPUs[0].Mode(), s.Traps[14])
	}
	wantCPU := []CPUMode{CPUBusy, CPUSoftIRQ, CPUTrap}
	if diff := cmp.Diff(wantCPU, s.CPUs[0].Modes); diff != "" {
		t.Errorf("cpu mode stack (-want +got):\n%s", diff)
	}
}

func TestFilesAndBlockDevices(t *testing.T) {
	b := newBuilder(t, 1)
	cpu := b.cpus[0]
	b.add(b.dump, 5, "lttng_statedump_file_descriptor", func(p *lttwrite.Payload) {
		p.I32(42).I32(0).String("/dev/null")
	})
	b.switchTo(0, 10, 0, 42, 0, "p")
	b.add(cpu, 20, "fs_open", func(p *lttwrite.Payload) { p.I32(3).String("/etc/passwd") })
	b.add(cpu, 30, "fs_close", func(p *lttwrite.Payload) { p.I32(0) })
	b.add(cpu, 40, "block_request_issue", func(p *lttwrite.Payload) { p.U32(8).U32(1).U64(2048).U8(1) })
	b.add(cpu, 50, "block_request_issue", func(p *lttwrite.Payload) { p.U32(8).U32(1).U64(4096).U8(0) })
	b.add(cpu, 60, "block_request_complete", func(p *lttwrite.Payload) { p.U32(8).U32(1).U64(4096) })
	b.fork(0, 70, 42, 43)
	e, _ := b.engine(0)
	e.Run()
	s := e.State(0)
	if diff := cmp.Diff(map[int]string{3: "/etc/passwd"}, s.Process(42, 0).FDs); diff != "" {
		t.Errorf("fd table (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]string{3: "/etc/passwd"}, s.Process(43, 0).FDs); diff != "" {
		t.Errorf("forked fd table (-want +got):\n%s", diff)
	}
	bd := s.Bdevs[BdevKey{8, 1}]
	if bd == nil || bd.Mode() != BdevBusyWriting || len(bd.Modes) != 1 {
		t.Errorf("block device = %+v", bd)
	}
}

func TestExec(t *testing.T) {
	b := newBuilder(t, 1)
	b.switchTo(0, 10, 0, 42, 0, "sh")
	b.add(b.cpus[0], 20, "sched_process_exec", func(p *lttwrite.Payload) { p.String("/bin/ls") })
	e, _ := b.engine(0)
	e.Run()
	if p := e.State(0).Process(42, 0); p.Name != "/bin/ls" {
		t.Errorf("name after exec %q", p.Name)
	}
}

func TestStateDump(t *testing.T) {
	b := newBuilder(t, 1)
	b.wakeup(0, 5, 300, 0)
	b.dumpProcess(10, 0, 0, "swapper", dumpKernel, dumpModeSyscall, StatusRun)
	b.dumpProcess(11, 100, 1, "bash", dumpUser, dumpModeUser, StatusWait)
	b.dumpProcess(12, 200, 2, "kworker", dumpKernel, dumpModeSyscall, StatusUnnamed)
	b.dumpProcess(13, 300, 1, "cron", dumpKernel, dumpModeSyscall, StatusWait)
	b.dumpProcess(14, 400, 1, "forked", dumpUser, dumpModeUser, StatusWaitFork)
	b.dumpProcess(15, 500, 2, "ksoftirqd", dumpKernel, dumpModeSyscall, StatusRun)
	b.dumpProcess(16, 600, 1, "cupsd", dumpUser, dumpModeUser, StatusUnnamed)
	b.dumpEnd(20)
	e, _ := b.engine(0)
	s := e.State(0)

	// Stop just before the end of the dump.
	e.ReplayUntil(20)
	if got := s.Process(100, 0).Bottom().Mode; got != ModeMaybeUserMode {
		t.Errorf("user process bottom mode %v, want maybe_user_mode", got)
	}
	if got := s.Process(200, 0).Bottom().Mode; got != ModeMaybeSyscall {
		t.Errorf("kernel thread bottom mode %v, want maybe_syscall", got)
	}
	if p := s.Process(300, 0); p.Name != "cron" || p.PPID != 1 || p.Type != KernelThread || p.Bottom().Mode != ModeSyscall {
		t.Errorf("placeholder after dump = %+v", p)
	}
	if s.Process(0, 0).Name != "swapper" || s.Process(0, 0).Top().Mode != ModeUnknown {
		t.Errorf("idle process changed by the dump: %+v", s.Process(0, 0))
	}

	// The end of the dump fixes the modes and keeps the dumped
	// status unless it is unnamed.
	e.Run()
	want := map[int][]ExecState{
		100: {
			{Mode: ModeUserMode, Status: StatusWait, Entry: 20, Change: 20},
			{Mode: ModeSyscall, Status: StatusWait, Entry: 20, Change: 20},
		},
		200: {
			{Mode: ModeSyscall, Status: StatusWait, Entry: 20, Change: 20},
		},
		300: {
			{Mode: ModeSyscall, Status: StatusUnnamed, Entry: 5, Change: 5},
		},
		400: {
			{Mode: ModeUserMode, Status: StatusWaitFork, Entry: 20, Change: 20},
			{Mode: ModeSyscall, Status: StatusWait, Entry: 20, Change: 20},
		},
		500: {
			{Mode: ModeSyscall, Status: StatusRun, Entry: 20, Change: 20},
		},
		600: {
			{Mode: ModeUserMode, Status: StatusRun, Entry: 20, Change: 20},
			{Mode: ModeSyscall, Status: StatusRun, Entry: 20, Change: 20},
		},
	}
	for pid, stack := range want {
		if diff := cmp.Diff(stack, s.Process(pid, 0).Stack); diff != "" {
			t.Errorf("process %d stack (-want +got):\n%s", pid, diff)
		}
	}
}

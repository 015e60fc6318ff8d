// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lttng/go-lttv/internal/lttwrite"
	"github.com/lttng/go-lttv/lttfile"
	"github.com/lttng/go-lttv/lttfile/facdesc"
	"github.com/spf13/pflag"
)

// writeTrace writes a one-CPU trace in which process 42 is scheduled
// in and makes a system call.
func writeTrace(t *testing.T) string {
	t.Helper()
	var cfg lttwrite.Config
	reg := facdesc.Builtin()
	ids := make(map[string]uint8)
	control := lttwrite.NewStream("control/facilities_0", cfg)
	for i, f := range reg.Facilities() {
		ids[f.Name] = uint8(i + 1)
		control.LoadFacility(0, f.Name, f.Checksum, uint8(i+1))
	}
	cpu := lttwrite.NewStream("cpu_0", cfg)
	add := func(tsc uint64, name string, fill func(p *lttwrite.Payload)) {
		for _, f := range reg.Facilities() {
			if et := f.EventByName(name); et != nil {
				p := cpu.Payload()
				fill(p)
				cpu.Add(ids[f.Name], et.ID, tsc, p.Bytes())
				return
			}
		}
		t.Fatalf("no event %s", name)
	}
	add(100, "sched_switch", func(p *lttwrite.Payload) { p.I32(0).I32(42).Long(1).String("worker") })
	add(200, "sys_read", func(p *lttwrite.Payload) { p.I32(3).Long(10) })
	add(300, "exit_syscall", func(p *lttwrite.Payload) { p.Long(10) })
	add(400, "sched_switch", func(p *lttwrite.Payload) { p.I32(42).I32(0).Long(1).String("swapper") })

	dir := t.TempDir()
	if err := lttwrite.Write(dir, control, cpu); err != nil {
		t.Fatal(err)
	}
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOutput(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("lttv %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := writeTrace(t)
	for _, test := range []struct {
		args []string
		want []string
	}{
		{[]string{"info", "--count", dir}, []string{"cpu_0", "sched(", "4"}},
		{[]string{"dump", dir}, []string{"sched_switch", `next_comm="worker"`, "sys_read"}},
		{[]string{"dump", "--start", "0.000000250", dir}, []string{"exit_syscall"}},
		{[]string{"state", "--time", "0.000000250", dir}, []string{"worker", "sys_read", "run"}},
		{[]string{"summary", dir}, []string{"worker"}},
		{[]string{"verify", "--checkpoint-interval", "2", "--points", "10", dir}, []string{"10 seeks match replay"}},
	} {
		out := run(t, test.args...)
		for _, want := range test.want {
			if !strings.Contains(out, want) {
				t.Errorf("lttv %s: output does not contain %q:\n%s", strings.Join(test.args, " "), want, out)
			}
		}
	}
}

func TestDumpStartSkips(t *testing.T) {
	dir := writeTrace(t)
	out := run(t, "dump", "--start", "0.000000250", dir)
	if strings.Contains(out, "sys_read") {
		t.Errorf("dump from 250ns printed an earlier event:\n%s", out)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lttv.yaml")
	conf := "checkpoint-interval: 7\nlog-level: debug\ncpus: 0-2\n"
	if err := os.WriteFile(path, []byte(conf), 0666); err != nil {
		t.Fatal(err)
	}

	var (
		interval int
		level    string
		cpus     lttfile.CPUSet
	)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&interval, "checkpoint-interval", 100, "")
	fs.StringVar(&level, "log-level", "warning", "")
	fs.Var(&cpus, "cpus", "")
	if err := fs.Parse([]string{"--log-level", "error"}); err != nil {
		t.Fatal(err)
	}
	if err := loadConfig(fs, path); err != nil {
		t.Fatal(err)
	}
	if interval != 7 {
		t.Errorf("interval %d, want 7 from the file", interval)
	}
	if level != "error" {
		t.Errorf("level %q, want %q from the command line", level, "error")
	}
	if cpus.String() != "0-2" {
		t.Errorf("cpus %v, want 0-2", cpus)
	}

	if err := os.WriteFile(path, []byte("bogus: 1\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := loadConfig(fs, path); err == nil {
		t.Errorf("unknown setting accepted")
	}
}

func TestFormatValue(t *testing.T) {
	v := []lttfile.FieldValue{
		{Name: "irq", Value: uint64(9)},
		{Name: "name", Value: "acpi"},
		{Name: "actions", Value: []any{"a", "b"}},
	}
	want := `{irq=9, name="acpi", actions=["a" "b"]}`
	if got := formatValue(v); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

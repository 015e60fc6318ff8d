// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package facdesc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lttng/go-lttv/lttfile"
)

func TestBuiltin(t *testing.T) {
	reg := Builtin()
	var got []string
	for _, f := range reg.Facilities() {
		got = append(got, f.Name)
	}
	if diff := cmp.Diff([]string{"fs", "kernel", "sched", "statedump"}, got); diff != "" {
		t.Errorf("built-in facilities mismatch (-want +got):\n%s", diff)
	}

	sched, err := reg.Resolve("sched", 0x1d3e7a90)
	if err != nil {
		t.Fatal(err)
	}
	sw := sched.EventByName("sched_switch")
	if sw == nil {
		t.Fatal("no sched_switch event")
	}
	if f := sw.Field("prev_state"); f == nil || f.Kind != lttfile.KindLong {
		t.Errorf("prev_state = %v, want a long", f)
	}

	sd, err := reg.Resolve("statedump", 0x3b9e51d2)
	if err != nil {
		t.Fatal(err)
	}
	status := sd.EventByName("lttng_statedump_process_state").Field("status")
	if status.Labels[6] != "run" {
		t.Errorf("status labels = %v", status.Labels)
	}
	actions := sd.EventByName("lttng_statedump_interrupt").Field("actions")
	if actions.Kind != lttfile.KindSequence || actions.LenField.Size != 1 || actions.Elem.Kind != lttfile.KindString {
		t.Errorf("actions = %v", actions)
	}
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
name: demo
checksum: 42
events:
  - name: first
    fields:
      - {name: n, type: uint, size: 2}
      - name: vals
        type: sequence
        element: {type: int, size: 8}
      - name: pair
        type: struct
        fields:
          - {name: a, type: pointer}
          - {name: b, type: array, length: 3, element: {type: uint, size: 1}}
  - name: second
`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "demo" || f.Checksum != 42 || len(f.Events) != 2 {
		t.Fatalf("parsed %v with %d events", f, len(f.Events))
	}
	if et := f.Event(1); et == nil || et.Name != "second" || et.ID != 1 {
		t.Errorf("event 1 = %v", et)
	}
	vals := f.EventByName("first").Field("vals")
	if vals.LenField == nil || vals.LenField.Kind != lttfile.KindUint || vals.LenField.Size != 4 {
		t.Errorf("default sequence length = %v, want a 4 byte uint", vals.LenField)
	}
	pair := f.EventByName("first").Field("pair")
	if b := pair.Member("b"); b == nil || b.Kind != lttfile.KindArray || b.Len != 3 {
		t.Errorf("pair.b = %v", b)
	}
}

func TestParseErrors(t *testing.T) {
	for name, src := range map[string]string{
		"no name":         "checksum: 1\n",
		"unknown key":     "name: x\nversion: 2\n",
		"unknown type":    "name: x\nevents:\n  - name: e\n    fields:\n      - {name: f, type: quad}\n",
		"duplicate event": "name: x\nevents:\n  - name: e\n  - name: e\n",
		"array length":    "name: x\nevents:\n  - name: e\n    fields:\n      - {name: a, type: array, element: {type: string}}\n",
		"no element":      "name: x\nevents:\n  - name: e\n    fields:\n      - {name: s, type: sequence}\n",
	} {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("%s: Parse succeeded", name)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o666); err != nil {
			t.Fatal(err)
		}
	}
	write("a.yaml", "name: a\nchecksum: 1\n")
	write("b.yml", "name: b\nchecksum: 2\n")
	write("notes.txt", "not a description")
	write(".hidden.yaml", "garbage: [")

	reg := new(lttfile.Registry)
	if err := LoadDir(reg, dir); err != nil {
		t.Fatal(err)
	}
	if len(reg.Facilities()) != 2 {
		t.Errorf("loaded %d facilities, want 2", len(reg.Facilities()))
	}
	if _, err := reg.Resolve("b", 2); err != nil {
		t.Error(err)
	}

	write("c.yaml", "name: [")
	if err := LoadDir(new(lttfile.Registry), dir); err == nil {
		t.Errorf("LoadDir with a bad description succeeded")
	}
}

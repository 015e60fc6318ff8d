// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lttng/go-lttv/internal/lttwrite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func hasLog(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestOpenTrace(t *testing.T) {
	cfg := lttwrite.Config{}
	cpu0 := lttwrite.NewStream("cpu_0", cfg)
	cpu1 := lttwrite.NewStream("cpu_1", cfg)
	ping(cpu0, 500, 1)
	ping(cpu1, 700, 2)
	tr, hook := openTest(t, facilityStream(cfg), cpu0, cpu1)

	var names []string
	for i, tf := range tr.Tracefiles {
		if tf.ID != i {
			t.Errorf("tracefile %s has ID %d, want %d", tf.Name, tf.ID, i)
		}
		names = append(names, tf.Name)
	}
	if len(names) != 3 || names[0] != "control/facilities_0" || names[1] != "cpu_0" || names[2] != "cpu_1" {
		t.Errorf("tracefiles = %v", names)
	}
	if tr.Start != 0 || tr.End != 700 {
		t.Errorf("span [%v, %v], want [0, 700]", tr.Start, tr.End)
	}
	f := tr.Facility(testFacilityID)
	if f == nil || f.Name != "test" || f.Checksum != testChecksum {
		t.Fatalf("facility %d = %v", testFacilityID, f)
	}
	if f.Arch.LongSize != 8 || f.Arch.Order != tr.Arch.Order {
		t.Errorf("facility arch = %+v", f.Arch)
	}
	if got := len(tr.Facilities()); got != 2 {
		t.Errorf("%d facilities loaded, want core and test", got)
	}
	if tr.EventType("test", "ping") == nil {
		t.Errorf("no test.ping event type")
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("unexpected log entries: %v", hook.AllEntries())
	}

	// Every tracefile is rewound after facility loading.
	tf := tracefileByName(t, tr, "control/facilities_0")
	if !tf.Next() || tf.Event.Name() != "facility_load" {
		t.Errorf("facility stream not rewound")
	}
}

func TestOpenExcludesBadTracefile(t *testing.T) {
	cfg := lttwrite.Config{}
	cpu0 := lttwrite.NewStream("cpu_0", cfg)
	ping(cpu0, 10, 1)
	dir := t.TempDir()
	if err := lttwrite.Write(dir, facilityStream(cfg), cpu0); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cpu_1"), []byte("garbage"), 0o666); err != nil {
		t.Fatal(err)
	}
	log, hook := test.NewNullLogger()
	tr, err := Open(dir, Options{Facilities: testRegistry(), Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if len(tr.Tracefiles) != 2 {
		t.Errorf("%d tracefiles, want 2", len(tr.Tracefiles))
	}
	if !hasLog(hook, logrus.ErrorLevel, "excluding tracefile") {
		t.Errorf("bad tracefile not logged")
	}
}

func TestOpenNoTracefiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cpu_0"), []byte("short"), 0o666); err != nil {
		t.Fatal(err)
	}
	log, _ := test.NewNullLogger()
	_, err := Open(dir, Options{Logger: log})
	if !errors.Is(err, ErrNoTracefiles) {
		t.Errorf("err = %v, want ErrNoTracefiles", err)
	}
}

func TestFacilityStreamWarnings(t *testing.T) {
	cfg := lttwrite.Config{}
	fac := facilityStream(cfg)
	fac.LoadFacility(1, "unknown", 0x1, 2)
	ping(fac, 2, 0)
	tr, hook := openTest(t, fac)
	if !hasLog(hook, logrus.WarnLevel, "cannot load facility") {
		t.Errorf("unresolved facility not logged")
	}
	if !hasLog(hook, logrus.WarnLevel, "non-core event in facility stream") {
		t.Errorf("non-core event not logged")
	}
	if tr.Facility(2) != nil {
		t.Errorf("unresolved facility was loaded")
	}
}

func TestFacilityUnload(t *testing.T) {
	cfg := lttwrite.Config{}
	fac := facilityStream(cfg)
	fac.Add(CoreFacilityID, CoreFacilityUnload, 5, fac.Payload().U32(testFacilityID).Bytes())
	tr, _ := openTest(t, fac)
	if tr.Facility(testFacilityID) != nil {
		t.Errorf("facility still loaded after unload")
	}
}

func TestRegistry(t *testing.T) {
	r := testRegistry()
	if _, err := r.Resolve("test", testChecksum); err != nil {
		t.Errorf("Resolve: %v", err)
	}
	if _, err := r.Resolve("test", testChecksum+1); !errors.Is(err, ErrFacilityNotFound) {
		t.Errorf("wrong checksum: err = %v, want ErrFacilityNotFound", err)
	}
}

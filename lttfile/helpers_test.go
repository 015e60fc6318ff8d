// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"testing"

	"github.com/lttng/go-lttv/internal/lttwrite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	testFacilityID = 1
	testChecksum   = 0xabcd1234
)

// Event IDs of the test facility.
const (
	evPing = iota
	evName
	evEmpty
)

// newTestFacility returns a facility template with a few simple
// event types.
func newTestFacility() *Facility {
	return NewFacility("test", testChecksum,
		NewEventType("ping", NewScalar("x", KindUint, 4)),
		NewEventType("name", NewString("s"), NewScalar("n", KindInt, 4)),
		NewEventType("empty"),
	)
}

func testRegistry() *Registry {
	r := new(Registry)
	r.Add(newTestFacility())
	return r
}

// facilityStream returns a control stream loading the test facility.
func facilityStream(cfg lttwrite.Config) *lttwrite.Stream {
	s := lttwrite.NewStream("control/facilities_0", cfg)
	return s.LoadFacility(0, "test", testChecksum, testFacilityID)
}

func ping(s *lttwrite.Stream, tsc uint64, x uint32) {
	s.Add(testFacilityID, evPing, tsc, s.Payload().U32(x).Bytes())
}

// openTest writes streams into a temporary trace directory and opens
// it with the test facility. Log output is captured by the returned
// hook.
func openTest(t *testing.T, streams ...*lttwrite.Stream) (*Trace, *test.Hook) {
	t.Helper()
	dir := t.TempDir()
	if err := lttwrite.Write(dir, streams...); err != nil {
		t.Fatal(err)
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	tr, err := Open(dir, Options{Facilities: testRegistry(), Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, hook
}

// tracefileByName returns the tracefile called name.
func tracefileByName(t *testing.T, tr *Trace, name string) *Tracefile {
	t.Helper()
	for _, tf := range tr.Tracefiles {
		if tf.Name == name {
			return tf
		}
	}
	t.Fatalf("no tracefile %s", name)
	return nil
}

// readAll reads the remaining events of tf, returning their
// positions and times.
func readAll(t *testing.T, tf *Tracefile) ([]Position, []Time) {
	t.Helper()
	var ps []Position
	var ts []Time
	for tf.Next() {
		ps = append(ps, tf.Event.Position())
		ts = append(ts, tf.Event.Time)
	}
	if err := tf.Err(); err != nil {
		t.Fatal(err)
	}
	return ps, ts
}

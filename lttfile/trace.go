// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// ErrNoTracefiles is returned by Open when a trace directory contains
// no valid tracefile.
var ErrNoTracefiles = errors.New("not a valid trace: no readable tracefiles")

// facilitiesGroup is the group of the streams that carry facility
// load events.
const facilitiesGroup = "control/facilities"

// Options configures Open.
type Options struct {
	// Facilities resolves the facilities named by facility load
	// events.
	Facilities FacilityResolver

	// Logger receives consistency warnings and the errors that
	// exclude tracefiles. If nil, the logrus standard logger is
	// used.
	Logger logrus.FieldLogger
}

// A Trace is a directory of tracefiles recorded together, with the
// facilities they use.
type Trace struct {
	Path string

	// Tracefiles are the valid streams of the trace ordered by
	// name. Tracefiles[i].ID is i.
	Tracefiles []*Tracefile

	// Arch is the architecture recorded in the trace headers.
	Arch Arch

	// Start and End bound the times of every block of the trace.
	Start, End Time

	facs *facilityTable
	log  logrus.FieldLogger
}

// Open opens the trace in directory dir.
//
// Tracefiles with format errors are logged and excluded. Open fails
// only if no tracefile is usable or the directory cannot be read.
// Facility load events are processed before Open returns, and every
// tracefile is positioned at its first event.
func Open(dir string, opts Options) (*Trace, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Trace{Path: dir, log: log.WithField("trace", dir)}

	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	for _, name := range names {
		tf, err := openTracefile(filepath.Join(dir, filepath.FromSlash(name)), name)
		if err == nil && len(t.Tracefiles) > 0 && tf.Order != t.Tracefiles[0].Order {
			tf.Close()
			err = fmt.Errorf("%s: byte order differs from %s", name, t.Tracefiles[0].Name)
		}
		if err != nil {
			t.log.WithError(err).WithField("tracefile", name).Error("excluding tracefile")
			continue
		}
		tf.ID = len(t.Tracefiles)
		t.Tracefiles = append(t.Tracefiles, tf)
	}
	if len(t.Tracefiles) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoTracefiles)
	}

	t.Arch = t.Tracefiles[0].arch()
	t.facs = newFacilityTable(t.Arch)
	for _, tf := range t.Tracefiles {
		tf.facs = t.facs
	}

	t.loadFacilities(opts.Facilities)

	t.Start, t.End = MaxTime, 0
	for _, tf := range t.Tracefiles {
		if tf.f == nil {
			continue
		}
		start, end, err := tf.Span()
		if err == nil {
			err = tf.SeekBlock(0)
		}
		if err != nil {
			t.exclude(tf, err)
			continue
		}
		if start < t.Start {
			t.Start = start
		}
		if end > t.End {
			t.End = end
		}
	}
	t.Tracefiles = slices.DeleteFunc(t.Tracefiles, func(tf *Tracefile) bool { return tf.f == nil })
	if len(t.Tracefiles) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoTracefiles)
	}
	for i, tf := range t.Tracefiles {
		tf.ID = i
		if tf.bad != nil {
			tf.bad.Tracefile = i
		}
	}
	return t, nil
}

// exclude logs a format error for tf found while opening it and
// closes it. Closed tracefiles are dropped from the trace.
func (t *Trace) exclude(tf *Tracefile, err error) {
	t.log.WithError(err).WithField("tracefile", tf.Name).Error("excluding tracefile")
	tf.Close()
	tf.err = err
}

// loadFacilities reads every facility load event of the control
// streams and instantiates the facilities they name.
func (t *Trace) loadFacilities(r FacilityResolver) {
	for _, tf := range t.Tracefiles {
		if tf.Group != facilitiesGroup {
			continue
		}
		for tf.Next() {
			ev := &tf.Event
			if ev.FacilityID != CoreFacilityID {
				t.log.WithFields(logrus.Fields{
					"tracefile": tf.Name,
					"facility":  ev.FacilityID,
					"time":      ev.Time,
				}).Warn("non-core event in facility stream")
				continue
			}
			switch ev.EventID {
			case CoreFacilityLoad, CoreStateDumpFacilityLoad:
				t.loadFacility(tf, ev, r)
			case CoreFacilityUnload:
				id := ev.Fields().Uint("id")
				if id != CoreFacilityID && id <= 0xff {
					delete(t.facs.byID, uint8(id))
				}
			}
		}
		if err := tf.Err(); err != nil {
			// The facilities loaded before the error stay.
			t.log.WithError(err).WithField("tracefile", tf.Name).Error("tracefile ends at error")
		}
	}
}

func (t *Trace) loadFacility(tf *Tracefile, ev *Event, r FacilityResolver) {
	log := t.log.WithFields(logrus.Fields{"tracefile": tf.Name, "time": ev.Time})
	fl, err := readFacilityLoad(ev)
	if err != nil {
		log.WithError(err).Warn("bad facility load event")
		return
	}
	log = log.WithField("facility", fmt.Sprintf("%s(%#x)", fl.name, fl.checksum))
	if r == nil {
		log.Warn("no facility resolver")
		return
	}
	tmpl, err := r.Resolve(fl.name, fl.checksum)
	if err != nil {
		log.WithError(err).Warn("cannot load facility")
		return
	}
	if old := t.facs.lookup(fl.id); old != nil {
		if old.Name == fl.name && old.Checksum == fl.checksum {
			return
		}
		log.WithField("previous", old.String()).Warn("facility ID reused")
	}
	t.facs.byID[fl.id] = tmpl.instantiate(fl.id, fl.arch)
}

// Facility returns the facility loaded with ID id, or nil.
func (t *Trace) Facility(id uint8) *Facility {
	return t.facs.lookup(id)
}

// Facilities returns the loaded facilities ordered by ID.
func (t *Trace) Facilities() []*Facility {
	out := make([]*Facility, 0, len(t.facs.byID))
	for _, f := range t.facs.byID {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *Facility) int { return int(a.ID) - int(b.ID) })
	return out
}

// EventType returns the event type called name in the facility
// called facility, or nil.
func (t *Trace) EventType(facility, name string) *EventType {
	for _, f := range t.facs.byID {
		if f.Name == facility {
			return f.EventByName(name)
		}
	}
	return nil
}

// Logger returns the logger of t.
func (t *Trace) Logger() logrus.FieldLogger {
	return t.log
}

// Close closes every tracefile of t.
func (t *Trace) Close() error {
	var err error
	for _, tf := range t.Tracefiles {
		if err2 := tf.Close(); err == nil {
			err = err2
		}
	}
	return err
}

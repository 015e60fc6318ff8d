// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// A Facility is a named, checksummed catalogue of event types.
//
// Facilities returned by a FacilityResolver are templates. Opening a
// trace instantiates a private copy of each loaded facility with the
// trace's architecture and facility ID, so field annotations are
// never shared between traces.
type Facility struct {
	Name     string
	Checksum uint32

	// ID is the facility number events refer to. It is only
	// meaningful for instantiated facilities.
	ID uint8

	// Arch is the architecture of an instantiated facility.
	Arch Arch

	Events []*EventType

	byName map[string]*EventType
}

// NewFacility returns a facility template. Event IDs are assigned in
// argument order.
func NewFacility(name string, checksum uint32, events ...*EventType) *Facility {
	f := &Facility{Name: name, Checksum: checksum, Events: events}
	for i, et := range events {
		et.ID = uint8(i)
		et.Facility = f
	}
	return f
}

// Event returns the event type with the given ID, or nil.
func (f *Facility) Event(id uint8) *EventType {
	if int(id) < len(f.Events) {
		return f.Events[id]
	}
	return nil
}

// EventByName returns the event type called name, or nil.
func (f *Facility) EventByName(name string) *EventType {
	if f.byName == nil {
		f.byName = make(map[string]*EventType, len(f.Events))
		for _, et := range f.Events {
			f.byName[et.Name] = et
		}
	}
	return f.byName[name]
}

// instantiate returns a copy of template f bound to a trace.
func (f *Facility) instantiate(id uint8, arch Arch) *Facility {
	events := make([]*EventType, len(f.Events))
	for i, et := range f.Events {
		events[i] = &EventType{Name: et.Name, Root: et.Root.clone()}
	}
	n := NewFacility(f.Name, f.Checksum, events...)
	n.ID, n.Arch = id, arch
	return n
}

func (f *Facility) String() string {
	return fmt.Sprintf("%s(%#x)", f.Name, f.Checksum)
}

// An EventType is the payload layout of one kind of event.
type EventType struct {
	Name     string
	ID       uint8
	Facility *Facility

	// Root is the payload layout, a struct, or nil if events of
	// this type have no payload.
	Root *Field

	// marker is the position of the event whose offsets are
	// stored in the cur annotations of Root.
	marker      Position
	markerValid bool
}

// NewEventType returns an event type whose payload is the given
// fields in order.
func NewEventType(name string, fields ...*Field) *EventType {
	et := &EventType{Name: name}
	if len(fields) > 0 {
		et.Root = NewStruct(name, fields...)
		et.Root.payload = true
	}
	return et
}

// Field returns the top-level payload field called name, or nil.
func (et *EventType) Field(name string) *Field {
	return et.Root.Member(name)
}

func (et *EventType) invalidate() {
	et.markerValid = false
}

// payloadSize returns the size of the payload of the event at pos,
// whose payload starts at data[0]. The cur annotations of the field
// tree are left describing this event.
func (et *EventType) payloadSize(pos Position, data []byte) (int, error) {
	if et.Root == nil {
		return 0, nil
	}
	if et.markerValid && et.marker == pos {
		return et.Root.cur.size, nil
	}
	arch := &et.Facility.Arch
	if !et.Root.fixed.known() {
		if err := arch.prepare(et.Root, 0, 0); err != nil {
			return 0, fmt.Errorf("event %s.%s: %w", et.Facility.Name, et.Name, err)
		}
	}
	et.markerValid = false
	n, err := arch.resolve(et.Root, 0, data, true)
	if err != nil {
		return 0, err
	}
	if n > len(data) {
		return 0, &DecodeError{0, n, len(data)}
	}
	et.marker, et.markerValid = pos, true
	return n, nil
}

// ErrFacilityNotFound is returned by a FacilityResolver that has no
// description for a requested facility.
var ErrFacilityNotFound = errors.New("facility not found")

// A FacilityResolver supplies facility descriptions by name and
// checksum.
type FacilityResolver interface {
	Resolve(name string, checksum uint32) (*Facility, error)
}

// A Registry is a FacilityResolver backed by an in-memory set of
// facilities.
type Registry struct {
	facs map[registryKey]*Facility
}

type registryKey struct {
	name     string
	checksum uint32
}

// Add adds facility templates to r, replacing any with the same name
// and checksum.
func (r *Registry) Add(facs ...*Facility) {
	if r.facs == nil {
		r.facs = make(map[registryKey]*Facility)
	}
	for _, f := range facs {
		r.facs[registryKey{f.Name, f.Checksum}] = f
	}
}

func (r *Registry) Resolve(name string, checksum uint32) (*Facility, error) {
	if f, ok := r.facs[registryKey{name, checksum}]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%s(%#x): %w", name, checksum, ErrFacilityNotFound)
}

// Facilities returns the facilities of r ordered by name and checksum.
func (r *Registry) Facilities() []*Facility {
	out := make([]*Facility, 0, len(r.facs))
	for _, f := range r.facs {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *Facility) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		switch {
		case a.Checksum < b.Checksum:
			return -1
		case a.Checksum > b.Checksum:
			return 1
		}
		return 0
	})
	return out
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "fmt"

// An Event is one decoded event of a tracefile.
//
// An Event refers to the mapped block it was read from. It remains
// valid until its tracefile maps another block; callers that need an
// event longer than that must copy the fields they need.
type Event struct {
	Tracefile *Tracefile
	Type      *EventType

	FacilityID, EventID uint8

	// TSC is the reconstructed 64-bit cycle counter.
	TSC  uint64
	Time Time

	// Block and Offset locate the event header.
	Block, Offset int

	// payload starts at the first payload byte and runs to the
	// logical end of the block.
	payload []byte
	size    int
}

// Position returns the position of e in its tracefile.
func (e *Event) Position() Position {
	return Position{Tracefile: e.Tracefile.ID, Block: e.Block, Offset: e.Offset, TSC: e.TSC}
}

// Name returns the name of e's event type.
func (e *Event) Name() string {
	return e.Type.Name
}

// Facility returns the facility e belongs to.
func (e *Event) Facility() *Facility {
	return e.Type.Facility
}

// CPU returns the CPU of e's tracefile.
func (e *Event) CPU() int {
	return e.Tracefile.CPU
}

// Payload returns the raw payload bytes of e.
func (e *Event) Payload() []byte {
	return e.payload[:e.size]
}

func (e *Event) String() string {
	return fmt.Sprintf("%v %s.%s@%v", e.Time, e.Type.Facility.Name, e.Type.Name, e.Position())
}

// locate returns the payload offset and size of f in e. f must be a
// node of e.Type.Root that is not inside an array or sequence
// element.
func (e *Event) locate(f *Field) (int, int, error) {
	if f == nil {
		return 0, 0, fmt.Errorf("event %s: nil field", e.Type.Name)
	}
	if n, ok := f.Fixed(); ok && f.OffsetRoot >= 0 {
		return f.OffsetRoot, n, nil
	}
	// Another event of the same type may have been resolved
	// since e was read.
	if _, err := e.Type.payloadSize(e.Position(), e.payload); err != nil {
		return 0, 0, err
	}
	return f.cur.offset, f.cur.size, nil
}

func (e *Event) arch() *Arch {
	return &e.Type.Facility.Arch
}

func (e *Event) integer(f *Field) (uint64, bool, error) {
	if !f.Kind.Primitive() || f.Kind == KindFloat {
		return 0, false, fmt.Errorf("field %q of kind %v is not an integer", f.Name, f.Kind)
	}
	off, size, err := e.locate(f)
	if err != nil {
		return 0, false, err
	}
	if f.Kind.Signed() {
		x, err := intAt(e.payload, off, size, e.arch().Order)
		return uint64(x), true, err
	}
	x, err := uintAt(e.payload, off, size, e.arch().Order)
	return x, false, err
}

// Uint returns the value of integer field f.
func (e *Event) Uint(f *Field) (uint64, error) {
	x, _, err := e.integer(f)
	return x, err
}

// Int returns the value of integer field f, sign-extended if f is
// signed.
func (e *Event) Int(f *Field) (int64, error) {
	x, _, err := e.integer(f)
	return int64(x), err
}

// Float returns the value of floating-point field f.
func (e *Event) Float(f *Field) (float64, error) {
	if f.Kind != KindFloat {
		return 0, fmt.Errorf("field %q of kind %v is not a float", f.Name, f.Kind)
	}
	off, size, err := e.locate(f)
	if err != nil {
		return 0, err
	}
	return floatAt(e.payload, off, size, e.arch().Order)
}

// StringField returns the value of string field f.
func (e *Event) StringField(f *Field) (string, error) {
	if f.Kind != KindString {
		return "", fmt.Errorf("field %q of kind %v is not a string", f.Name, f.Kind)
	}
	off, _, err := e.locate(f)
	if err != nil {
		return "", err
	}
	s, _, err := cstringAt(e.payload, off)
	return s, err
}

// Fields returns a FieldReader over the top-level payload fields of e.
func (e *Event) Fields() *FieldReader {
	return &FieldReader{ev: e}
}

// A FieldReader reads payload fields of an event by name.
//
// The first failure is kept and returned by Err; reads after a
// failure return zero values.
type FieldReader struct {
	ev  *Event
	err error
}

// Has reports whether the event has a top-level field called name.
func (r *FieldReader) Has(name string) bool {
	return r.ev.Type.Field(name) != nil
}

func (r *FieldReader) field(name string) *Field {
	if r.err != nil {
		return nil
	}
	f := r.ev.Type.Field(name)
	if f == nil {
		r.err = fmt.Errorf("event %s has no field %q", r.ev.Type.Name, name)
	}
	return f
}

// Uint returns the named integer field.
func (r *FieldReader) Uint(name string) uint64 {
	f := r.field(name)
	if f == nil {
		return 0
	}
	x, err := r.ev.Uint(f)
	if err != nil {
		r.err = err
	}
	return x
}

// Int returns the named integer field.
func (r *FieldReader) Int(name string) int64 {
	f := r.field(name)
	if f == nil {
		return 0
	}
	x, err := r.ev.Int(f)
	if err != nil {
		r.err = err
	}
	return x
}

// String returns the named string field.
func (r *FieldReader) String(name string) string {
	f := r.field(name)
	if f == nil {
		return ""
	}
	s, err := r.ev.StringField(f)
	if err != nil {
		r.err = err
	}
	return s
}

// Err returns the first error encountered by r.
func (r *FieldReader) Err() error {
	return r.err
}

// A FieldValue is one decoded struct or union member.
type FieldValue struct {
	Name  string
	Value any
}

// Decode returns the value of field f of e as a Go value.
//
// Signed integers decode to int64 and unsigned integers and pointers
// to uint64. An enum decodes to its label if it has one. Strings
// decode to string, arrays and sequences to []any, and structs and
// unions to []FieldValue.
func (e *Event) Decode(f *Field) (any, error) {
	off, _, err := e.locate(f)
	if err != nil {
		return nil, err
	}
	v, _, err := e.arch().decode(f, off, e.payload)
	return v, err
}

// DecodeAll decodes the whole payload of e. It returns nil for an
// event without payload.
func (e *Event) DecodeAll() ([]FieldValue, error) {
	if e.Type.Root == nil {
		return nil, nil
	}
	v, err := e.Decode(e.Type.Root)
	if err != nil {
		return nil, err
	}
	return v.([]FieldValue), nil
}

// decode returns the value of f at payload offset off and its size.
func (a *Arch) decode(f *Field, off int, data []byte) (any, int, error) {
	switch f.Kind {
	case KindFloat:
		w := a.width(f.Kind, f.Size)
		x, err := floatAt(data, off, w, a.Order)
		return x, w, err

	case KindString:
		s, n, err := cstringAt(data, off)
		return s, n, err

	case KindArray, KindSequence:
		count, pos := uint64(f.Len), off
		if f.Kind == KindSequence {
			lw, _ := f.LenField.Fixed()
			n, err := uintAt(data, pos, lw, a.Order)
			if err != nil {
				return nil, 0, err
			}
			if n > uint64(len(data)-pos) {
				return nil, 0, &DecodeError{pos, int(n), len(data) - pos}
			}
			count = n
			pos += lw
			pos += a.alignPad(pos, f.Elem.align)
		}
		out := make([]any, 0, count)
		for i := uint64(0); i < count; i++ {
			pos += a.alignPad(pos, f.Elem.align)
			v, n, err := a.decode(f.Elem, pos, data)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			pos += n
		}
		return out, pos - off, nil

	case KindStruct:
		out := make([]FieldValue, 0, len(f.Fields))
		pos := off
		for _, m := range f.Fields {
			pos += a.alignPad(pos, m.align)
			v, n, err := a.decode(m, pos, data)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, FieldValue{m.Name, v})
			pos += n
		}
		if !f.payload {
			pos += a.alignPad(pos, f.align)
		}
		return out, pos - off, nil

	case KindUnion:
		out := make([]FieldValue, 0, len(f.Fields))
		for _, m := range f.Fields {
			v, _, err := a.decode(m, off, data)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, FieldValue{m.Name, v})
		}
		size, _ := f.Fixed()
		return out, size, nil
	}

	if !f.Kind.Primitive() {
		return nil, 0, &FieldKindError{f.Name, f.Kind, "cannot decode"}
	}
	w := a.width(f.Kind, f.Size)
	if f.Kind.Signed() {
		x, err := intAt(data, off, w, a.Order)
		return x, w, err
	}
	x, err := uintAt(data, off, w, a.Order)
	if err != nil {
		return nil, 0, err
	}
	if f.Kind == KindEnum {
		if label, ok := f.Labels[int64(x)]; ok {
			return label, w, nil
		}
	}
	return x, w, nil
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "fmt"

// A Kind is the type of a payload field.
type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindFloat
	KindEnum
	KindPointer
	KindLong
	KindUlong
	KindSizeT
	KindSSizeT
	KindOff
	KindString
	KindArray
	KindSequence
	KindStruct
	KindUnion

	numKinds
)

var kindNames = [...]string{
	KindInt:      "int",
	KindUint:     "uint",
	KindFloat:    "float",
	KindEnum:     "enum",
	KindPointer:  "pointer",
	KindLong:     "long",
	KindUlong:    "ulong",
	KindSizeT:    "size_t",
	KindSSizeT:   "ssize_t",
	KindOff:      "off_t",
	KindString:   "string",
	KindArray:    "array",
	KindSequence: "sequence",
	KindStruct:   "struct",
	KindUnion:    "union",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind named s, as printed by Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Primitive reports whether k is a fixed-width scalar kind.
func (k Kind) Primitive() bool {
	return k <= KindOff
}

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool {
	switch k {
	case KindInt, KindLong, KindSSizeT, KindOff:
		return true
	}
	return false
}

// A FieldKindError reports a malformed field tree. It indicates a
// broken facility description, not bad trace data.
type FieldKindError struct {
	Field  string
	Kind   Kind
	Reason string
}

func (e *FieldKindError) Error() string {
	return fmt.Sprintf("field %q of kind %v: %s", e.Field, e.Kind, e.Reason)
}

type fixedState uint8

const (
	fixedUnknown fixedState = iota
	fixedVariable
	fixedFixed
)

// fixedness records whether a field has the same encoded size in
// every event. The size is only meaningful in the fixed state.
type fixedness struct {
	state fixedState
	size  int
}

func variable() fixedness { return fixedness{state: fixedVariable} }

func fixedSize(n int) fixedness { return fixedness{fixedFixed, n} }

func (f fixedness) known() bool { return f.state != fixedUnknown }

func (f fixedness) isFixed() bool { return f.state == fixedFixed }

// A Field is one node of an event payload layout.
//
// Field trees are built once from a facility description and then
// annotated with cached sizes and offsets as events are read. A
// Facility instantiated for a trace owns its own copy of every tree.
type Field struct {
	Name string
	Kind Kind

	// Size is the declared byte width of an Int, Uint, Float or
	// Enum field. Zero means the architecture's int size.
	Size int

	// Len is the element count of an Array.
	Len int

	// Elem is the element type of an Array or Sequence.
	Elem *Field

	// LenField is the length prefix of a Sequence. It must be an
	// unsigned primitive.
	LenField *Field

	// Fields are the members of a Struct or Union.
	Fields []*Field

	// Labels names the values of an Enum.
	Labels map[int64]string

	// OffsetRoot and OffsetParent are the byte offsets of this
	// field from the start of the payload and from the start of
	// its parent, or -1 if they vary from event to event.
	OffsetRoot, OffsetParent int

	fixed fixedness
	align int

	// cur is the offset from the payload start and the size of
	// this field in the event named by the owning EventType's
	// marker. It is not meaningful for array and sequence
	// elements.
	cur struct{ offset, size int }

	members map[string]*Field

	// payload marks the root of an event payload, which has no
	// trailing padding.
	payload bool
}

func newField(name string, kind Kind) *Field {
	return &Field{Name: name, Kind: kind, OffsetRoot: -1, OffsetParent: -1}
}

// NewScalar returns a primitive field. size is the declared width for
// Int, Uint, Float and Enum kinds and ignored for the others.
func NewScalar(name string, kind Kind, size int) *Field {
	f := newField(name, kind)
	f.Size = size
	return f
}

// NewString returns a NUL-terminated string field.
func NewString(name string) *Field {
	return newField(name, KindString)
}

// NewArray returns a field holding exactly n elements of type elem.
func NewArray(name string, n int, elem *Field) *Field {
	f := newField(name, KindArray)
	f.Len, f.Elem = n, elem
	return f
}

// NewSequence returns a field holding a length prefix of type
// lenField followed by that many elements of type elem.
func NewSequence(name string, lenField, elem *Field) *Field {
	f := newField(name, KindSequence)
	f.LenField, f.Elem = lenField, elem
	return f
}

// NewStruct returns a field whose members are laid out in order.
func NewStruct(name string, fields ...*Field) *Field {
	f := newField(name, KindStruct)
	f.Fields = fields
	return f
}

// NewUnion returns a field whose members all start at its offset.
func NewUnion(name string, fields ...*Field) *Field {
	f := newField(name, KindUnion)
	f.Fields = fields
	return f
}

// Fixed returns the encoded size of f if it is the same in every
// event. It returns false if the size varies or is not yet known.
func (f *Field) Fixed() (int, bool) {
	return f.fixed.size, f.fixed.isFixed()
}

// Variable reports whether f is known to vary in size.
func (f *Field) Variable() bool {
	return f.fixed.state == fixedVariable
}

// Member returns the member of a Struct or Union called name, or nil.
func (f *Field) Member(name string) *Field {
	if f == nil {
		return nil
	}
	if f.members == nil {
		f.members = make(map[string]*Field, len(f.Fields))
		for _, m := range f.Fields {
			f.members[m.Name] = m
		}
	}
	return f.members[name]
}

// clone returns a deep copy of the layout of f without any cached
// annotations.
func (f *Field) clone() *Field {
	if f == nil {
		return nil
	}
	n := newField(f.Name, f.Kind)
	n.Size, n.Len, n.Labels, n.payload = f.Size, f.Len, f.Labels, f.payload
	n.Elem = f.Elem.clone()
	n.LenField = f.LenField.clone()
	if f.Fields != nil {
		n.Fields = make([]*Field, len(f.Fields))
		for i, m := range f.Fields {
			n.Fields[i] = m.clone()
		}
	}
	return n
}

func (f *Field) String() string {
	switch f.Kind {
	case KindArray:
		return fmt.Sprintf("%s %v[%d]", f.Name, f.Elem, f.Len)
	case KindSequence:
		return fmt.Sprintf("%s %v[%v]", f.Name, f.Elem, f.LenField)
	case KindStruct, KindUnion:
		return fmt.Sprintf("%s %v{%d fields}", f.Name, f.Kind, len(f.Fields))
	}
	if f.Size != 0 {
		return fmt.Sprintf("%s %v%d", f.Name, f.Kind, 8*f.Size)
	}
	return fmt.Sprintf("%s %v", f.Name, f.Kind)
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

// Payload layout is resolved in two passes.
//
// prepare is the structural pass. It runs once per field tree, the
// first time an event of that type is read, and classifies every
// field as fixed or variable size. Fields at a fixed offset from the
// payload start get OffsetRoot and OffsetParent.
//
// resolve is the data pass. It sizes a field against the payload of
// the current event. Fixed fields return their cached size without
// touching the payload.

// alignOf returns the natural alignment of f.
func (a *Arch) alignOf(f *Field) int {
	switch {
	case f.Kind.Primitive():
		return a.width(f.Kind, f.Size)
	case f.Kind == KindArray && f.Elem != nil:
		return a.alignOf(f.Elem)
	case f.Kind == KindSequence && f.LenField != nil:
		return a.alignOf(f.LenField)
	case f.Kind == KindStruct, f.Kind == KindUnion:
		n := 1
		for _, m := range f.Fields {
			if x := a.alignOf(m); x > n {
				n = x
			}
		}
		return n
	}
	return 1
}

func validWidth(k Kind, w int) bool {
	if k == KindFloat {
		return w == 4 || w == 8
	}
	return w == 1 || w == 2 || w == 4 || w == 8
}

// prepare computes the alignment and fixedness of f and its
// descendants. offRoot and offParent are the offsets of f if they
// are the same in every event, or -1.
func (a *Arch) prepare(f *Field, offRoot, offParent int) error {
	f.OffsetRoot, f.OffsetParent = offRoot, offParent
	f.align = a.alignOf(f)

	switch f.Kind {
	case KindInt, KindUint, KindFloat, KindEnum, KindPointer, KindLong, KindUlong, KindSizeT, KindSSizeT, KindOff:
		w := a.width(f.Kind, f.Size)
		if !validWidth(f.Kind, w) {
			return &FieldKindError{f.Name, f.Kind, "unsupported width"}
		}
		f.fixed = fixedSize(w)

	case KindString:
		f.fixed = variable()

	case KindArray:
		if f.Elem == nil {
			return &FieldKindError{f.Name, f.Kind, "missing element type"}
		}
		// Element offsets differ per element, so they are
		// never fixed.
		if err := a.prepare(f.Elem, -1, -1); err != nil {
			return err
		}
		if n, ok := f.Elem.Fixed(); ok {
			f.fixed = fixedSize(n * f.Len)
		} else {
			f.fixed = variable()
		}

	case KindSequence:
		if f.Elem == nil || f.LenField == nil {
			return &FieldKindError{f.Name, f.Kind, "missing length or element type"}
		}
		switch f.LenField.Kind {
		case KindUint, KindUlong, KindSizeT:
		default:
			return &FieldKindError{f.Name, f.Kind, "length prefix must be unsigned"}
		}
		if err := a.prepare(f.LenField, offRoot, 0); err != nil {
			return err
		}
		if err := a.prepare(f.Elem, -1, -1); err != nil {
			return err
		}
		f.fixed = variable()

	case KindStruct:
		off, fixed := 0, true
		for _, m := range f.Fields {
			if !fixed {
				if err := a.prepare(m, -1, -1); err != nil {
					return err
				}
				continue
			}
			off += a.alignPad(off, a.alignOf(m))
			root := -1
			if offRoot >= 0 {
				root = offRoot + off
			}
			if err := a.prepare(m, root, off); err != nil {
				return err
			}
			if n, ok := m.Fixed(); ok {
				off += n
			} else {
				fixed = false
			}
		}
		if fixed {
			if !f.payload {
				off += a.alignPad(off, f.align)
			}
			f.fixed = fixedSize(off)
		} else {
			f.fixed = variable()
		}

	case KindUnion:
		size := 0
		for _, m := range f.Fields {
			if err := a.prepare(m, offRoot, 0); err != nil {
				return err
			}
			n, ok := m.Fixed()
			if !ok {
				return &FieldKindError{f.Name, f.Kind, "variable-size member " + m.Name}
			}
			if n > size {
				size = n
			}
		}
		size += a.alignPad(size, f.align)
		f.fixed = fixedSize(size)

	default:
		return &FieldKindError{f.Name, f.Kind, "unknown kind"}
	}
	return nil
}

// resolve returns the size of f, which starts at payload offset off
// in data. If record is set, the offset and size of f and of its
// struct members are stored in their cur annotations.
func (a *Arch) resolve(f *Field, off int, data []byte, record bool) (int, error) {
	if n, ok := f.Fixed(); ok {
		if record {
			recordFixed(f, off)
		}
		return n, nil
	}

	var size int
	switch f.Kind {
	case KindString:
		_, n, err := cstringAt(data, off)
		if err != nil {
			return 0, err
		}
		size = n

	case KindArray:
		pos := off
		for i := 0; i < f.Len; i++ {
			pos += a.alignPad(pos, f.Elem.align)
			n, err := a.resolve(f.Elem, pos, data, false)
			if err != nil {
				return 0, err
			}
			pos += n
		}
		size = pos - off

	case KindSequence:
		lw, _ := f.LenField.Fixed()
		count, err := uintAt(data, off, lw, a.Order)
		if err != nil {
			return 0, err
		}
		if record {
			f.LenField.cur.offset, f.LenField.cur.size = off, lw
		}
		pos := off + lw
		pos += a.alignPad(pos, f.Elem.align)
		if n, ok := f.Elem.Fixed(); ok {
			if n > 0 && count > uint64(len(data)-pos)/uint64(n) {
				return 0, &DecodeError{pos, int(count) * n, len(data) - pos}
			}
			pos += int(count) * n
		} else {
			if count > uint64(len(data)-pos) {
				// Variable elements take at least one byte.
				return 0, &DecodeError{pos, int(count), len(data) - pos}
			}
			for i := uint64(0); i < count; i++ {
				pos += a.alignPad(pos, f.Elem.align)
				n, err := a.resolve(f.Elem, pos, data, false)
				if err != nil {
					return 0, err
				}
				pos += n
			}
		}
		size = pos - off

	case KindStruct:
		pos := off
		for _, m := range f.Fields {
			pos += a.alignPad(pos, m.align)
			n, err := a.resolve(m, pos, data, record)
			if err != nil {
				return 0, err
			}
			pos += n
		}
		if !f.payload {
			pos += a.alignPad(pos, f.align)
		}
		size = pos - off

	default:
		return 0, &FieldKindError{f.Name, f.Kind, "cannot size"}
	}

	if off+size > len(data) {
		return 0, &DecodeError{off, size, len(data) - off}
	}
	if record {
		f.cur.offset, f.cur.size = off, size
	}
	return size, nil
}

// recordFixed stores the offsets of the fixed-size field f starting
// at off and of its struct members.
func recordFixed(f *Field, off int) {
	f.cur.offset, f.cur.size = off, f.fixed.size
	switch f.Kind {
	case KindStruct, KindUnion:
		for _, m := range f.Fields {
			recordFixed(m, off+m.OffsetParent)
		}
	}
}

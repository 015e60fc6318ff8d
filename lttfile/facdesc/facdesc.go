// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package facdesc loads facility descriptions written in YAML.
//
// A description names a facility, its checksum, and its event types
// with their payload fields:
//
//	name: sched
//	checksum: 0x1d3e7a90
//	events:
//	  - name: sched_wakeup
//	    fields:
//	      - {name: pid, type: int, size: 4}
//	  - name: sched_process_exec
//	    fields:
//	      - {name: filename, type: string}
//
// Field types are the names printed by lttfile.Kind. Arrays take a
// length and an element, sequences a length_type and an element,
// structs and unions a list of fields, and enums a map of labels.
package facdesc // import "github.com/lttng/go-lttv/lttfile/facdesc"

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lttng/go-lttv/lttfile"
	"gopkg.in/yaml.v2"
)

type facilityDesc struct {
	Name     string      `yaml:"name"`
	Checksum uint32      `yaml:"checksum"`
	Events   []eventDesc `yaml:"events"`
}

type eventDesc struct {
	Name   string      `yaml:"name"`
	Fields []fieldDesc `yaml:"fields"`
}

type fieldDesc struct {
	Name       string           `yaml:"name"`
	Type       string           `yaml:"type"`
	Size       int              `yaml:"size"`
	Length     int              `yaml:"length"`
	LengthType *fieldDesc       `yaml:"length_type"`
	Element    *fieldDesc       `yaml:"element"`
	Fields     []fieldDesc      `yaml:"fields"`
	Labels     map[int64]string `yaml:"labels"`
}

// defaultLengthType is the length prefix of a sequence that does not
// declare one.
var defaultLengthType = fieldDesc{Type: "uint", Size: 4}

// Parse decodes one facility description.
func Parse(data []byte) (*lttfile.Facility, error) {
	var fd facilityDesc
	if err := yaml.UnmarshalStrict(data, &fd); err != nil {
		return nil, err
	}
	if fd.Name == "" {
		return nil, fmt.Errorf("facility has no name")
	}
	events := make([]*lttfile.EventType, 0, len(fd.Events))
	seen := make(map[string]bool)
	for _, ed := range fd.Events {
		if seen[ed.Name] {
			return nil, fmt.Errorf("facility %s: duplicate event %q", fd.Name, ed.Name)
		}
		seen[ed.Name] = true
		fields := make([]*lttfile.Field, 0, len(ed.Fields))
		for i := range ed.Fields {
			f, err := ed.Fields[i].build()
			if err != nil {
				return nil, fmt.Errorf("facility %s: event %s: %w", fd.Name, ed.Name, err)
			}
			fields = append(fields, f)
		}
		events = append(events, lttfile.NewEventType(ed.Name, fields...))
	}
	if len(events) > 0x100 {
		return nil, fmt.Errorf("facility %s: %d events, at most 256 allowed", fd.Name, len(events))
	}
	return lttfile.NewFacility(fd.Name, fd.Checksum, events...), nil
}

func (d *fieldDesc) build() (*lttfile.Field, error) {
	kind, ok := lttfile.ParseKind(d.Type)
	if !ok {
		return nil, fmt.Errorf("field %q: unknown type %q", d.Name, d.Type)
	}
	switch kind {
	case lttfile.KindString:
		return lttfile.NewString(d.Name), nil

	case lttfile.KindArray, lttfile.KindSequence:
		if d.Element == nil {
			return nil, fmt.Errorf("field %q: %v needs an element", d.Name, kind)
		}
		elem, err := d.Element.build()
		if err != nil {
			return nil, err
		}
		if kind == lttfile.KindArray {
			if d.Length <= 0 {
				return nil, fmt.Errorf("field %q: array needs a positive length", d.Name)
			}
			return lttfile.NewArray(d.Name, d.Length, elem), nil
		}
		ld := d.LengthType
		if ld == nil {
			ld = &defaultLengthType
		}
		lf, err := ld.build()
		if err != nil {
			return nil, err
		}
		return lttfile.NewSequence(d.Name, lf, elem), nil

	case lttfile.KindStruct, lttfile.KindUnion:
		members := make([]*lttfile.Field, 0, len(d.Fields))
		for i := range d.Fields {
			m, err := d.Fields[i].build()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", d.Name, err)
			}
			members = append(members, m)
		}
		if kind == lttfile.KindStruct {
			return lttfile.NewStruct(d.Name, members...), nil
		}
		return lttfile.NewUnion(d.Name, members...), nil
	}

	f := lttfile.NewScalar(d.Name, kind, d.Size)
	if kind == lttfile.KindEnum {
		f.Labels = d.Labels
	}
	return f, nil
}

func isDescription(name string) bool {
	ext := path.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// LoadFS parses every description in the root of fsys into reg.
func LoadFS(reg *lttfile.Registry, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isDescription(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return err
		}
		f, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		reg.Add(f)
	}
	return nil
}

// LoadDir parses every description in directory dir into reg.
func LoadDir(reg *lttfile.Registry, dir string) error {
	if err := LoadFS(reg, os.DirFS(dir)); err != nil {
		return fmt.Errorf("%s: %w", filepath.Clean(dir), err)
	}
	return nil
}

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtin returns a new registry holding the built-in descriptions
// of the kernel facilities.
func Builtin() *lttfile.Registry {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	reg := new(lttfile.Registry)
	if err := LoadFS(reg, sub); err != nil {
		panic("bad built-in facility description: " + err.Error())
	}
	return reg
}

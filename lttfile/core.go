// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttfile

import "fmt"

// CoreFacilityID is the facility ID of the built-in core facility,
// which describes facility loading and heartbeats.
const CoreFacilityID = 0

// Core facility event IDs.
const (
	CoreFacilityLoad = iota
	CoreFacilityUnload
	CoreStateDumpFacilityLoad
	CoreHeartbeat
	CoreHeartbeatFull
)

func u32(name string) *Field { return NewScalar(name, KindUint, 4) }

func facilityLoadFields() []*Field {
	return []*Field{
		NewString("name"),
		u32("checksum"),
		u32("id"),
		u32("int_size"),
		u32("long_size"),
		u32("pointer_size"),
		u32("size_t_size"),
		u32("alignment"),
	}
}

// coreFacility is the template of the core facility.
var coreFacility = NewFacility("core", 0,
	NewEventType("facility_load", facilityLoadFields()...),
	NewEventType("facility_unload", u32("id")),
	NewEventType("state_dump_facility_load", facilityLoadFields()...),
	NewEventType("heartbeat"),
	NewEventType("heartbeat_full", NewScalar("tsc", KindUint, 8)),
)

// A facilityTable maps the facility IDs of one trace to instantiated
// facilities. It is shared by every tracefile of the trace.
type facilityTable struct {
	byID map[uint8]*Facility
}

func newFacilityTable(arch Arch) *facilityTable {
	ft := &facilityTable{byID: make(map[uint8]*Facility)}
	ft.byID[CoreFacilityID] = coreFacility.instantiate(CoreFacilityID, arch)
	return ft
}

func (ft *facilityTable) lookup(id uint8) *Facility {
	return ft.byID[id]
}

// invalidate discards the cached payload layouts of every event type.
func (ft *facilityTable) invalidate() {
	for _, f := range ft.byID {
		for _, et := range f.Events {
			et.invalidate()
		}
	}
}

// A facilityLoad is the payload of a facility_load event.
type facilityLoad struct {
	name     string
	checksum uint32
	id       uint8
	arch     Arch
}

func readFacilityLoad(ev *Event) (facilityLoad, error) {
	r := ev.Fields()
	fl := facilityLoad{
		name:     r.String("name"),
		checksum: uint32(r.Uint("checksum")),
	}
	id := r.Uint("id")
	fl.arch = Arch{
		Order:       ev.arch().Order,
		IntSize:     int(r.Uint("int_size")),
		LongSize:    int(r.Uint("long_size")),
		PointerSize: int(r.Uint("pointer_size")),
		SizeTSize:   int(r.Uint("size_t_size")),
		Alignment:   int(r.Uint("alignment")),
	}
	if err := r.Err(); err != nil {
		return fl, err
	}
	if id == CoreFacilityID || id > 0xff {
		return fl, fmt.Errorf("facility %s: invalid facility ID %d", fl.name, id)
	}
	fl.id = uint8(id)
	return fl, nil
}

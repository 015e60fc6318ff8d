// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lttfile is a reader for LTT kernel traces.
//
// A trace is a directory of tracefiles, one per CPU and per control
// channel. Each tracefile is a sequence of fixed-size blocks, each
// holding a block header followed by a run of events. Opening a trace
// with Open reads the facility definitions from the control channel
// so that the payload of every event can be sized and decoded.
//
// Events of a single tracefile can be iterated with Tracefile.Next.
// Events of all the tracefiles of one or more traces can be iterated
// in global time order with a Merger.
package lttfile // import "github.com/lttng/go-lttv/lttfile"

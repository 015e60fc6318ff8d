// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/dustin/go-humanize"
	"github.com/lttng/go-lttv/lttfile"
	"github.com/lttng/go-lttv/lttstate"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

func newSummaryCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "summary trace-dir...",
		Short: "Print statistics of process run times",
		Long: `Summary replays the traces and collects the run slices of every
process name: the time from being scheduled in to being scheduled
out. It prints the distribution of slice lengths of the names with
the most total run time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(traces)

			e, writeMetrics := newEngine(traces)
			rs := make(runSlices)
			e.AddHook(lttstate.PriorityState-1, rs)
			e.Run()
			printSummary(cmd.OutOrStdout(), e.Events(), rs, top)
			return writeMetrics()
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "show the `n` names with the most run time")
	return cmd
}

// runSlices collects the run slice lengths in nanoseconds by process
// name. It runs before the state update, so the process being
// scheduled out is still the running one.
type runSlices map[string][]float64

func (r runSlices) OnEvent(ev *lttfile.Event, s *lttstate.TraceState) {
	if ev.Name() != "sched_switch" || !flagCPUs.Contains(ev.CPU()) {
		return
	}
	p := s.Running(ev.CPU())
	if p == nil || p.PID == 0 {
		return
	}
	if top := p.Top(); top.Status == lttstate.StatusRun && ev.Time >= top.Change {
		r[p.Name] = append(r[p.Name], float64(ev.Time-top.Change))
	}
}

func printSummary(w io.Writer, events int, r runSlices, top int) {
	type row struct {
		name  string
		total float64
		s     stats.Sample
	}
	var rows []row
	for name, xs := range r {
		s := stats.Sample{Xs: xs}
		rows = append(rows, row{name, s.Sum(), s})
	}
	slices.SortFunc(rows, func(a, b row) int {
		switch {
		case a.total > b.total:
			return -1
		case a.total < b.total:
			return 1
		}
		return 0
	})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}

	fmt.Fprintf(w, "%s events, %d process names\n", humanize.Comma(int64(events)), len(r))
	dur := func(ns float64) time.Duration { return time.Duration(ns) }
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "name\tslices\ttotal\tmean\tstddev\tp50\tp99\tmax\t\n")
	for _, row := range rows {
		s := row.s.Sort()
		_, max := s.Bounds()
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%v\t%v\t%v\t%v\t\n",
			row.name, humanize.Comma(int64(len(s.Xs))), dur(row.total),
			dur(s.Mean()), dur(s.StdDev()), dur(s.Quantile(0.5)), dur(s.Quantile(0.99)), dur(max))
	}
	tw.Flush()
}

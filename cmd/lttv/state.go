// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/lttng/go-lttv/lttstate"
	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	var at timeFlag
	cmd := &cobra.Command{
		Use:   "state trace-dir...",
		Short: "Print the processes and CPUs at a point in time",
		Long: `State replays the traces up to the time given by --time, or to their
end, and prints the CPUs, interrupt lines, and processes of each trace.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(traces)

			e, writeMetrics := newEngine(traces)
			if at.set {
				e.SeekTime(at.t)
			} else {
				e.Run()
			}
			for _, s := range e.States() {
				if err := printState(cmd.OutOrStdout(), s); err != nil {
					return err
				}
			}
			return writeMetrics()
		},
	}
	cmd.Flags().Var(&at, "time", "show the state before the events at `time` (sec.nsec)")
	return cmd
}

func printState(w io.Writer, s *lttstate.TraceState) error {
	fmt.Fprintf(w, "trace %s at %v after %d events\n", s.Trace().Path, s.Time, s.Events)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "cpu\tmode\trunning\n")
	for i := range s.CPUs {
		if !flagCPUs.Contains(i) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%v\t%v\n", i, s.CPUs[i].Mode(), s.Running(i))
	}
	fmt.Fprintf(tw, "\n")
	for i, q := range s.IRQs {
		if len(q.Modes) == 0 {
			continue
		}
		fmt.Fprintf(tw, "irq %d\t%v\t%s\n", i, q.Mode(), q.Name)
	}
	fmt.Fprintf(tw, "\npid\tppid\ttgid\tcpu\ttype\tmode\tsubmode\tstatus\tsince\tname\n")
	for _, p := range s.SortedProcesses() {
		if p.PID == 0 && !flagCPUs.Contains(p.CPU) {
			continue
		}
		top := p.Top()
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\t%v\t%s\t%v\t%v\t%s\n",
			p.PID, p.PPID, p.TGID, p.CPU, p.Type, top.Mode, top.Submode, top.Status, top.Change, p.Name)
	}
	fmt.Fprintf(tw, "\n")
	return tw.Flush()
}

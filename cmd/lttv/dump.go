// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/lttng/go-lttv/lttfile"
	"github.com/spf13/cobra"
)

func newDumpCommand() *cobra.Command {
	var start, end timeFlag
	cmd := &cobra.Command{
		Use:   "dump trace-dir...",
		Short: "Print the events of traces in time order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(traces)

			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()
			m := lttfile.NewMerger(traces...)
			if start.set {
				m.SeekTime(start.t)
			}
			for m.Next() {
				ev := m.Event()
				if end.set && ev.Time >= end.t {
					break
				}
				if !flagCPUs.Contains(ev.Tracefile.CPU) {
					continue
				}
				if len(traces) > 1 {
					fmt.Fprintf(w, "%d ", m.Trace())
				}
				fmt.Fprintf(w, "%v %s %s", ev.Time, ev.Tracefile.Name, ev.Name())
				if ev.Type.Facility != nil {
					fmt.Fprintf(w, " [%s]", ev.Type.Facility.Name)
				}
				vals, err := ev.DecodeAll()
				if err != nil {
					fmt.Fprintf(w, " <%v>\n", err)
					continue
				}
				if vals != nil {
					fmt.Fprintf(w, " %s", formatValue(vals))
				}
				fmt.Fprintf(w, "\n")
			}
			return nil
		},
	}
	cmd.Flags().Var(&start, "start", "start at `time` (sec.nsec)")
	cmd.Flags().Var(&end, "end", "stop before `time` (sec.nsec)")
	return cmd
}

// formatValue formats a value returned by lttfile.Event.Decode.
func formatValue(v any) string {
	switch v := v.(type) {
	case []lttfile.FieldValue:
		var b strings.Builder
		b.WriteString("{")
		for i, fv := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", fv.Name, formatValue(fv.Value))
		}
		b.WriteString("}")
		return b.String()
	case []any:
		elems := make([]string, len(v))
		for i, e := range v {
			elems[i] = formatValue(e)
		}
		return "[" + strings.Join(elems, " ") + "]"
	case string:
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprint(v)
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lttng/go-lttv/lttfile"
	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	var count bool
	cmd := &cobra.Command{
		Use:   "info trace-dir...",
		Short: "Print the tracefiles, facilities, and time span of traces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(traces)
			for _, t := range traces {
				if err := printInfo(cmd.OutOrStdout(), t, count); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "count the events of each tracefile")
	return cmd
}

func printInfo(w io.Writer, t *lttfile.Trace, count bool) error {
	a := t.Arch
	fmt.Fprintf(w, "trace %s\n", t.Path)
	fmt.Fprintf(w, "  arch: %v, int %d, long %d, pointer %d, size_t %d, alignment %d\n",
		a.Order, a.IntSize, a.LongSize, a.PointerSize, a.SizeTSize, a.Alignment)
	fmt.Fprintf(w, "  span: %v to %v (%v)\n", t.Start, t.End, t.End-t.Start)
	if len(t.Tracefiles) > 0 {
		hdr := t.Tracefiles[0].Header
		fmt.Fprintf(w, "  format: %d.%d, started %v\n", hdr.Major, hdr.Minor, hdr.StartTime)
	}

	var names []string
	for _, f := range t.Facilities() {
		names = append(names, fmt.Sprintf("%s(%d)", f.Name, f.ID))
	}
	fmt.Fprintf(w, "  facilities: %s\n", strings.Join(names, " "))

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\ttracefile\tcpu\tblocks\tsize\t")
	if count {
		fmt.Fprintf(tw, "events\t")
	}
	fmt.Fprintf(tw, "\n")
	for _, tf := range t.Tracefiles {
		cpu := "-"
		if tf.CPU >= 0 {
			cpu = fmt.Sprint(tf.CPU)
		}
		size := uint64(tf.BlockSize) * uint64(tf.NumBlocks)
		fmt.Fprintf(tw, "\t%s\t%s\t%d\t%s\t", tf.Name, cpu, tf.NumBlocks, humanize.Bytes(size))
		if count {
			n, err := countEvents(tf)
			if err != nil {
				return fmt.Errorf("%s: %w", tf.Name, err)
			}
			fmt.Fprintf(tw, "%s\t", humanize.Comma(n))
		}
		fmt.Fprintf(tw, "\n")
	}
	return tw.Flush()
}

func countEvents(tf *lttfile.Tracefile) (int64, error) {
	if err := tf.SeekBlock(0); err != nil {
		return 0, err
	}
	var n int64
	for tf.Next() {
		n++
	}
	return n, tf.Err()
}

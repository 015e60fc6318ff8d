// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/rand"

	"github.com/lttng/go-lttv/lttfile"
	"github.com/lttng/go-lttv/lttstate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var (
		points int
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "verify trace-dir...",
		Short: "Check that seeking reproduces the state of a full replay",
		Long: `Verify replays the traces once to build checkpoints, then seeks to
random times in random order. At every time it compares the state
reached by seeking with the state reached by replaying from the start.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(traces)
			// The reference replay needs its own read positions.
			refTraces, err := openTraces(args)
			if err != nil {
				return err
			}
			defer closeTraces(refTraces)

			e, writeMetrics := newEngine(traces)
			e.Run()
			log.WithFields(logrus.Fields{"events": e.Events(), "checkpoints": len(e.Checkpoints())}).Info("replayed")
			ref := lttstate.NewEngine(lttstate.Config{Logger: log}, refTraces...)

			rng := rand.New(rand.NewSource(seed))
			end := e.Time()
			bad := 0
			for i := 0; i < points; i++ {
				t := lttfile.Time(rng.Int63n(int64(end) + 1))
				e.SeekTime(t)
				ref.Reset()
				ref.ReplayUntil(t)
				for j, s := range e.States() {
					got, want := s.Fingerprint(), ref.State(j).Fingerprint()
					if got != want {
						bad++
						fmt.Fprintf(cmd.OutOrStdout(), "%v: trace %s: seek state %016x, replay state %016x\n", t, s.Trace().Path, got, want)
					}
				}
			}
			if err := writeMetrics(); err != nil {
				return err
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d seeks differ from replay", bad, points)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d seeks match replay\n", points)
			return nil
		},
	}
	cmd.Flags().IntVar(&points, "points", 20, "seek to `n` times")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random `seed` for the seek times")
	return cmd
}

// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lttv reads LTT kernel traces and reconstructs the state of
// the traced system.
//
// Usage:
//
//	lttv [flags] command trace-dir...
//
// The commands are:
//
//	info     print the tracefiles, facilities, and time span of traces
//	dump     print the events of traces in time order
//	state    print the processes and CPUs at a point in time
//	summary  print statistics of process run times
//	verify   check that seeking reproduces the state of a full replay
//
// Settings can also be read from a YAML file given by --config whose
// keys are flag names, such as
//
//	facilities: /usr/share/ltt/facilities
//	checkpoint-interval: 100000
//	log-level: info
//
// Flags given on the command line override the file.
package main

import (
	"fmt"
	"os"

	"github.com/lttng/go-lttv/lttfile"
	"github.com/lttng/go-lttv/lttfile/facdesc"
	"github.com/lttng/go-lttv/lttstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

var (
	flagConfig             string
	flagFacilities         string
	flagCheckpointInterval int
	flagLogLevel           string
	flagMetrics            string
	flagCPUs               lttfile.CPUSet
)

var log = logrus.New()

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lttv",
		Short:        "Inspect LTT kernel traces",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Flags())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "read settings from YAML `file`")
	pf.StringVar(&flagFacilities, "facilities", "", "load facility descriptions from `dir` in addition to the built-in ones")
	pf.IntVar(&flagCheckpointInterval, "checkpoint-interval", lttstate.DefaultCheckpointInterval, "save a state checkpoint every `n` events")
	pf.StringVar(&flagLogLevel, "log-level", "warning", "log `level`")
	pf.StringVar(&flagMetrics, "metrics", "", "write replay metrics to `file` in the Prometheus text format")
	pf.Var(&flagCPUs, "cpus", "only consider CPUs in `set`, such as 0-3,6")

	root.AddCommand(
		newInfoCommand(),
		newDumpCommand(),
		newStateCommand(),
		newSummaryCommand(),
		newVerifyCommand(),
	)
	return root
}

// setup applies the configuration file and configures logging.
func setup(fs *pflag.FlagSet) error {
	if flagConfig != "" {
		if err := loadConfig(fs, flagConfig); err != nil {
			return err
		}
	}
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return nil
}

// loadConfig sets every flag in fs that was not given on the command
// line from the YAML file at path, whose keys are flag names.
func loadConfig(fs *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var settings map[string]interface{}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for name, v := range settings {
		f := fs.Lookup(name)
		if f == nil || name == "config" {
			return fmt.Errorf("%s: unknown setting %q", path, name)
		}
		if f.Changed {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("%s: setting %s: %w", path, name, err)
		}
	}
	return nil
}

// registry returns the facility descriptions to open traces with.
func registry() (*lttfile.Registry, error) {
	reg := facdesc.Builtin()
	if flagFacilities != "" {
		if err := facdesc.LoadDir(reg, flagFacilities); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openTraces opens the trace directories dirs.
func openTraces(dirs []string) ([]*lttfile.Trace, error) {
	reg, err := registry()
	if err != nil {
		return nil, err
	}
	var traces []*lttfile.Trace
	for _, dir := range dirs {
		t, err := lttfile.Open(dir, lttfile.Options{Facilities: reg, Logger: log})
		if err != nil {
			closeTraces(traces)
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}

func closeTraces(traces []*lttfile.Trace) {
	for _, t := range traces {
		t.Close()
	}
}

// newEngine returns a state engine over traces configured from the
// flags, and a function that writes its metrics if requested.
func newEngine(traces []*lttfile.Trace) (*lttstate.Engine, func() error) {
	cfg := lttstate.DefaultConfig()
	cfg.CheckpointInterval = flagCheckpointInterval
	cfg.Logger = log
	if flagMetrics == "" {
		return lttstate.NewEngine(cfg, traces...), func() error { return nil }
	}
	reg := prometheus.NewRegistry()
	cfg.Metrics = lttstate.NewMetrics(reg)
	return lttstate.NewEngine(cfg, traces...), func() error {
		return prometheus.WriteToTextfile(flagMetrics, reg)
	}
}

// timeFlag is a pflag.Value holding a trace time in sec.nsec form.
type timeFlag struct {
	t   lttfile.Time
	set bool
}

func (f *timeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.t.String()
}

func (f *timeFlag) Set(s string) error {
	t, err := lttfile.ParseTime(s)
	if err != nil {
		return err
	}
	f.t, f.set = t, true
	return nil
}

func (f *timeFlag) Type() string {
	return "time"
}

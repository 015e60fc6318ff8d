// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lttstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the work of an Engine.
type Metrics struct {
	Events      prometheus.Counter
	Checkpoints prometheus.Counter
	Seeks       *prometheus.CounterVec
	Warnings    prometheus.Counter

	// Processes is the size of the process table of the last
	// trace state an event was applied to.
	Processes prometheus.Gauge
}

// NewMetrics returns a set of engine metrics registered with reg. If
// reg is nil the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lttv",
			Subsystem: "state",
			Name:      "events_total",
			Help:      "Events dispatched to hooks.",
		}),
		Checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lttv",
			Subsystem: "state",
			Name:      "checkpoints_total",
			Help:      "State checkpoints taken.",
		}),
		Seeks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lttv",
			Subsystem: "state",
			Name:      "seeks_total",
			Help:      "Seeks by kind and by whether a checkpoint was restored.",
		}, []string{"kind", "restored"}),
		Warnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lttv",
			Subsystem: "state",
			Name:      "warnings_total",
			Help:      "Consistency warnings raised while applying events.",
		}),
		Processes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lttv",
			Subsystem: "state",
			Name:      "processes",
			Help:      "Processes in the process table.",
		}),
	}
}

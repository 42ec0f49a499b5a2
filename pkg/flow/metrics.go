// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_flow_step_duration_seconds",
			Help:    "Duration of individual flow steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "status"},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_flow_steps_total",
			Help: "Total flow steps executed by type and outcome",
		},
		[]string{"type", "status"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_flow_runs_total",
			Help: "Total flow runs by outcome",
		},
		[]string{"status"},
	)
)

func recordStep(stepType StepType, status string, seconds float64) {
	stepDuration.WithLabelValues(string(stepType), status).Observe(seconds)
	stepsTotal.WithLabelValues(string(stepType), status).Inc()
}

func recordRun(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	runsTotal.WithLabelValues(status).Inc()
}

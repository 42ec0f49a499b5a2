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

package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_gate_evaluation_duration_seconds",
			Help:    "Duration of gate evaluations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	evaluationsByAction = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_gate_evaluations_total",
			Help: "Total gate evaluations by resulting action",
		},
		[]string{"action"},
	)

	score = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conductor_gate_score",
		Help:    "Overall judge score observed by the gate evaluator",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

func recordEvaluation(action Action, durationMs int64, overallScore float64) {
	evaluationDuration.WithLabelValues(string(action)).Observe(float64(durationMs) / 1000)
	evaluationsByAction.WithLabelValues(string(action)).Inc()
	score.Observe(overallScore)
}

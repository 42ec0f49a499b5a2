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

package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conductor_journal_flush_duration_seconds",
		Help:    "Duration of activity journal batch flushes to SQLite",
		Buckets: prometheus.DefBuckets,
	})

	flushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conductor_journal_flush_batch_size",
		Help:    "Number of entries written per activity journal batch flush",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	flushesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_journal_flush_failures_total",
		Help: "Total activity journal batch flushes that failed",
	})
)

func recordFlush(seconds float64, batchSize int, failed bool) {
	flushDuration.Observe(seconds)
	flushBatchSize.Observe(float64(batchSize))
	if failed {
		flushesFailed.Inc()
	}
}

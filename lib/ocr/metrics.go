// Copyright 2025 Antfly, Inc.
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

package ocr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recognitionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "recognition_ops_total",
			Help:      "The total number of recognitions, by outcome.",
		},
		[]string{"status"},
	)

	tokenGenerationOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "token_generation_ops_total",
			Help:      "The total number of tokens generated by the decoder.",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each recognition stage.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // encode, decode, detokenize
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load the model bundle.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "cache_hits_total",
			Help:      "Total number of recognition cache hits.",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "ocr",
			Name:      "cache_misses_total",
			Help:      "Total number of recognition cache misses.",
		},
	)
)

func init() {
	prometheus.MustRegister(recognitionOps)
	prometheus.MustRegister(tokenGenerationOps)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
}

// RecordRecognition records the outcome of one Recognize call.
func RecordRecognition(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	recognitionOps.WithLabelValues(status).Inc()
}

// RecordStage records how long a recognition stage took.
func RecordStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordTokensGenerated records tokens produced by the decoder.
func RecordTokensGenerated(n int) {
	tokenGenerationOps.Add(float64(n))
}

// RecordModelLoad records how long loading took on a backend.
func RecordModelLoad(backend string, d time.Duration) {
	modelLoadDuration.WithLabelValues(backend).Observe(d.Seconds())
}

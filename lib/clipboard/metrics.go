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

package clipboard

import "github.com/prometheus/client_golang/prometheus"

// Poll outcomes.
const (
	pollEmpty     = "empty"
	pollUnchanged = "unchanged"
	pollNew       = "new"
	pollError     = "error"
)

var (
	pollOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "clipboard",
			Name:      "poll_ops_total",
			Help:      "The total number of clipboard polls, by outcome.",
		},
		[]string{"outcome"},
	)

	frameOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mangaocr",
			Subsystem: "clipboard",
			Name:      "frame_ops_total",
			Help:      "The total number of clipboard images processed, by result.",
		},
		[]string{"result"}, // recognized, cached, failed
	)
)

func init() {
	prometheus.MustRegister(pollOps)
	prometheus.MustRegister(frameOps)
}

func recordPoll(outcome string) {
	pollOps.WithLabelValues(outcome).Inc()
}

func recordFrame(result string) {
	frameOps.WithLabelValues(result).Inc()
}

// Copyright (c) 2025 Tigera, Inc. All rights reserved.
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

package postprocess

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	countObjectsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mibpf_postprocess_objects",
		Help: "Number of object files post-processed, by layout and result.",
	}, []string{"layout", "result"})
	countRelocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mibpf_postprocess_relocations",
		Help: "Number of relocations handled, by outcome (patched, call, skipped).",
	}, []string{"outcome"})
	histogramProcessingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "mibpf_postprocess_latency_seconds",
		Help: "Histogram for measuring the time taken to post-process an object file.",
	})
	gaugeOutputBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mibpf_postprocess_output_bytes",
		Help: "Size of the most recently written binary.",
	})
)

func init() {
	prometheus.MustRegister(countObjectsProcessed)
	prometheus.MustRegister(countRelocations)
	prometheus.MustRegister(histogramProcessingLatency)
	prometheus.MustRegister(gaugeOutputBytes)
}

// WriteMetrics writes all registered metrics to path in the Prometheus text
// format, suitable for the node exporter's textfile collector.
func WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}

// Copyright (c) 2024 The tracing-elastic-apm Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apm

import (
	"github.com/uber/jaeger-lib/metrics"
)

// Metrics is a container of all stats emitted by the APM client.
type Metrics struct {
	// Number of batches accepted by the APM server
	ReporterSuccess metrics.Counter `metric:"reporter_batches" tags:"state=success" help:"Number of batches delivered"`

	// Number of batches whose delivery failed and were discarded
	ReporterFailure metrics.Counter `metric:"reporter_batches" tags:"state=failure" help:"Number of batches that failed delivery"`

	// Number of batches dropped before delivery because the buffer was full or the client was closed
	ReporterDropped metrics.Counter `metric:"reporter_batches" tags:"state=dropped" help:"Number of batches dropped before delivery"`

	// Number of delivery attempts repeated by the retry policy
	ReporterRetries metrics.Counter `metric:"reporter_retries" help:"Number of repeated delivery attempts"`

	// Number of batches taken from the intake buffer by the last drain
	ReporterBufferLength metrics.Gauge `metric:"reporter_buffer" help:"Batches taken by the last drain"`

	// Time spent in a single send to the APM server
	ReporterRequestLatency metrics.Timer `metric:"reporter_request_latency" help:"Latency of requests to the APM server"`
}

// NewMetrics creates a new Metrics struct and initializes it.
func NewMetrics(factory metrics.Factory, globalTags map[string]string) *Metrics {
	if factory == nil {
		factory = metrics.NullFactory
	}
	m := &Metrics{}
	metrics.MustInit(m, factory.Namespace(metrics.NSOptions{Name: "apm"}), globalTags)
	return m
}

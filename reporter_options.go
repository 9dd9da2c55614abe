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
	"time"
)

// ReporterOption is a function that sets some option on the reporter.
type ReporterOption func(c *reporterOptions)

// ReporterOptions is a factory for all available ReporterOption's
var ReporterOptions reporterOptions

// reporterOptions control behavior of the remote reporter.
type reporterOptions struct {
	// maxBufferedBatches caps the intake buffer; zero means unbounded
	maxBufferedBatches int
	// flushInterval is how long the reporter waits after finding the buffer empty
	flushInterval time.Duration
	// shutdownTimeout bounds the final drain performed by Close
	shutdownTimeout time.Duration
	// mergeBatches sends batches sharing metadata in one request
	mergeBatches bool
	// retryPolicy decides whether failed sends are repeated
	retryPolicy RetryPolicy
	// logger is used to log errors of batch submissions
	logger Logger
	// errorLogRate limits logged errors per second; zero logs every error
	errorLogRate float64
	// metrics is used to record runtime stats
	metrics *Metrics
}

// MaxBufferedBatches creates a ReporterOption that caps the number of batches
// held between drains. When the cap is reached new batches are dropped. Zero,
// the default, leaves the buffer unbounded.
func (reporterOptions) MaxBufferedBatches(n int) ReporterOption {
	return func(r *reporterOptions) {
		r.maxBufferedBatches = n
	}
}

// FlushInterval creates a ReporterOption that sets how long the reporter
// sleeps after finding the buffer empty.
func (reporterOptions) FlushInterval(interval time.Duration) ReporterOption {
	return func(r *reporterOptions) {
		r.flushInterval = interval
	}
}

// ShutdownTimeout creates a ReporterOption that bounds how long Close waits
// for the final drain to be delivered.
func (reporterOptions) ShutdownTimeout(timeout time.Duration) ReporterOption {
	return func(r *reporterOptions) {
		r.shutdownTimeout = timeout
	}
}

// MergeBatches creates a ReporterOption that makes the reporter send every run
// of drained batches with identical metadata as a single request instead of
// one request per batch.
func (reporterOptions) MergeBatches(merge bool) ReporterOption {
	return func(r *reporterOptions) {
		r.mergeBatches = merge
	}
}

// RetryPolicy creates a ReporterOption that sets the delivery policy. The
// default is BestEffort.
func (reporterOptions) RetryPolicy(policy RetryPolicy) ReporterOption {
	return func(r *reporterOptions) {
		r.retryPolicy = policy
	}
}

// Logger creates a ReporterOption that initializes the logger used to log
// errors of batch submissions.
func (reporterOptions) Logger(logger Logger) ReporterOption {
	return func(r *reporterOptions) {
		r.logger = logger
	}
}

// Metrics creates a ReporterOption that initializes Metrics in the reporter,
// which is used to record runtime statistics.
func (reporterOptions) Metrics(metrics *Metrics) ReporterOption {
	return func(r *reporterOptions) {
		r.metrics = metrics
	}
}

// ErrorLogRate creates a ReporterOption that limits how many delivery errors
// per second are passed to the logger. Zero, the default, logs every error.
func (reporterOptions) ErrorLogRate(perSecond float64) ReporterOption {
	return func(r *reporterOptions) {
		r.errorLogRate = perSecond
	}
}

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

package config

import (
	"github.com/uber/jaeger-lib/metrics"

	apm "github.com/tlee21/tracing-elastic-apm"
)

// ClientOption is a function that sets some option on the client.
type ClientOption func(c *ClientOptions)

// ClientOptions control behavior of the client.
type ClientOptions struct {
	metrics *apm.Metrics
	logger  apm.Logger
	sender  apm.Sender
}

// Metrics creates a ClientOption that initializes Metrics in the client,
// which is used to emit statistics.
func Metrics(factory metrics.Factory) ClientOption {
	return func(c *ClientOptions) {
		c.metrics = apm.NewMetrics(factory, nil)
	}
}

// Logger can be provided to log delivery errors, as well as to log batches
// if LogBatches is set to true.
func Logger(logger apm.Logger) ClientOption {
	return func(c *ClientOptions) {
		c.logger = logger
	}
}

// Sender replaces the HTTP transport built from the configuration. The TLS
// and authorization settings are not used when a sender is given.
func Sender(sender apm.Sender) ClientOption {
	return func(c *ClientOptions) {
		c.sender = sender
	}
}

func applyOptions(options ...ClientOption) ClientOptions {
	opts := ClientOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.metrics == nil {
		opts.metrics = apm.NewMetrics(metrics.NullFactory, nil)
	}
	if opts.logger == nil {
		opts.logger = apm.NullLogger
	}
	return opts
}

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
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	apm "github.com/tlee21/tracing-elastic-apm"
	"github.com/tlee21/tracing-elastic-apm/transport"
)

// ErrMissingServerURL is returned when no APM server URL is configured.
var ErrMissingServerURL = errors.New("no APM server URL provided")

// Configuration configures and creates an APM Client.
type Configuration struct {
	// Disabled makes NewClient return a client that discards every batch.
	// No connection settings are required or checked.
	Disabled bool `yaml:"disabled"`

	// ServerURL is the base URL of the APM server, e.g. http://localhost:8200
	ServerURL string `yaml:"serverUrl"`

	// SecretToken authorizes requests with "Authorization: Bearer <token>".
	SecretToken string `yaml:"secretToken"`

	// APIKey authorizes requests with "Authorization: ApiKey <base64(id:key)>".
	// It takes precedence over SecretToken when both are set.
	APIKey *APIKeyConfig `yaml:"apiKey"`

	// AllowInvalidCertificates disables verification of the server certificate.
	// Only meant for development against self-signed servers.
	AllowInvalidCertificates bool `yaml:"allowInvalidCertificates"`

	// RootCertPath is a PEM file with an extra trusted root certificate.
	RootCertPath string `yaml:"rootCertPath"`

	// FlushInterval controls how long the reporter waits after finding its
	// buffer empty. Defaults to one second.
	FlushInterval time.Duration `yaml:"flushInterval"`

	// ShutdownTimeout bounds the final delivery performed by Client.Close.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RequestTimeout bounds each request. No timeout by default.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// MaxBufferedBatches caps the number of batches waiting for delivery;
	// zero leaves the buffer unbounded.
	MaxBufferedBatches int `yaml:"maxBufferedBatches"`

	// MergeBatches sends batches with identical metadata in one request.
	MergeBatches bool `yaml:"mergeBatches"`

	// Compress gzips request bodies.
	Compress bool `yaml:"compress"`

	// LogBatches, when true, enables a logging reporter that runs in parallel
	// with the main reporter and logs all submitted batches. A Logger must be
	// passed to NewClient for this option to have any effect.
	LogBatches bool `yaml:"logBatches"`

	// ErrorLogRate limits delivery errors logged per second. Zero logs all.
	ErrorLogRate float64 `yaml:"errorLogRate"`

	// Retry enables repeated delivery attempts. Without it every batch is sent
	// at most once.
	Retry *RetryConfig `yaml:"retry"`

	// Service, Process, System, User and Cloud are descriptors placed in the
	// metadata returned by Metadata. They are not interpreted.
	Service map[string]interface{} `yaml:"service"`
	Process map[string]interface{} `yaml:"process"`
	System  map[string]interface{} `yaml:"system"`
	User    map[string]interface{} `yaml:"user"`
	Cloud   map[string]interface{} `yaml:"cloud"`
}

// APIKeyConfig is an API key id and secret.
type APIKeyConfig struct {
	ID  string `yaml:"id"`
	Key string `yaml:"key"`
}

// RetryConfig configures the backoff retry policy.
type RetryConfig struct {
	// MaxAttempts is the number of sends per batch, including the first.
	MaxAttempts int `yaml:"maxAttempts"`

	// InitialBackoff is the wait after the first failure; it doubles for
	// every further failure.
	InitialBackoff time.Duration `yaml:"initialBackoff"`
}

// Authorization returns the configured credential, or nil.
func (c *Configuration) Authorization() apm.Authorization {
	if c.APIKey != nil {
		return apm.NewAPIKey(c.APIKey.ID, c.APIKey.Key)
	}
	if c.SecretToken != "" {
		return apm.SecretToken(c.SecretToken)
	}
	return nil
}

// Metadata returns the configured descriptors for use as batch metadata.
func (c *Configuration) Metadata() apm.Metadata {
	return apm.Metadata{
		Service: descriptor(c.Service),
		Process: descriptor(c.Process),
		System:  descriptor(c.System),
		User:    descriptor(c.User),
		Cloud:   descriptor(c.Cloud),
	}
}

func descriptor(m map[string]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

// RetryPolicy returns the delivery policy described by Retry.
func (c *Configuration) RetryPolicy() apm.RetryPolicy {
	if c.Retry == nil {
		return apm.BestEffort
	}
	return apm.NewBackoffRetry(c.Retry.MaxAttempts, c.Retry.InitialBackoff)
}

// Validate checks that the configuration can produce a client. All problems
// found are reported together.
func (c *Configuration) Validate() error {
	var err error
	if c.ServerURL == "" {
		err = multierr.Append(err, ErrMissingServerURL)
	}
	if c.MaxBufferedBatches < 0 {
		err = multierr.Append(err, errors.Errorf("invalid maxBufferedBatches %d: must not be negative", c.MaxBufferedBatches))
	}
	if c.APIKey != nil && c.APIKey.ID == "" {
		err = multierr.Append(err, errors.New("apiKey requires an id"))
	}
	if c.Retry != nil && c.Retry.MaxAttempts < 0 {
		err = multierr.Append(err, errors.Errorf("invalid retry maxAttempts %d: must not be negative", c.Retry.MaxAttempts))
	}
	return err
}

// NewClient creates a new APM Client. Its background delivery loop is running
// when NewClient returns; call Client.Close to flush and stop it.
//
// Errors building the HTTP client, such as an unreadable root certificate, are
// returned before anything is started.
func (c Configuration) NewClient(options ...ClientOption) (*apm.Client, error) {
	opts := applyOptions(options...)
	if c.Disabled {
		return apm.NewClient(c.withBatchLogging(apm.NewNoopReporter(), opts)), nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sender := opts.sender
	if sender == nil {
		var err error
		if sender, err = c.newTransport(); err != nil {
			return nil, err
		}
	}

	reporter := apm.NewRemoteReporter(
		sender,
		apm.ReporterOptions.FlushInterval(c.FlushInterval),
		apm.ReporterOptions.ShutdownTimeout(c.ShutdownTimeout),
		apm.ReporterOptions.MaxBufferedBatches(c.MaxBufferedBatches),
		apm.ReporterOptions.MergeBatches(c.MergeBatches),
		apm.ReporterOptions.RetryPolicy(c.RetryPolicy()),
		apm.ReporterOptions.Logger(opts.logger),
		apm.ReporterOptions.ErrorLogRate(c.ErrorLogRate),
		apm.ReporterOptions.Metrics(opts.metrics),
	)
	return apm.NewClient(c.withBatchLogging(reporter, opts)), nil
}

func (c *Configuration) withBatchLogging(reporter apm.Reporter, opts ClientOptions) apm.Reporter {
	if !c.LogBatches || opts.logger == nil {
		return reporter
	}
	opts.logger.Infof("Initializing logging reporter")
	return apm.NewCompositeReporter(apm.NewLoggingReporter(opts.logger), reporter)
}

func (c *Configuration) newTransport() (*transport.HTTPTransport, error) {
	client, err := transport.NewHTTPClient(transport.TLSOptions{
		AllowInvalidCertificates: c.AllowInvalidCertificates,
		RootCertPath:             c.RootCertPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create HTTP client")
	}
	return transport.NewHTTPTransport(
		c.ServerURL,
		transport.HTTPClient(client),
		transport.HTTPAuthorization(c.Authorization()),
		transport.HTTPTimeout(c.RequestTimeout),
		transport.HTTPCompression(c.Compress),
	)
}

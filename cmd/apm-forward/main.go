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

// apm-forward reads newline-delimited JSON events and forwards them to an
// Elastic APM server. Each input line is an object with a metadata key and
// any of the transaction, span and error keys.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	jprom "github.com/uber/jaeger-lib/metrics/prometheus"
	"go.uber.org/zap"

	apm "github.com/tlee21/tracing-elastic-apm"
	"github.com/tlee21/tracing-elastic-apm/config"
	apmzap "github.com/tlee21/tracing-elastic-apm/log/zap"
	apmzerolog "github.com/tlee21/tracing-elastic-apm/log/zerolog"
)

var exampleUsage = strings.TrimSpace(`
  app | apm-forward --server-url http://localhost:8200 --secret-token <token>
  apm-forward --config apm.yaml --input events.ndjson
`)

type options struct {
	configPath string
	input      string
	adminAddr  string
	logFormat  string

	serverURL     string
	secretToken   string
	rootCert      string
	allowInvalid  bool
	flushInterval time.Duration
	maxBuffered   int
	merge         bool
	compress      bool
	errorLogRate  float64
	dryRun        bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "apm-forward",
		Short:        "Forward newline-delimited JSON events to an Elastic APM server",
		Example:      exampleUsage,
		Version:      apm.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			return run(opts, changed)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML or TOML config file")
	flags.StringVar(&opts.input, "input", "-", "file to read events from, - for stdin")
	flags.StringVar(&opts.adminAddr, "admin-addr", ":14271", "address serving /metrics and /healthz, empty to disable")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format: json or console")

	flags.StringVar(&opts.serverURL, "server-url", "", "APM server URL")
	flags.StringVar(&opts.secretToken, "secret-token", "", "secret token for the APM server")
	flags.StringVar(&opts.rootCert, "root-cert", "", "PEM file with an extra trusted root certificate")
	flags.BoolVar(&opts.allowInvalid, "allow-invalid-certs", false, "skip verification of the server certificate")
	flags.DurationVar(&opts.flushInterval, "flush-interval", time.Second, "wait after finding the buffer empty")
	flags.IntVar(&opts.maxBuffered, "max-buffered-batches", 0, "maximum batches awaiting delivery, 0 for no limit")
	flags.BoolVar(&opts.merge, "merge", false, "send batches with identical metadata in one request")
	flags.BoolVar(&opts.compress, "compress", false, "gzip request bodies")
	flags.Float64Var(&opts.errorLogRate, "error-log-rate", 0, "maximum delivery errors logged per second, 0 for no limit")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log batches instead of sending them")
	return root
}

// apply overrides cfg with the flags set on the command line.
func (o *options) apply(cfg *config.Configuration, changed map[string]bool) {
	if changed["server-url"] {
		cfg.ServerURL = o.serverURL
	}
	if changed["secret-token"] {
		cfg.SecretToken = o.secretToken
	}
	if changed["root-cert"] {
		cfg.RootCertPath = o.rootCert
	}
	if changed["allow-invalid-certs"] {
		cfg.AllowInvalidCertificates = o.allowInvalid
	}
	if changed["flush-interval"] {
		cfg.FlushInterval = o.flushInterval
	}
	if changed["max-buffered-batches"] {
		cfg.MaxBufferedBatches = o.maxBuffered
	}
	if changed["merge"] {
		cfg.MergeBatches = o.merge
	}
	if changed["compress"] {
		cfg.Compress = o.compress
	}
	if changed["error-log-rate"] {
		cfg.ErrorLogRate = o.errorLogRate
	}
	if changed["dry-run"] && o.dryRun {
		cfg.Disabled = true
		cfg.LogBatches = true
	}
}

// loadConfiguration layers the config file, the environment and the flags.
func loadConfiguration(o *options, changed map[string]bool) (*config.Configuration, error) {
	cfg := &config.Configuration{}
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	o.apply(cfg, changed)
	return cfg, nil
}

func newLogger(format string) (apm.Logger, func(), error) {
	switch format {
	case "json":
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, nil, err
		}
		return apmzap.NewLogger(logger), func() { _ = logger.Sync() }, nil
	case "console":
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		return apmzerolog.NewLogger(logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func run(o *options, changed map[string]bool) error {
	cfg, err := loadConfiguration(o, changed)
	if err != nil {
		return err
	}
	logger, syncLogger, err := newLogger(o.logFormat)
	if err != nil {
		return err
	}
	defer syncLogger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	metricsFactory := jprom.New(jprom.WithRegisterer(registry))

	client, err := cfg.NewClient(config.Logger(logger), config.Metrics(metricsFactory))
	if err != nil {
		return err
	}
	defer client.Close()

	if o.adminAddr != "" {
		server := &http.Server{
			Addr:              o.adminAddr,
			Handler:           newAdminRouter(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(fmt.Sprintf("admin server failed: %v", err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
	}

	input, err := openInput(o.input)
	if err != nil {
		return err
	}
	defer input.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := forward(ctx, input, client, defaultMetadata(cfg), logger)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		logger.Infof("Forwarded %d batches, flushing", res.n)
		return res.err
	case <-ctx.Done():
		logger.Infof("Received signal, flushing")
		return nil
	}
}

func defaultMetadata(cfg *config.Configuration) interface{} {
	metadata := cfg.Metadata()
	if metadata.IsZero() {
		return nil
	}
	return metadata
}

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

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jprom "github.com/uber/jaeger-lib/metrics/prometheus"

	apm "github.com/tlee21/tracing-elastic-apm"
)

func TestParseLine(t *testing.T) {
	batch, err := parseLine([]byte(`{"metadata":{"service":{"name":"a"}},"transaction":{"id":"t"},"span":null}`), nil)
	require.NoError(t, err)
	assert.Nil(t, batch.Span())
	assert.Nil(t, batch.Error())
	assert.Equal(t,
		"{\"metadata\":{\"service\":{\"name\":\"a\"}}}\n{\"transaction\":{\"id\":\"t\"}}\n",
		batch.String())
}

func TestParseLineDefaultMetadata(t *testing.T) {
	defaults := apm.Metadata{Service: map[string]string{"name": "default"}}

	batch, err := parseLine([]byte(`{"error":{"id":"e"}}`), defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, batch.Metadata())

	batch, err = parseLine([]byte(`{"metadata":{"x":1}}`), defaults)
	require.NoError(t, err)
	assert.Equal(t, "{\"metadata\":{\"x\":1}}\n", batch.String())
}

func TestParseLineErrors(t *testing.T) {
	_, err := parseLine([]byte(`{"span":{}}`), nil)
	assert.Equal(t, errMissingMetadata, err)

	_, err = parseLine([]byte(`not json`), nil)
	assert.Error(t, err)
}

func TestForward(t *testing.T) {
	reporter := apm.NewInMemoryReporter()
	client := apm.NewClient(reporter)
	logger := &testLogger{}

	input := strings.NewReader(`{"metadata":{"m":1},"span":{"id":"s1"}}

garbage
{"metadata":{"m":2},"span":{"id":"s2"}}
`)
	n, err := forward(context.Background(), input, client, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, logger.errors, 1)

	batches := reporter.GetBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, "{\"metadata\":{\"m\":1}}\n{\"span\":{\"id\":\"s1\"}}\n", batches[0].String())
	assert.Equal(t, "{\"metadata\":{\"m\":2}}\n{\"span\":{\"id\":\"s2\"}}\n", batches[1].String())
}

func TestForwardStopsWhenCancelled(t *testing.T) {
	reporter := apm.NewInMemoryReporter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := forward(ctx, strings.NewReader(`{"metadata":{}}`), apm.NewClient(reporter), nil, apm.NullLogger)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, reporter.BatchesSubmitted())
}

func TestLoadConfigurationPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serverUrl: http://file:8200\nsecretToken: from-file\nflushInterval: 3s\n"), 0o600))
	t.Setenv("ELASTIC_APM_SECRET_TOKEN", "from-env")
	t.Setenv("ELASTIC_APM_FLUSH_INTERVAL", "2s")

	o := &options{configPath: path, flushInterval: 500 * time.Millisecond, merge: true}
	cfg, err := loadConfiguration(o, map[string]bool{"flush-interval": true})
	require.NoError(t, err)
	assert.Equal(t, "http://file:8200", cfg.ServerURL)
	assert.Equal(t, "from-env", cfg.SecretToken)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushInterval)
	assert.False(t, cfg.MergeBatches, "unchanged flags must not override")
}

func TestDryRunDisablesDelivery(t *testing.T) {
	o := &options{dryRun: true}
	cfg, err := loadConfiguration(o, map[string]bool{"dry-run": true})
	require.NoError(t, err)
	assert.True(t, cfg.Disabled)
	assert.True(t, cfg.LogBatches)

	client, err := cfg.NewClient()
	require.NoError(t, err, "a dry run needs no server URL")
	assert.NoError(t, client.Close())
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "input", "admin-addr", "server-url", "secret-token", "merge", "compress", "dry-run"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, sync, err := newLogger(format)
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
		sync()
	}
	_, _, err := newLogger("xml")
	assert.Error(t, err)
}

func TestAdminRouter(t *testing.T) {
	registry := prometheus.NewRegistry()
	factory := jprom.New(jprom.WithRegisterer(registry))
	metrics := apm.NewMetrics(factory, nil)
	metrics.ReporterSuccess.Inc(3)

	server := httptest.NewServer(newAdminRouter(registry))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `apm_reporter_batches{state="success"} 3`)
}

type testLogger struct {
	errors []string
}

func (l *testLogger) Error(msg string) {
	l.errors = append(l.errors, msg)
}

func (l *testLogger) Infof(msg string, args ...interface{}) {}

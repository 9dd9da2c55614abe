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

package testutils

import (
	"bytes"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/atomic"
)

const intakePath = "/intake/v2/events"

// StartMockCollector runs a mock representation of the APM server intake API
// over plain HTTP. This function returns a started server.
func StartMockCollector() *MockCollector {
	c := newMockCollector()
	c.server = httptest.NewServer(c)
	return c
}

// StartMockTLSCollector runs the mock APM server over HTTPS with a self-signed
// certificate, available from CertPEM.
func StartMockTLSCollector() *MockCollector {
	c := newMockCollector()
	c.server = httptest.NewTLSServer(c)
	return c
}

func newMockCollector() *MockCollector {
	return &MockCollector{status: atomic.NewInt32(http.StatusAccepted)}
}

// MockCollector is a mock representation of the APM server.
// It records every request made to the intake endpoint.
type MockCollector struct {
	server   *httptest.Server
	status   *atomic.Int32
	mutex    sync.Mutex
	requests []CollectorRequest
}

// CollectorRequest is one request received by MockCollector.
type CollectorRequest struct {
	Header http.Header
	// Body is the request body, decompressed when it was gzip encoded
	Body []byte
}

// Lines returns the non-empty lines of the body.
func (r CollectorRequest) Lines() []string {
	var lines []string
	for _, line := range strings.Split(string(r.Body), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// URL returns the base URL of the mock server.
func (c *MockCollector) URL() string {
	return c.server.URL
}

// CertPEM returns the PEM encoded certificate of a TLS mock server.
func (c *MockCollector) CertPEM() []byte {
	cert := c.server.Certificate()
	if cert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// SetStatus sets the status code returned for intake requests.
func (c *MockCollector) SetStatus(code int) {
	c.status.Store(int32(code))
}

// Requests returns a copy of the requests received so far.
func (c *MockCollector) Requests() []CollectorRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	requests := make([]CollectorRequest, len(c.requests))
	copy(requests, c.requests)
	return requests
}

// Close stops the server.
func (c *MockCollector) Close() {
	c.server.Close()
}

func (c *MockCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != intakePath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mutex.Lock()
	c.requests = append(c.requests, CollectorRequest{Header: r.Header.Clone(), Body: buf.Bytes()})
	c.mutex.Unlock()

	status := int(c.status.Load())
	if status/100 != 2 {
		http.Error(w, `{"error":"rejected by mock collector"}`, status)
		return
	}
	w.WriteHeader(status)
}

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

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	apm "github.com/tlee21/tracing-elastic-apm"
)

const (
	// IntakePath is the APM server endpoint that accepts event batches.
	IntakePath = "/intake/v2/events"

	ndjsonContentType = "application/x-ndjson"

	// maxErrorBodyBytes limits how much of an error response ends up in the error.
	maxErrorBodyBytes = 1024
)

// StatusError is returned by HTTPTransport.Send when the APM server answers
// with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("APM server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("APM server returned %d: %s", e.StatusCode, e.Body)
}

// HTTPTransport sends batches to the APM server intake API as
// newline-delimited JSON, one request per Send.
type HTTPTransport struct {
	url           string
	client        *http.Client
	timeout       time.Duration
	authorization string
	headers       map[string]string
	compress      bool
}

// HTTPOption sets a parameter for the HTTPTransport
type HTTPOption func(c *HTTPTransport)

// HTTPClient sets the HTTP client used for requests, typically one built by
// NewHTTPClient with the desired TLS trust settings.
func HTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPTransport) { c.client = client }
}

// HTTPTimeout sets a timeout for each request. There is none by default.
func HTTPTimeout(duration time.Duration) HTTPOption {
	return func(c *HTTPTransport) { c.timeout = duration }
}

// HTTPAuthorization sets the credential attached to every request. The header
// value is computed once, here.
func HTTPAuthorization(auth apm.Authorization) HTTPOption {
	return func(c *HTTPTransport) { c.authorization = apm.ResolveAuthorization(auth) }
}

// HTTPHeaders sets custom headers for every request.
func HTTPHeaders(headers map[string]string) HTTPOption {
	return func(c *HTTPTransport) { c.headers = headers }
}

// HTTPCompression gzips request bodies when enabled.
func HTTPCompression(enabled bool) HTTPOption {
	return func(c *HTTPTransport) { c.compress = enabled }
}

// NewHTTPTransport returns a new HTTP-backend transport posting to the intake
// endpoint of the APM server at serverURL.
func NewHTTPTransport(serverURL string, options ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid APM server URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("invalid APM server URL %q: expecting http(s)://host[:port]", serverURL)
	}

	c := &HTTPTransport{
		url: strings.TrimSuffix(serverURL, "/") + IntakePath,
	}
	for _, option := range options {
		option(c)
	}
	if c.client == nil {
		if c.client, err = NewHTTPClient(TLSOptions{}); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		client := *c.client
		client.Timeout = c.timeout
		c.client = &client
	}
	return c, nil
}

// URL returns the intake endpoint requests are sent to.
func (c *HTTPTransport) URL() string {
	return c.url
}

// Send implements apm.Sender. The body carries the metadata line of the first
// batch followed by the event lines of every batch, so batches passed together
// are expected to share metadata.
func (c *HTTPTransport) Send(ctx context.Context, batches []*apm.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	body, err := c.encode(batches)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "cannot create request")
	}
	req.Header.Set("Content-Type", ndjsonContentType)
	req.Header.Set("User-Agent", apm.UserAgent)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPTransport) encode(batches []*apm.Batch) ([]byte, error) {
	var body bytes.Buffer
	var w io.Writer = &body
	var zw *gzip.Writer
	if c.compress {
		zw = gzip.NewWriter(&body)
		w = zw
	}

	meta, err := batches[0].MetadataLine()
	if err != nil {
		return nil, err
	}
	w.Write(meta)
	for _, batch := range batches {
		events, err := batch.EventLines()
		if err != nil {
			return nil, err
		}
		w.Write(events)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "cannot compress request body")
		}
	}
	return body.Bytes(), nil
}

// Close implements Close() of apm.Sender by releasing idle connections.
func (c *HTTPTransport) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

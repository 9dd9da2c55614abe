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

// Client is the handle application code holds to submit batches to the APM server.
// It is safe for concurrent use.
type Client struct {
	reporter Reporter
}

// NewClient creates a Client that hands every batch to reporter.
func NewClient(reporter Reporter) *Client {
	return &Client{reporter: reporter}
}

// NewRemoteClient creates a Client backed by a remote reporter delivering through
// sender. The reporter's flush loop is running when NewRemoteClient returns.
func NewRemoteClient(sender Sender, opts ...ReporterOption) *Client {
	return NewClient(NewRemoteReporter(sender, opts...))
}

// SendBatch queues batch for delivery. It never blocks on network I/O and never
// fails; delivery problems are only visible in the reporter's log and metrics.
func (c *Client) SendBatch(batch *Batch) {
	c.reporter.Report(batch)
}

// Close stops background delivery after a final best-effort flush. Batches sent
// after Close are dropped.
func (c *Client) Close() error {
	c.reporter.Close()
	return nil
}

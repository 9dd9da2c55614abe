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
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Reporter is called by the client when a batch is submitted, to deliver it to the APM server.
type Reporter interface {
	// Report submits a new batch, possibly asynchronously and/or with buffering.
	Report(batch *Batch)

	// Close does a clean shutdown of the reporter, flushing any batches that may be buffered in memory.
	Close()
}

// ------------------------------

type noopReporter struct{}

// NewNoopReporter creates a reporter that ignores all reported batches.
func NewNoopReporter() Reporter {
	return &noopReporter{}
}

// Report implements Report() method of Reporter by doing nothing.
func (r *noopReporter) Report(batch *Batch) {
	// noop
}

// Close implements Close() method of Reporter by doing nothing.
func (r *noopReporter) Close() {
	// noop
}

// ------------------------------

type loggingReporter struct {
	logger Logger
}

// NewLoggingReporter creates a reporter that logs all reported batches to provided logger.
func NewLoggingReporter(logger Logger) Reporter {
	return &loggingReporter{logger}
}

// Report implements Report() method of Reporter by logging the batch to the logger.
func (r *loggingReporter) Report(batch *Batch) {
	if batch == nil {
		return
	}
	r.logger.Infof("Reporting batch %s", batch)
}

// Close implements Close() method of Reporter by doing nothing.
func (r *loggingReporter) Close() {
	// noop
}

// ------------------------------

// InMemoryReporter is used for testing, and simply collects batches in memory.
type InMemoryReporter struct {
	batches []*Batch
	lock    sync.Mutex
}

// NewInMemoryReporter creates a reporter that stores batches in memory.
func NewInMemoryReporter() *InMemoryReporter {
	return &InMemoryReporter{
		batches: make([]*Batch, 0, 10),
	}
}

// Report implements Report() method of Reporter by storing the batch in the buffer.
func (r *InMemoryReporter) Report(batch *Batch) {
	if batch == nil {
		return
	}
	r.lock.Lock()
	r.batches = append(r.batches, batch)
	r.lock.Unlock()
}

// Close implements Close() method of Reporter by doing nothing.
func (r *InMemoryReporter) Close() {
	// noop
}

// BatchesSubmitted returns the number of batches accumulated in the buffer.
func (r *InMemoryReporter) BatchesSubmitted() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.batches)
}

// GetBatches returns accumulated batches as a copy of the buffer.
func (r *InMemoryReporter) GetBatches() []*Batch {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := make([]*Batch, len(r.batches))
	copy(copied, r.batches)
	return copied
}

// Reset clears all accumulated batches.
func (r *InMemoryReporter) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.batches = r.batches[:0]
}

// ------------------------------

type compositeReporter struct {
	reporters []Reporter
}

// NewCompositeReporter creates a reporter that delegates each batch to all given reporters.
func NewCompositeReporter(reporters ...Reporter) Reporter {
	return &compositeReporter{reporters: reporters}
}

// Report implements Report() method of Reporter by delegating to each underlying reporter.
func (r *compositeReporter) Report(batch *Batch) {
	for _, reporter := range r.reporters {
		reporter.Report(batch)
	}
}

// Close implements Close() method of Reporter by closing each underlying reporter.
func (r *compositeReporter) Close() {
	for _, reporter := range r.reporters {
		reporter.Close()
	}
}

// ------------------------------

const (
	defaultFlushInterval   = time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// remoteReporter buffers reported batches and delivers them from a single
// background go-routine. Delivery is sequential, in drain order.
type remoteReporter struct {
	reporterOptions
	sender Sender
	buffer *intakeBuffer

	closed *atomic.Bool
	// stop is closed by Close to end the flush loop
	stop chan struct{}
	// done is closed when the flush loop has returned
	done chan struct{}
	// sendCtx is passed to the sender; it is only cancelled once the
	// shutdown timeout expires
	sendCtx    context.Context
	cancelSend context.CancelFunc
	// shutdownDeadline is set by Close before stop is closed
	shutdownDeadline time.Time

	flushSignal chan *sync.WaitGroup // for testing
}

// NewRemoteReporter creates a new reporter that sends batches out of process by
// means of Sender. The reporter starts its flush loop immediately; it runs until
// Close is called.
func NewRemoteReporter(sender Sender, opts ...ReporterOption) Reporter {
	reporter := newRemoteReporter(sender, opts...)
	go reporter.processQueue()
	return reporter
}

func newRemoteReporter(sender Sender, opts ...ReporterOption) *remoteReporter {
	options := reporterOptions{}
	for _, option := range opts {
		option(&options)
	}
	if options.flushInterval <= 0 {
		options.flushInterval = defaultFlushInterval
	}
	if options.shutdownTimeout <= 0 {
		options.shutdownTimeout = defaultShutdownTimeout
	}
	if options.retryPolicy == nil {
		options.retryPolicy = BestEffort
	}
	if options.logger == nil {
		options.logger = NullLogger
	}
	if options.errorLogRate > 0 {
		options.logger = newThrottledLogger(options.logger, options.errorLogRate)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics(nil, nil)
	}

	sendCtx, cancelSend := context.WithCancel(context.Background())
	reporter := &remoteReporter{
		reporterOptions: options,
		sender:          sender,
		buffer:          newIntakeBuffer(options.maxBufferedBatches),
		closed:          atomic.NewBool(false),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		sendCtx:         sendCtx,
		cancelSend:      cancelSend,
		flushSignal:     make(chan *sync.WaitGroup),
	}
	return reporter
}

// Report implements Report() method of Reporter.
// It appends the batch to the intake buffer and returns without waiting for delivery.
func (r *remoteReporter) Report(batch *Batch) {
	if batch == nil {
		return
	}
	if !r.buffer.add(batch) {
		r.metrics.ReporterDropped.Inc(1)
	}
}

// Close implements Close() method of Reporter. It stops the flush loop, delivers
// whatever is still buffered within the shutdown timeout, and closes the sender.
func (r *remoteReporter) Close() {
	if !r.closed.CAS(false, true) {
		r.logger.Error("Repeated attempt to close the reporter is ignored")
		return
	}
	r.buffer.close()
	r.shutdownDeadline = time.Now().Add(r.shutdownTimeout)
	close(r.stop)

	deadline := time.AfterFunc(r.shutdownTimeout, r.cancelSend)
	<-r.done
	deadline.Stop()
	r.cancelSend()

	if err := r.sender.Close(); err != nil {
		logError(r.logger, "error closing sender", err)
	}
}

// processQueue drains the intake buffer and delivers what it took. It sleeps
// for flushInterval only when a drain comes back empty.
func (r *remoteReporter) processQueue() {
	defer close(r.done)

	idle := time.NewTimer(r.flushInterval)
	defer idle.Stop()

	for {
		if batches := r.buffer.drain(); len(batches) > 0 {
			r.metrics.ReporterBufferLength.Update(int64(len(batches)))
			if unsent := r.deliver(r.sendCtx, r.stop, batches); len(unsent) > 0 {
				r.shutdown(unsent)
				return
			}
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(r.flushInterval)

		select {
		case <-r.stop:
			r.shutdown(nil)
			return
		case <-idle.C:
		case wg := <-r.flushSignal: // for testing
			if unsent := r.deliver(r.sendCtx, r.stop, r.buffer.drain()); len(unsent) > 0 {
				wg.Done()
				r.shutdown(unsent)
				return
			}
			wg.Done()
		}
	}
}

// shutdown delivers unsent together with anything left in the (closed) buffer.
func (r *remoteReporter) shutdown(unsent []*Batch) {
	batches := append(unsent, r.buffer.drain()...)
	if len(batches) == 0 {
		return
	}
	if rest := r.deliver(r.sendCtx, nil, batches); len(rest) > 0 {
		r.metrics.ReporterDropped.Inc(int64(len(rest)))
		r.logger.Error(fmt.Sprintf("Dropped %d batches that could not be sent before the shutdown timeout", len(rest)))
	}
}

// deliver sends batches in order, one request per batch or per run of shared
// metadata when merging. A failed send does not stop the remaining ones. It
// returns the batches it did not get to because stop was closed or ctx ended.
func (r *remoteReporter) deliver(ctx context.Context, stop <-chan struct{}, batches []*Batch) []*Batch {
	groups := r.group(batches)
	for i, group := range groups {
		if ctx.Err() != nil || isClosed(stop) || !r.send(ctx, stop, group) {
			var unsent []*Batch
			for _, g := range groups[i:] {
				unsent = append(unsent, g...)
			}
			return unsent
		}
	}
	return nil
}

func (r *remoteReporter) group(batches []*Batch) [][]*Batch {
	if r.mergeBatches {
		return groupByMetadata(batches)
	}
	groups := make([][]*Batch, len(batches))
	for i, batch := range batches {
		groups[i] = []*Batch{batch}
	}
	return groups
}

// send performs one delivery of batches, repeating it while the retry policy
// allows. It returns false when stop closes during a backoff wait; the batches
// then count as neither sent nor failed. A nil stop marks the final drain, where
// a retry is only attempted if its wait ends before the shutdown deadline.
func (r *remoteReporter) send(ctx context.Context, stop <-chan struct{}, batches []*Batch) bool {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := r.sender.Send(ctx, batches)
		r.metrics.ReporterRequestLatency.Record(time.Since(start))
		if err == nil {
			r.metrics.ReporterSuccess.Inc(int64(len(batches)))
			return true
		}

		wait, retry := r.retryPolicy.Backoff(attempt, err)
		if retry && stop == nil && time.Now().Add(wait).After(r.shutdownDeadline) {
			retry = false
		}
		if retry {
			slept, stopped := sleep(ctx, stop, wait)
			if stopped {
				return false
			}
			if slept {
				r.metrics.ReporterRetries.Inc(1)
				continue
			}
		}
		r.metrics.ReporterFailure.Inc(int64(len(batches)))
		logError(r.logger, "Error sending batch to APM server", err)
		return true
	}
}

// sleep waits for d. It reports whether the wait completed, and whether it was
// cut short by stop rather than by ctx.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) (slept, stopped bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true, false
	case <-stop:
		return false, true
	case <-ctx.Done():
		return false, false
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

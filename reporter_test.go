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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uber/jaeger-lib/metrics/metricstest"
)

type reporterSuite struct {
	suite.Suite
	reporter       *remoteReporter
	client         *Client
	collector      *fakeSender
	logger         *recordingFieldLogger
	metricsFactory *metricstest.Factory
}

func (s *reporterSuite) SetupTest() {
	s.metricsFactory = metricstest.NewFactory(0)
	s.collector = &fakeSender{}
	s.logger = &recordingFieldLogger{}
	s.reporter = NewRemoteReporter(
		s.collector,
		ReporterOptions.Metrics(NewMetrics(s.metricsFactory, nil)),
		ReporterOptions.Logger(s.logger),
		ReporterOptions.FlushInterval(time.Hour),
	).(*remoteReporter)
	s.client = NewClient(s.reporter)
}

func (s *reporterSuite) TearDownTest() {
	s.client.Close()
	s.reporter = nil
	s.collector = nil
}

func TestReporter(t *testing.T) {
	suite.Run(t, new(reporterSuite))
}

// flushReporter waits until the flush loop has delivered everything reported so far.
func (s *reporterSuite) flushReporter() {
	var wg sync.WaitGroup
	wg.Add(1)
	s.reporter.flushSignal <- &wg
	wg.Wait()
}

func (s *reporterSuite) counter(state string) int64 {
	counters, _ := s.metricsFactory.Snapshot()
	return counters["apm.reporter_batches|state="+state]
}

func (s *reporterSuite) TestDeliversInReportOrder() {
	var want []*Batch
	for i := 0; i < 10; i++ {
		b := NewBatch(i, nil, nil, nil)
		want = append(want, b)
		s.client.SendBatch(b)
	}
	s.flushReporter()

	s.Equal(want, s.collector.Batches())
	s.Equal(10, s.collector.Calls(), "one request per batch")
	s.EqualValues(10, s.counter("success"))
	s.Equal(0, s.reporter.buffer.len())
}

func (s *reporterSuite) TestFailureDoesNotStopRemainingBatches() {
	s.collector.failOn = map[int]error{1: errors.New("connection refused")}
	for i := 0; i < 3; i++ {
		s.client.SendBatch(NewBatch(i, nil, nil, nil))
	}
	s.flushReporter()

	s.Equal(3, s.collector.Calls())
	s.Len(s.collector.Batches(), 2)
	s.EqualValues(2, s.counter("success"))
	s.EqualValues(1, s.counter("failure"))
	s.Equal([]string{"Error sending batch to APM server"}, s.logger.Errors())
	s.EqualError(s.logger.causes[0], "connection refused")

	// the loop keeps running after a failure
	s.client.SendBatch(NewBatch(3, nil, nil, nil))
	s.flushReporter()
	s.Equal(4, s.collector.Calls())
}

func (s *reporterSuite) TestNilBatchIgnored() {
	s.client.SendBatch(nil)
	s.flushReporter()
	s.Equal(0, s.collector.Calls())
}

func (s *reporterSuite) TestCloseIsIdempotent() {
	s.client.SendBatch(NewBatch("last", nil, nil, nil))
	s.reporter.Close()
	s.Len(s.collector.Batches(), 1, "Close delivers buffered batches")
	s.True(s.collector.Closed())

	s.reporter.Close()
	s.Contains(s.logger.Errors(), "Repeated attempt to close the reporter is ignored")

	s.client.SendBatch(NewBatch("late", nil, nil, nil))
	s.EqualValues(1, s.counter("dropped"))
	s.Len(s.collector.Batches(), 1)
}

func TestRemoteReporterConcurrentProducers(t *testing.T) {
	const producers, perProducer = 20, 50
	sender := &fakeSender{}
	reporter := NewRemoteReporter(sender, ReporterOptions.FlushInterval(5*time.Millisecond))

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				reporter.Report(NewBatch(fmt.Sprintf("%d-%d", p, i), nil, nil, nil))
			}
		}(p)
	}
	wg.Wait()
	reporter.Close()

	batches := sender.Batches()
	require.Len(t, batches, producers*perProducer)
	seen := make(map[string]bool)
	for _, b := range batches {
		key := b.Metadata().(string)
		assert.False(t, seen[key], "batch %s delivered twice", key)
		seen[key] = true
	}
}

func TestRemoteReporterIdleWaitsFlushInterval(t *testing.T) {
	const interval = 300 * time.Millisecond
	sender := &fakeSender{}
	reporter := NewRemoteReporter(sender, ReporterOptions.FlushInterval(interval))
	defer reporter.Close()

	// let the loop observe the empty buffer and go idle
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sender.Calls(), "no request while the buffer is empty")

	reportedAt := time.Now()
	reporter.Report(NewBatch("m", nil, nil, nil))

	time.Sleep(interval / 3)
	assert.Equal(t, 0, sender.Calls(), "batch must wait for the idle interval")

	require.Eventually(t, func() bool { return sender.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	sentAt := sender.CallTimes()[0]
	assert.True(t, sentAt.Sub(reportedAt) >= interval/2, "sent after %s", sentAt.Sub(reportedAt))
}

func TestRemoteReporterRedrainsWithoutWaiting(t *testing.T) {
	sender := &gatedSender{started: make(chan struct{}), release: make(chan struct{})}
	reporter := newRemoteReporter(sender, ReporterOptions.FlushInterval(time.Hour))
	defer reporter.Close()

	first := NewBatch("m", 1, nil, nil)
	second := NewBatch("m", 2, nil, nil)
	reporter.Report(first)
	go reporter.processQueue()

	select {
	case <-sender.started:
	case <-time.After(time.Second):
		t.Fatal("first batch was not picked up")
	}
	reporter.Report(second)
	released := time.Now()
	close(sender.release)

	require.Eventually(t, func() bool { return sender.Calls() == 2 }, 200*time.Millisecond, time.Millisecond)
	assert.True(t, sender.CallTimes()[1].Sub(released) < 100*time.Millisecond)
	assert.Equal(t, []*Batch{first, second}, sender.Batches())
}

func TestRemoteReporterCloseInterruptsBackoff(t *testing.T) {
	factory := metricstest.NewFactory(0)
	sender := &fakeSender{failOn: map[int]error{
		0: errors.New("unavailable"),
		1: errors.New("unavailable"),
	}}
	reporter := newRemoteReporter(sender,
		ReporterOptions.FlushInterval(time.Hour),
		ReporterOptions.RetryPolicy(NewBackoffRetry(5, time.Hour)),
		ReporterOptions.Metrics(NewMetrics(factory, nil)),
	)
	reporter.Report(NewBatch("m", nil, nil, nil))
	go reporter.processQueue()
	require.Eventually(t, func() bool { return sender.Calls() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	reporter.Close()
	assert.True(t, time.Since(start) < time.Second, "Close waited %s", time.Since(start))

	// one more attempt in the final drain, no backoff past the shutdown deadline
	assert.Equal(t, 2, sender.Calls())
	counters, _ := factory.Snapshot()
	assert.EqualValues(t, 0, counters["apm.reporter_retries"])
	assert.EqualValues(t, 1, counters["apm.reporter_batches|state=failure"])
	assert.EqualValues(t, 0, counters["apm.reporter_batches|state=dropped"])
}

func TestRemoteReporterBufferLimit(t *testing.T) {
	factory := metricstest.NewFactory(0)
	sender := &fakeSender{}
	reporter := NewRemoteReporter(sender,
		ReporterOptions.MaxBufferedBatches(2),
		ReporterOptions.FlushInterval(time.Hour),
		ReporterOptions.Metrics(NewMetrics(factory, nil)),
	).(*remoteReporter)

	// give the loop time to go idle so nothing is drained while reporting
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		reporter.Report(NewBatch(i, nil, nil, nil))
	}
	reporter.Close()

	counters, _ := factory.Snapshot()
	assert.EqualValues(t, 3, counters["apm.reporter_batches|state=dropped"])
	batches := sender.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Metadata())
	assert.Equal(t, 1, batches[1].Metadata())
}

func TestRemoteReporterMergeBatches(t *testing.T) {
	sender := &fakeSender{}
	reporter := NewRemoteReporter(sender,
		ReporterOptions.MergeBatches(true),
		ReporterOptions.FlushInterval(time.Hour),
	).(*remoteReporter)

	time.Sleep(20 * time.Millisecond)
	reporter.Report(NewBatch("a", 1, nil, nil))
	reporter.Report(NewBatch("a", 2, nil, nil))
	reporter.Report(NewBatch("b", 3, nil, nil))
	reporter.Close()

	assert.Equal(t, 2, sender.Calls(), "one request per run of shared metadata")
	assert.Equal(t, []int{2, 1}, sender.CallSizes())
}

func TestRemoteReporterRetry(t *testing.T) {
	factory := metricstest.NewFactory(0)
	sender := &fakeSender{failOn: map[int]error{
		0: errors.New("unavailable"),
		1: errors.New("unavailable"),
	}}
	reporter := NewRemoteReporter(sender,
		ReporterOptions.RetryPolicy(NewBackoffRetry(3, time.Millisecond)),
		ReporterOptions.Metrics(NewMetrics(factory, nil)),
	)
	reporter.Report(NewBatch("m", nil, nil, nil))
	reporter.Close()

	assert.Equal(t, 3, sender.Calls())
	assert.Len(t, sender.Batches(), 1)
	counters, _ := factory.Snapshot()
	assert.EqualValues(t, 2, counters["apm.reporter_retries"])
	assert.EqualValues(t, 1, counters["apm.reporter_batches|state=success"])
	assert.EqualValues(t, 0, counters["apm.reporter_batches|state=failure"])
}

func TestRemoteReporterShutdownTimeout(t *testing.T) {
	factory := metricstest.NewFactory(0)
	sender := &fakeSender{block: true}
	reporter := NewRemoteReporter(sender,
		ReporterOptions.FlushInterval(time.Hour),
		ReporterOptions.ShutdownTimeout(50*time.Millisecond),
		ReporterOptions.Metrics(NewMetrics(factory, nil)),
	)
	time.Sleep(20 * time.Millisecond)
	reporter.Report(NewBatch(1, nil, nil, nil))
	reporter.Report(NewBatch(2, nil, nil, nil))

	start := time.Now()
	reporter.Close()
	assert.True(t, time.Since(start) < time.Second, "Close must honor the shutdown timeout")

	counters, _ := factory.Snapshot()
	assert.EqualValues(t, 1, counters["apm.reporter_batches|state=failure"], "in-flight send is cancelled")
	assert.EqualValues(t, 1, counters["apm.reporter_batches|state=dropped"], "remaining batch is dropped")
}

func TestNoopAndLoggingReporters(t *testing.T) {
	logger := &recordingLogger{}
	reporter := NewCompositeReporter(NewNoopReporter(), NewLoggingReporter(logger))
	reporter.Report(NewBatch("m", nil, nil, nil))
	reporter.Report(nil)
	reporter.Close()

	require.Len(t, logger.Infos(), 1)
	assert.Equal(t, "Reporting batch {\"metadata\":\"m\"}\n", logger.Infos()[0])
}

func TestInMemoryReporter(t *testing.T) {
	reporter := NewInMemoryReporter()
	b := NewBatch("m", nil, nil, nil)
	NewClient(reporter).SendBatch(b)
	assert.Equal(t, 1, reporter.BatchesSubmitted())
	assert.Equal(t, []*Batch{b}, reporter.GetBatches())
	reporter.Reset()
	assert.Equal(t, 0, reporter.BatchesSubmitted())
	reporter.Close()
}

type fakeSender struct {
	mutex     sync.Mutex
	batches   []*Batch
	sizes     []int
	callTimes []time.Time
	calls     int
	closed    bool
	// failOn maps a zero-based call index to the error it returns
	failOn map[int]error
	// block makes Send wait for its context to end
	block bool
}

func (s *fakeSender) Send(ctx context.Context, batches []*Batch) error {
	s.mutex.Lock()
	call := s.calls
	s.calls++
	s.callTimes = append(s.callTimes, time.Now())
	block := s.block
	s.mutex.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.failOn[call]; err != nil {
		return err
	}
	s.batches = append(s.batches, batches...)
	s.sizes = append(s.sizes, len(batches))
	return nil
}

func (s *fakeSender) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) Batches() []*Batch {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	res := make([]*Batch, len(s.batches))
	copy(res, s.batches)
	return res
}

func (s *fakeSender) Calls() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls
}

func (s *fakeSender) CallSizes() []int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]int(nil), s.sizes...)
}

func (s *fakeSender) CallTimes() []time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]time.Time(nil), s.callTimes...)
}

func (s *fakeSender) Closed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// gatedSender holds its first Send until release is closed.
type gatedSender struct {
	fakeSender
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *gatedSender) Send(ctx context.Context, batches []*Batch) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		<-s.release
	}
	return s.fakeSender.Send(ctx, batches)
}

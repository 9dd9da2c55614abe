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
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy decides whether a failed send is attempted again.
//
// Backoff is called after the attempt-th failed send of a batch (starting at 1)
// and returns how long to wait before the next attempt, or false to give up.
// A batch that is given up on is discarded; it is never put back in the buffer.
type RetryPolicy interface {
	Backoff(attempt int, err error) (time.Duration, bool)
}

// BestEffort is the default delivery policy: every batch is sent at most once
// and a failed send is logged and dropped.
var BestEffort RetryPolicy = bestEffort{}

type bestEffort struct{}

func (bestEffort) Backoff(int, error) (time.Duration, bool) { return 0, false }

// MaxBackoff is the longest wait between two attempts of a backoff retry policy.
const MaxBackoff = 5 * time.Minute

type backoffRetry struct {
	maxAttempts int
	initial     time.Duration
}

// NewBackoffRetry returns a policy that sends each batch up to maxAttempts
// times, waiting initial, 2*initial, 4*initial, ... (±33% jitter, capped at
// MaxBackoff) between attempts. A maxAttempts of one or less is BestEffort.
func NewBackoffRetry(maxAttempts int, initial time.Duration) RetryPolicy {
	if maxAttempts <= 1 || initial <= 0 {
		return BestEffort
	}
	return &backoffRetry{maxAttempts: maxAttempts, initial: initial}
}

func (p *backoffRetry) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.maxAttempts {
		return 0, false
	}
	return jitterBackOff(p.initial, uint(attempt-1)), true
}

var (
	random     = rand.New(rand.NewSource(time.Now().UnixNano()))
	randomLock sync.Mutex
)

// jitterBackOff returns ever increasing backoffs by a power of 2 until reaching
// MaxBackoff, with +/- 0-33% to prevent synchronized requests.
func jitterBackOff(duration time.Duration, i uint) time.Duration {
	if i > 30 || duration > MaxBackoff>>i {
		return MaxBackoff
	}
	backoff := jitter(duration, 1<<i)
	if backoff > MaxBackoff {
		return MaxBackoff
	}
	return backoff
}

func jitter(duration time.Duration, i uint) time.Duration {
	interval := int64(duration) * int64(i)
	delta := interval / 3
	if delta <= 0 {
		return time.Duration(interval)
	}
	randomLock.Lock()
	interval += random.Int63n(2*delta) - delta
	randomLock.Unlock()
	// a non-positive wait would turn the backoff into a busy loop
	if interval <= 0 {
		interval = 1
	}
	return time.Duration(interval)
}

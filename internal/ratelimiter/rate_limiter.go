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

// Package ratelimiter limits how often an action may happen.
package ratelimiter

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled continuously at a fixed rate. It is safe
// for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	tokens   float64
	lastTick time.Time
	timeNow  func() time.Time
}

// New returns a Limiter that allows perSecond events on average and at most
// burst events at once. The bucket starts full.
func New(perSecond, burst float64) *Limiter {
	return newWithClock(perSecond, burst, time.Now)
}

func newWithClock(perSecond, burst float64, timeNow func() time.Time) *Limiter {
	return &Limiter{
		perSec:   perSecond,
		burst:    burst,
		tokens:   burst,
		lastTick: timeNow(),
		timeNow:  timeNow,
	}
}

// Allow takes one token from the bucket and reports whether one was available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.tokens += now.Sub(l.lastTick).Seconds() * l.perSec
	l.lastTick = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

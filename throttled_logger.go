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
	"fmt"

	"go.uber.org/atomic"

	"github.com/tlee21/tracing-elastic-apm/internal/ratelimiter"
)

// throttledLogger passes at most a fixed number of errors per second to the
// wrapped logger. The next error let through reports how many were dropped.
type throttledLogger struct {
	logger     Logger
	limiter    *ratelimiter.Limiter
	suppressed *atomic.Int64
}

func newThrottledLogger(logger Logger, perSecond float64) *throttledLogger {
	burst := perSecond
	if burst < 1 {
		burst = 1
	}
	return &throttledLogger{
		logger:     logger,
		limiter:    ratelimiter.New(perSecond, burst),
		suppressed: atomic.NewInt64(0),
	}
}

func (l *throttledLogger) allow() (string, bool) {
	if !l.limiter.Allow() {
		l.suppressed.Inc()
		return "", false
	}
	if n := l.suppressed.Swap(0); n > 0 {
		return fmt.Sprintf(" (%d similar errors suppressed)", n), true
	}
	return "", true
}

func (l *throttledLogger) Error(msg string) {
	if suffix, ok := l.allow(); ok {
		l.logger.Error(msg + suffix)
	}
}

func (l *throttledLogger) Infof(msg string, args ...interface{}) {
	l.logger.Infof(msg, args...)
}

func (l *throttledLogger) ErrorCause(msg string, err error) {
	if suffix, ok := l.allow(); ok {
		logError(l.logger, msg+suffix, err)
	}
}

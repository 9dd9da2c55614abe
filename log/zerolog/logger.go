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

package zerolog

import (
	"github.com/rs/zerolog"

	apm "github.com/tlee21/tracing-elastic-apm"
)

// Logger is an adapter from zerolog Logger to apm.Logger.
type Logger struct {
	logger zerolog.Logger
}

var _ apm.FieldLogger = (*Logger)(nil)

// NewLogger creates a new Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Error logs a message at error priority
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Infof logs a message at info priority
func (l *Logger) Infof(msg string, args ...interface{}) {
	l.logger.Info().Msgf(msg, args...)
}

// ErrorCause logs a message at error priority with err in the "error" field
func (l *Logger) ErrorCause(msg string, err error) {
	l.logger.Error().Err(err).Msg(msg)
}

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

import "log"

// Logger provides an abstract interface for logging from Reporters.
// Applications can provide their own implementation of this interface to adapt
// reporters logging to whatever logging library they prefer (stdlib log,
// zap, zerolog, etc).
type Logger interface {
	// Error logs a message at error priority
	Error(msg string)

	// Infof logs a message at info priority
	Infof(msg string, args ...interface{})
}

// FieldLogger is implemented by loggers that can record the cause of a failure
// as a separate structured field instead of folding it into the message.
type FieldLogger interface {
	Logger

	// ErrorCause logs msg at error priority with err attached as the "error" field.
	ErrorCause(msg string, err error)
}

// StdLogger is implementation of the Logger interface that delegates to default `log` package
var StdLogger = &stdLogger{}

type stdLogger struct{}

func (l *stdLogger) Error(msg string) {
	log.Printf("ERROR: %s", msg)
}

// Infof logs a message at info priority
func (l *stdLogger) Infof(msg string, args ...interface{}) {
	log.Printf(msg, args...)
}

func (l *stdLogger) ErrorCause(msg string, err error) {
	log.Printf("ERROR: %s error=%q", msg, err.Error())
}

// NullLogger is implementation of the Logger interface that discards all messages
var NullLogger = &nullLogger{}

type nullLogger struct{}

func (l *nullLogger) Error(msg string)                      {}
func (l *nullLogger) Infof(msg string, args ...interface{}) {}
func (l *nullLogger) ErrorCause(msg string, err error)      {}

// logError records err with logger, as a structured field when the logger supports it.
func logError(logger Logger, msg string, err error) {
	if fl, ok := logger.(FieldLogger); ok {
		fl.ErrorCause(msg, err)
		return
	}
	logger.Error(msg + ": " + err.Error())
}

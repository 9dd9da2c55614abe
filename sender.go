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
	"io"
)

// Sender abstracts the method of sending batches out of process.
// Implementations are NOT required to be thread-safe; the remote reporter
// only calls methods on the Sender from its own go-routine.
type Sender interface {
	// Send delivers batches to the APM server. When more than one batch is
	// passed the sender may combine them into fewer requests. The batches
	// are not retained after Send returns.
	Send(ctx context.Context, batches []*Batch) error

	io.Closer
}

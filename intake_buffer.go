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

import "sync"

// intakeBuffer holds batches between Report and the next drain. A limit of
// zero or less means the buffer grows without bound.
type intakeBuffer struct {
	mu      sync.Mutex
	batches []*Batch
	limit   int
	closed  bool
}

func newIntakeBuffer(limit int) *intakeBuffer {
	return &intakeBuffer{limit: limit}
}

// add appends batch and reports whether it was accepted. When the buffer is
// at its limit or closed the new batch is rejected.
func (b *intakeBuffer) add(batch *Batch) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || (b.limit > 0 && len(b.batches) >= b.limit) {
		return false
	}
	b.batches = append(b.batches, batch)
	return true
}

// drain takes every buffered batch, leaving the buffer empty.
func (b *intakeBuffer) drain() []*Batch {
	b.mu.Lock()
	batches := b.batches
	b.batches = nil
	b.mu.Unlock()
	return batches
}

func (b *intakeBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// close makes every later add fail. Batches already buffered stay until drained.
func (b *intakeBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

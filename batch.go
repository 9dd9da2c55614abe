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
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Batch is a single delivery unit: metadata followed by at most one transaction,
// span and error. The values are opaque to this package and are serialized with
// encoding/json; json.RawMessage values pass through unchanged.
//
// A Batch must not be modified after it has been handed to a Reporter.
type Batch struct {
	metadata    interface{}
	transaction interface{}
	span        interface{}
	err         interface{}
}

// NewBatch creates a Batch. Metadata is always written; nil transaction, span
// and err values are omitted from the serialized form.
func NewBatch(metadata, transaction, span, err interface{}) *Batch {
	return &Batch{
		metadata:    metadata,
		transaction: transaction,
		span:        span,
		err:         err,
	}
}

// Metadata returns the metadata value the batch was created with.
func (b *Batch) Metadata() interface{} { return b.metadata }

// Transaction returns the transaction value, or nil.
func (b *Batch) Transaction() interface{} { return b.transaction }

// Span returns the span value, or nil.
func (b *Batch) Span() interface{} { return b.span }

// Error returns the error value, or nil.
func (b *Batch) Error() interface{} { return b.err }

// MarshalNDJSON serializes the batch as newline-delimited JSON, one object per
// present field in the order metadata, transaction, span, error. Each object
// has a single key naming the field.
func (b *Batch) MarshalNDJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeLine(&buf, "metadata", b.metadata); err != nil {
		return nil, err
	}
	events, err := b.EventLines()
	if err != nil {
		return nil, err
	}
	buf.Write(events)
	return buf.Bytes(), nil
}

// MetadataLine returns the serialized metadata line, including the trailing newline.
func (b *Batch) MetadataLine() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeLine(&buf, "metadata", b.metadata); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EventLines returns the serialized transaction, span and error lines without
// the metadata line.
func (b *Batch) EventLines() ([]byte, error) {
	var buf bytes.Buffer
	for _, field := range []struct {
		key   string
		value interface{}
	}{
		{"transaction", b.transaction},
		{"span", b.span},
		{"error", b.err},
	} {
		if field.value == nil {
			continue
		}
		if err := writeLine(&buf, field.key, field.value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteTo writes the newline-delimited JSON form of the batch to w.
func (b *Batch) WriteTo(w io.Writer) (int64, error) {
	data, err := b.MarshalNDJSON()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// String returns the newline-delimited JSON form of the batch, or an empty
// string if one of its values cannot be encoded.
func (b *Batch) String() string {
	data, err := b.MarshalNDJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

func writeLine(buf *bytes.Buffer, key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s", key)
	}
	buf.WriteString(`{"`)
	buf.WriteString(key)
	buf.WriteString(`":`)
	buf.Write(encoded)
	buf.WriteString("}\n")
	return nil
}

// groupByMetadata splits batches into runs of consecutive batches whose
// metadata lines are identical. A batch whose metadata cannot be encoded is
// kept in a run of its own.
func groupByMetadata(batches []*Batch) [][]*Batch {
	var (
		groups [][]*Batch
		last   []byte
	)
	for _, b := range batches {
		line, err := b.MetadataLine()
		if err == nil && last != nil && bytes.Equal(line, last) {
			groups[len(groups)-1] = append(groups[len(groups)-1], b)
			continue
		}
		groups = append(groups, []*Batch{b})
		last = nil
		if err == nil {
			last = line
		}
	}
	return groups
}

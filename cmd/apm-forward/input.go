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

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	apm "github.com/tlee21/tracing-elastic-apm"
)

const maxLineBytes = 4 << 20

var errMissingMetadata = errors.New("line has no metadata and no default metadata is configured")

// inputLine is one line of forwarder input. Absent or null fields are left out
// of the batch.
type inputLine struct {
	Metadata    json.RawMessage `json:"metadata"`
	Transaction json.RawMessage `json:"transaction"`
	Span        json.RawMessage `json:"span"`
	Error       json.RawMessage `json:"error"`
}

// parseLine turns a JSON object into a Batch. defaultMetadata is used when
// the line carries none.
func parseLine(line []byte, defaultMetadata interface{}) (*apm.Batch, error) {
	var in inputLine
	if err := json.Unmarshal(line, &in); err != nil {
		return nil, errors.Wrap(err, "cannot parse input line")
	}
	metadata := raw(in.Metadata)
	if metadata == nil {
		metadata = defaultMetadata
	}
	if metadata == nil {
		return nil, errMissingMetadata
	}
	return apm.NewBatch(metadata, raw(in.Transaction), raw(in.Span), raw(in.Error)), nil
}

func raw(m json.RawMessage) interface{} {
	if len(m) == 0 || bytes.Equal(m, []byte("null")) {
		return nil
	}
	return m
}

// forward reads lines from r and submits one batch per line until r is
// exhausted or ctx is done. Lines that cannot be parsed are logged and
// skipped. It returns the number of batches submitted.
func forward(ctx context.Context, r io.Reader, client *apm.Client, defaultMetadata interface{}, logger apm.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	submitted := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return submitted, nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		batch, err := parseLine(line, defaultMetadata)
		if err != nil {
			logger.Error(err.Error())
			continue
		}
		client.SendBatch(batch)
		submitted++
	}
	return submitted, errors.Wrap(scanner.Err(), "cannot read input")
}

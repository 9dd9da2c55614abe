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

// Metadata groups the descriptors that make up the metadata line of a batch.
// The descriptor values are opaque and encoded as they are; nil descriptors are
// left out.
type Metadata struct {
	Service interface{} `json:"service,omitempty"`
	Process interface{} `json:"process,omitempty"`
	System  interface{} `json:"system,omitempty"`
	User    interface{} `json:"user,omitempty"`
	Cloud   interface{} `json:"cloud,omitempty"`
}

// IsZero reports whether none of the descriptors are set.
func (m Metadata) IsZero() bool {
	return m.Service == nil && m.Process == nil && m.System == nil && m.User == nil && m.Cloud == nil
}

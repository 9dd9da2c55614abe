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

import "encoding/base64"

// Authorization is a credential attached to every request sent to the APM server.
type Authorization interface {
	// HeaderValue returns the value of the Authorization header.
	HeaderValue() string
}

// SecretToken authorizes requests with a bearer secret token.
type SecretToken string

// HeaderValue implements Authorization.
func (t SecretToken) HeaderValue() string {
	return "Bearer " + string(t)
}

// APIKey authorizes requests with an API key id and secret key.
type APIKey struct {
	ID  string
	Key string
}

// NewAPIKey creates an APIKey.
func NewAPIKey(id, key string) APIKey {
	return APIKey{ID: id, Key: key}
}

// HeaderValue implements Authorization. The id and key are joined with a colon
// and base64 encoded.
func (k APIKey) HeaderValue() string {
	return "ApiKey " + base64.StdEncoding.EncodeToString([]byte(k.ID+":"+k.Key))
}

// ResolveAuthorization returns the header value for auth, or an empty string
// when no credential is configured.
func ResolveAuthorization(auth Authorization) string {
	if auth == nil {
		return ""
	}
	return auth.HeaderValue()
}

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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Configuration for TOML files, with durations as strings.
type fileConfig struct {
	Disabled                 bool                   `toml:"disabled"`
	ServerURL                string                 `toml:"server_url"`
	SecretToken              string                 `toml:"secret_token"`
	APIKeyID                 string                 `toml:"api_key_id"`
	APIKey                   string                 `toml:"api_key"`
	AllowInvalidCertificates bool                   `toml:"allow_invalid_certificates"`
	RootCertPath             string                 `toml:"root_cert_path"`
	FlushInterval            string                 `toml:"flush_interval"`
	ShutdownTimeout          string                 `toml:"shutdown_timeout"`
	RequestTimeout           string                 `toml:"request_timeout"`
	MaxBufferedBatches       int                    `toml:"max_buffered_batches"`
	MergeBatches             bool                   `toml:"merge_batches"`
	Compress                 bool                   `toml:"compress"`
	LogBatches               bool                   `toml:"log_batches"`
	ErrorLogRate             float64                `toml:"error_log_rate"`
	RetryMaxAttempts         int                    `toml:"retry_max_attempts"`
	RetryInitialBackoff      string                 `toml:"retry_initial_backoff"`
	Service                  map[string]interface{} `toml:"service"`
	Process                  map[string]interface{} `toml:"process"`
	System                   map[string]interface{} `toml:"system"`
	User                     map[string]interface{} `toml:"user"`
	Cloud                    map[string]interface{} `toml:"cloud"`
}

// LoadFile reads a Configuration from a YAML (.yaml, .yml) or TOML (.toml) file.
func LoadFile(path string) (*Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		c := &Configuration{}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", path)
		}
		return c, nil
	case ".toml":
		var fc fileConfig
		if err := toml.Unmarshal(b, &fc); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", path)
		}
		return fc.configuration()
	default:
		return nil, errors.Errorf("unsupported config file extension %q", ext)
	}
}

func (fc *fileConfig) configuration() (*Configuration, error) {
	c := &Configuration{
		Disabled:                 fc.Disabled,
		ServerURL:                fc.ServerURL,
		SecretToken:              fc.SecretToken,
		AllowInvalidCertificates: fc.AllowInvalidCertificates,
		RootCertPath:             fc.RootCertPath,
		MaxBufferedBatches:       fc.MaxBufferedBatches,
		MergeBatches:             fc.MergeBatches,
		Compress:                 fc.Compress,
		LogBatches:               fc.LogBatches,
		ErrorLogRate:             fc.ErrorLogRate,
		Service:                  fc.Service,
		Process:                  fc.Process,
		System:                   fc.System,
		User:                     fc.User,
		Cloud:                    fc.Cloud,
	}
	if fc.APIKeyID != "" || fc.APIKey != "" {
		c.APIKey = &APIKeyConfig{ID: fc.APIKeyID, Key: fc.APIKey}
	}
	var backoff time.Duration
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"flush_interval", fc.FlushInterval, &c.FlushInterval},
		{"shutdown_timeout", fc.ShutdownTimeout, &c.ShutdownTimeout},
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"retry_initial_backoff", fc.RetryInitialBackoff, &backoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", d.name)
		}
		*d.dst = v
	}
	if fc.RetryMaxAttempts != 0 || backoff != 0 {
		c.Retry = &RetryConfig{MaxAttempts: fc.RetryMaxAttempts, InitialBackoff: backoff}
	}
	return c, nil
}

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
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// environment variable names
	envActive             = "ELASTIC_APM_ACTIVE"
	envServerURL          = "ELASTIC_APM_SERVER_URL"
	envSecretToken        = "ELASTIC_APM_SECRET_TOKEN"
	envAPIKey             = "ELASTIC_APM_API_KEY"
	envVerifyServerCert   = "ELASTIC_APM_VERIFY_SERVER_CERT"
	envServerCert         = "ELASTIC_APM_SERVER_CERT"
	envFlushInterval      = "ELASTIC_APM_FLUSH_INTERVAL"
	envMaxBufferedBatches = "ELASTIC_APM_MAX_BUFFERED_BATCHES"
	envServiceName        = "ELASTIC_APM_SERVICE_NAME"
	envServiceVersion     = "ELASTIC_APM_SERVICE_VERSION"
	envEnvironment        = "ELASTIC_APM_ENVIRONMENT"
)

// FromEnv uses environment variables to set the client's Configuration.
func FromEnv() (*Configuration, error) {
	c := &Configuration{}
	return c.FromEnv()
}

// FromEnv uses environment variables and overrides existing client's Configuration.
// Variables that are unset or empty leave the corresponding field untouched.
func (c *Configuration) FromEnv() (*Configuration, error) {
	if e := os.Getenv(envServerURL); e != "" {
		c.ServerURL = e
	}
	if e := os.Getenv(envSecretToken); e != "" {
		c.SecretToken = e
	}
	if e := os.Getenv(envServerCert); e != "" {
		c.RootCertPath = e
	}

	var err error
	if e := os.Getenv(envAPIKey); e != "" {
		id, key, ok := strings.Cut(e, ":")
		if ok && id != "" {
			c.APIKey = &APIKeyConfig{ID: id, Key: key}
		} else {
			err = multierr.Append(err, errors.Errorf("cannot parse env var %s: expected <id>:<key>", envAPIKey))
		}
	}
	if e := os.Getenv(envActive); e != "" {
		if value, perr := strconv.ParseBool(e); perr == nil {
			c.Disabled = !value
		} else {
			err = multierr.Append(err, errors.Wrapf(perr, "cannot parse env var %s=%s", envActive, e))
		}
	}
	if e := os.Getenv(envVerifyServerCert); e != "" {
		if value, perr := strconv.ParseBool(e); perr == nil {
			c.AllowInvalidCertificates = !value
		} else {
			err = multierr.Append(err, errors.Wrapf(perr, "cannot parse env var %s=%s", envVerifyServerCert, e))
		}
	}
	if e := os.Getenv(envFlushInterval); e != "" {
		if value, perr := time.ParseDuration(e); perr == nil {
			c.FlushInterval = value
		} else {
			err = multierr.Append(err, errors.Wrapf(perr, "cannot parse env var %s=%s", envFlushInterval, e))
		}
	}
	if e := os.Getenv(envMaxBufferedBatches); e != "" {
		if value, perr := strconv.Atoi(e); perr == nil {
			c.MaxBufferedBatches = value
		} else {
			err = multierr.Append(err, errors.Wrapf(perr, "cannot parse env var %s=%s", envMaxBufferedBatches, e))
		}
	}

	c.setService("name", os.Getenv(envServiceName))
	c.setService("version", os.Getenv(envServiceVersion))
	c.setService("environment", os.Getenv(envEnvironment))

	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) setService(key, value string) {
	if value == "" {
		return
	}
	if c.Service == nil {
		c.Service = make(map[string]interface{})
	}
	c.Service[key] = value
}

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

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// TLSOptions describe which server certificates an HTTP client trusts.
type TLSOptions struct {
	// AllowInvalidCertificates disables server certificate verification
	// entirely. It exists for development setups with self-signed
	// certificates and must not be used in production.
	AllowInvalidCertificates bool

	// RootCertPath names a PEM file with a certificate trusted in addition
	// to the system roots.
	RootCertPath string
}

// NewHTTPClient builds an HTTP client honoring opts. A root certificate that
// cannot be read or parsed is reported as an error.
func NewHTTPClient(opts TLSOptions) (*http.Client, error) {
	tlsConfig, err := newTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport}, nil
}

func newTLSConfig(opts TLSOptions) (*tls.Config, error) {
	config := &tls.Config{}
	if opts.AllowInvalidCertificates {
		config.InsecureSkipVerify = true
	}
	if opts.RootCertPath != "" {
		pool, err := loadRootCert(opts.RootCertPath)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}
	return config, nil
}

// loadRootCert returns the system roots plus the certificates in path.
func loadRootCert(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read root certificate")
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no PEM certificate found in %s", path)
	}
	return pool, nil
}

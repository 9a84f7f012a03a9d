// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the HTTP execution capability for authkit.
//
// All wire traffic in the library flows through the HTTPClient interface so
// hosts can inject their own transport; the builder constructs a hardened
// default client.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HttpTimeout is the default timeout for outgoing HTTP requests
const HttpTimeout = 30 * time.Second

// HttpsScheme is the URL scheme required for non-localhost endpoints
const HttpsScheme = "https"

// HTTPClient is the injected HTTP execution capability. *http.Client
// satisfies it; tests substitute their own implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// IsLocalhost reports whether the host (optionally host:port) refers to the
// local machine. HTTP is tolerated for localhost to support tests and local
// development.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ValidateEndpointURL checks that the URL is well formed and uses HTTPS
// (except for localhost).
func ValidateEndpointURL(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed URL %q: %w", endpoint, err)
	}
	if parsed.Scheme != HttpsScheme && !IsLocalhost(parsed.Host) {
		return fmt.Errorf("endpoint %q must use HTTPS", endpoint)
	}
	return nil
}

// ValidatingTransport is for validating URLs prior to request
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := ValidateEndpointURL(req.URL.String()); err != nil {
		return nil, err
	}
	return t.Transport.RoundTrip(req)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	skipValidation        bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the per-call client timeout
func (b *HttpClientBuilder) WithTimeout(timeout time.Duration) *HttpClientBuilder {
	b.clientTimeout = timeout
	return b
}

// WithTLSHandshakeTimeout sets the TLS handshake timeout
func (b *HttpClientBuilder) WithTLSHandshakeTimeout(timeout time.Duration) *HttpClientBuilder {
	b.tlsHandshakeTimeout = timeout
	return b
}

// WithCABundle sets the CA certificate bundle path
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithoutURLValidation disables the HTTPS-only transport check.
// Intended for tests against plain-HTTP servers.
func (b *HttpClientBuilder) WithoutURLValidation() *HttpClientBuilder {
	b.skipValidation = true
	return b
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}

		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCertPool,
		}
	}

	var clientTransport http.RoundTripper = transport
	if !b.skipValidation {
		clientTransport = &ValidatingTransport{Transport: transport}
	}

	return &http.Client{
		Transport: clientTransport,
		Timeout:   b.clientTimeout,
	}, nil
}

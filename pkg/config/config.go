// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the library settings structure
// and logic required to load it from the environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values for library settings.
const (
	DefaultExpiryBuffer        = 5 * time.Minute
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultMaxRetries          = 3
	DefaultInstanceDiscovery   = "https://login.microsoftonline.com"
)

// Settings holds the tunable knobs of the library. Every field has a sane
// default; hosts override via AUTHKIT_* environment variables or the
// functional options on the client.
type Settings struct {
	// ExpiryBuffer is how long before an access token's expiry the cache
	// treats it as a miss to trigger proactive refresh.
	ExpiryBuffer time.Duration

	// HTTPTimeout applies per network call, not per logical request.
	HTTPTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake on outgoing calls.
	TLSHandshakeTimeout time.Duration

	// MaxRetries bounds retry attempts for transient network failures.
	MaxRetries int

	// InstanceDiscoveryHost is the base URL used for instance discovery.
	InstanceDiscoveryHost string

	// EnableLegacyCache turns on synchronization with the single-table
	// legacy cache format for AAD authorities.
	EnableLegacyCache bool
}

// Load reads settings from the environment with the AUTHKIT_ prefix,
// falling back to defaults for anything unset.
func Load() *Settings {
	v := viper.New()
	v.SetEnvPrefix("authkit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("expiry_buffer", DefaultExpiryBuffer)
	v.SetDefault("http_timeout", DefaultHTTPTimeout)
	v.SetDefault("tls_handshake_timeout", DefaultTLSHandshakeTimeout)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("instance_discovery_host", DefaultInstanceDiscovery)
	v.SetDefault("enable_legacy_cache", false)

	return &Settings{
		ExpiryBuffer:          v.GetDuration("expiry_buffer"),
		HTTPTimeout:           v.GetDuration("http_timeout"),
		TLSHandshakeTimeout:   v.GetDuration("tls_handshake_timeout"),
		MaxRetries:            v.GetInt("max_retries"),
		InstanceDiscoveryHost: v.GetString("instance_discovery_host"),
		EnableLegacyCache:     v.GetBool("enable_legacy_cache"),
	}
}

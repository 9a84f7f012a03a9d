// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the injected cryptography capability for authkit:
// hashing, randomness, PKCE material, client assertions, and
// proof-of-possession keys. The library never implements cryptographic
// primitives; everything delegates to the standard library or jwx.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Provider is the injected hash/random capability. The default uses SHA-256
// and crypto/rand; tests may substitute a deterministic implementation.
type Provider interface {
	// Hash computes a SHA-256 digest of the input.
	Hash(data []byte) []byte

	// Random fills and returns n cryptographically random bytes.
	Random(n int) ([]byte, error)
}

// DefaultProvider implements Provider with the standard library.
type DefaultProvider struct{}

// Hash computes a SHA-256 digest.
func (DefaultProvider) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Random returns n bytes from crypto/rand.
func (DefaultProvider) Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// HashAssertion returns the hex-encoded SHA-256 of a user assertion. Used to
// partition on-behalf-of cache entries without storing the assertion itself.
func HashAssertion(p Provider, assertion string) string {
	return hex.EncodeToString(p.Hash([]byte(assertion)))
}

// base64URL encodes bytes with the unpadded URL-safe alphabet used by PKCE
// and JOSE structures.
func base64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

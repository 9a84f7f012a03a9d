// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/sha1" //nolint:gosec // x5t is defined as the SHA-1 certificate thumbprint
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// assertionLifetime bounds how long a signed client assertion is accepted.
const assertionLifetime = 10 * time.Minute

// Credential is a signing credential for confidential clients: a private key
// plus the certificate it belongs to. The x5t header carries the certificate
// thumbprint so the provider can locate the registered public key.
type Credential struct {
	key  jwk.Key
	x5t  string
	cert *x509.Certificate
}

// NewCredential wraps a private key and certificate into a signing credential.
func NewCredential(privateKey any, cert *x509.Certificate) (*Credential, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cert == nil {
		return nil, fmt.Errorf("certificate is required")
	}

	key, err := jwk.Import(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import private key: %w", err)
	}

	thumb := sha1.Sum(cert.Raw) //nolint:gosec // x5t is defined as the SHA-1 certificate thumbprint
	return &Credential{
		key:  key,
		x5t:  base64.RawURLEncoding.EncodeToString(thumb[:]),
		cert: cert,
	}, nil
}

// SignAssertion produces a client assertion (RFC 7523 private_key_jwt) for
// the given client against the given token endpoint.
func (c *Credential) SignAssertion(clientID, tokenEndpoint string, now time.Time) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(clientID).
		Subject(clientID).
		Audience([]string{tokenEndpoint}).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(assertionLifetime)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build assertion claims: %w", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set("x5t", c.x5t); err != nil {
		return "", fmt.Errorf("failed to set x5t header: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), c.key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return string(signed), nil
}

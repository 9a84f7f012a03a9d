// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyAndCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func TestNewPKCE(t *testing.T) {
	t.Parallel()

	pkce, err := NewPKCE(DefaultProvider{})
	require.NoError(t, err)
	assert.Equal(t, PKCEMethodS256, pkce.Method)
	assert.Len(t, pkce.Verifier, 43)

	// Challenge must be the S256 hash of the verifier.
	expected := base64URL(DefaultProvider{}.Hash([]byte(pkce.Verifier)))
	assert.Equal(t, expected, pkce.Challenge)

	// Two generations never collide.
	other, err := NewPKCE(DefaultProvider{})
	require.NoError(t, err)
	assert.NotEqual(t, pkce.Verifier, other.Verifier)
}

func TestHashAssertion(t *testing.T) {
	t.Parallel()

	h1 := HashAssertion(DefaultProvider{}, "assertion-one")
	h2 := HashAssertion(DefaultProvider{}, "assertion-two")
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, HashAssertion(DefaultProvider{}, "assertion-one"))
}

func TestSignAssertion(t *testing.T) {
	t.Parallel()

	key, cert := testKeyAndCert(t)
	cred, err := NewCredential(key, cert)
	require.NoError(t, err)

	now := time.Now()
	signed, err := cred.SignAssertion("client-123", "https://login.example.com/token", now)
	require.NoError(t, err)

	// Verify the signature against the public key.
	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	tok, err := jwt.Parse([]byte(signed), jwt.WithKey(jwa.RS256(), pub))
	require.NoError(t, err)

	iss, ok := tok.Issuer()
	require.True(t, ok)
	assert.Equal(t, "client-123", iss)

	aud, ok := tok.Audience()
	require.True(t, ok)
	assert.Equal(t, []string{"https://login.example.com/token"}, aud)

	// x5t header must carry the certificate thumbprint.
	msg, err := jws.Parse([]byte(signed))
	require.NoError(t, err)
	var x5t string
	require.NoError(t, msg.Signatures()[0].ProtectedHeaders().Get("x5t", &x5t))
	assert.NotEmpty(t, x5t)
}

func TestNewCredentialValidation(t *testing.T) {
	t.Parallel()

	key, cert := testKeyAndCert(t)
	_, err := NewCredential(nil, cert)
	assert.Error(t, err)
	_, err = NewCredential(key, nil)
	assert.Error(t, err)
}

func TestPoPKey(t *testing.T) {
	t.Parallel()

	key, _ := testKeyAndCert(t)
	pop, err := NewPoPKey(key)
	require.NoError(t, err)
	require.NotEmpty(t, pop.KeyID())

	// req_cnf decodes to {"kid": <thumbprint>}.
	raw, err := base64.RawURLEncoding.DecodeString(pop.ReqCnf())
	require.NoError(t, err)
	var cnf map[string]string
	require.NoError(t, json.Unmarshal(raw, &cnf))
	assert.Equal(t, pop.KeyID(), cnf["kid"])

	signed, err := pop.SignRequest("at-secret", "get", "https://resource.example.com/api/items", "srv-nonce", time.Now())
	require.NoError(t, err)

	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	tok, err := jwt.Parse([]byte(signed), jwt.WithKey(jwa.RS256(), pub))
	require.NoError(t, err)

	var at, method, host string
	require.NoError(t, tok.Get("at", &at))
	require.NoError(t, tok.Get("m", &method))
	require.NoError(t, tok.Get("u", &host))
	assert.Equal(t, "at-secret", at)
	assert.Equal(t, "GET", method)
	assert.Equal(t, "resource.example.com", host)
	assert.False(t, strings.Contains(signed, "at-secret "), "token must be embedded, not concatenated")
}

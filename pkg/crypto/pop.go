// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	stdcrypto "crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// PoPKey binds access tokens to a proof-of-possession key. The key identifier
// is the RFC 7638 JWK thumbprint, which the provider embeds in the issued
// token's cnf claim.
type PoPKey struct {
	key    jwk.Key
	public jwk.Key
	kid    string
}

// NewPoPKey imports a private key for proof-of-possession use.
func NewPoPKey(privateKey any) (*PoPKey, error) {
	key, err := jwk.Import(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import PoP key: %w", err)
	}

	public, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	thumb, err := key.Thumbprint(stdcrypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	kid := base64.RawURLEncoding.EncodeToString(thumb)

	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("failed to set kid: %w", err)
	}
	return &PoPKey{key: key, public: public, kid: kid}, nil
}

// KeyID returns the JWK thumbprint identifying this key.
func (k *PoPKey) KeyID() string {
	return k.kid
}

// ReqCnf returns the req_cnf token-request parameter advertising the key.
func (k *PoPKey) ReqCnf() string {
	cnf, _ := json.Marshal(map[string]string{"kid": k.kid})
	return base64.RawURLEncoding.EncodeToString(cnf)
}

// SignRequest wraps a bearer access token in a signed envelope binding it to
// the given HTTP method and URL. The result goes into the Authorization
// header with the PoP scheme.
func (k *PoPKey) SignRequest(accessToken, method, requestURL string, nonce string, now time.Time) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}

	builder := jwt.NewBuilder().
		Claim("at", accessToken).
		Claim("ts", strconv.FormatInt(now.Unix(), 10)).
		Claim("m", strings.ToUpper(method)).
		Claim("u", u.Host).
		Claim("p", u.Path).
		Claim("cnf", map[string]any{"jwk": k.public})
	if nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build PoP claims: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), k.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign PoP envelope: %w", err)
	}
	return string(signed), nil
}

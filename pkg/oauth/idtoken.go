// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwt"
)

// IDTokenClaims are the claims the library reads from an ID token. The raw
// JWT is cached verbatim; claims are parsed on demand. Signature validation
// is the host's concern — tokens arrive over TLS from the token endpoint.
type IDTokenClaims struct {
	Subject           string
	ObjectID          string
	TenantID          string
	PreferredUsername string
	UPN               string
	Name              string
	Email             string
}

// LocalAccountID returns the tenant-local account identifier, preferring the
// oid claim over sub.
func (c IDTokenClaims) LocalAccountID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// Username returns the best displayable identifier available.
func (c IDTokenClaims) Username() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.UPN != "":
		return c.UPN
	case c.Email != "":
		return c.Email
	default:
		return c.Name
	}
}

// ParseIDTokenClaims decodes claims from a raw ID token without verifying
// its signature.
func ParseIDTokenClaims(raw string) (IDTokenClaims, error) {
	var claims IDTokenClaims
	if raw == "" {
		return claims, fmt.Errorf("empty id_token")
	}

	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return claims, fmt.Errorf("failed to parse id_token: %w", err)
	}

	if sub, ok := tok.Subject(); ok {
		claims.Subject = sub
	}
	// Private claims are optional; absence is not an error.
	_ = tok.Get("oid", &claims.ObjectID)
	_ = tok.Get("tid", &claims.TenantID)
	_ = tok.Get("preferred_username", &claims.PreferredUsername)
	_ = tok.Get("upn", &claims.UPN)
	_ = tok.Get("name", &claims.Name)
	_ = tok.Get("email", &claims.Email)

	return claims, nil
}

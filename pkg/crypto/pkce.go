// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

// PKCEMethodS256 is the only code challenge method the library emits.
const PKCEMethodS256 = "S256"

// PKCE holds the verifier/challenge pair for an authorization-code exchange.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh verifier and its S256 challenge.
func NewPKCE(p Provider) (*PKCE, error) {
	// 32 random bytes yields a 43-character verifier, within RFC 7636 bounds.
	raw, err := p.Random(32)
	if err != nil {
		return nil, err
	}
	verifier := base64URL(raw)
	return &PKCE{
		Verifier:  verifier,
		Challenge: base64URL(p.Hash([]byte(verifier))),
		Method:    PKCEMethodS256,
	}, nil
}

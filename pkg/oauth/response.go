// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/authkit/pkg/util"
)

// ClientInfo is the decoded client_info response field. It identifies the
// user and home tenant independently of the tenant the token was issued for.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// HomeAccountID derives the stable cross-tenant account identifier.
// Empty when the response carried no client_info (e.g. client credentials).
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" && c.UTID == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", c.UID, c.UTID)
}

// DecodeClientInfo parses the base64url client_info field. The provider
// emits unpadded URL-safe base64.
func DecodeClientInfo(raw string) (ClientInfo, error) {
	var info ClientInfo
	if raw == "" {
		return info, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return info, fmt.Errorf("failed to decode client_info: %w", err)
	}
	if err := json.Unmarshal(decoded, &info); err != nil {
		return info, fmt.Errorf("failed to parse client_info: %w", err)
	}
	return info, nil
}

// TokenResponse is a successful token-endpoint response. Durations are
// resolved against the clock that parsed the response so downstream code
// works with absolute times only.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	IDToken       string `json:"id_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int64  `json:"expires_in"`
	ExtExpiresIn  int64  `json:"ext_expires_in"`
	RefreshIn     int64  `json:"refresh_in"`
	Scope         string `json:"scope"`
	RawClientInfo string `json:"client_info"`
	FamilyID      string `json:"foci"`

	// Resolved at parse time, not on the wire.
	ClientInfo    ClientInfo    `json:"-"`
	GrantedScopes util.ScopeSet `json:"-"`
	ExpiresOn     time.Time     `json:"-"`
	ExtExpiresOn  time.Time     `json:"-"`
	RefreshOn     time.Time     `json:"-"`
}

// resolve computes absolute times and decodes client_info. requestedScopes
// are used when the provider omitted the scope field, which some grants do.
func (t *TokenResponse) resolve(now time.Time, requestedScopes []string) error {
	info, err := DecodeClientInfo(t.RawClientInfo)
	if err != nil {
		return err
	}
	t.ClientInfo = info

	if t.Scope != "" {
		t.GrantedScopes = util.ParseScopes(t.Scope)
	} else {
		t.GrantedScopes = util.NewScopeSet(requestedScopes)
	}

	t.ExpiresOn = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	if t.ExtExpiresIn > 0 {
		t.ExtExpiresOn = now.Add(time.Duration(t.ExtExpiresIn) * time.Second)
	}
	if t.RefreshIn > 0 {
		t.RefreshOn = now.Add(time.Duration(t.RefreshIn) * time.Second)
	}

	if t.AccessToken == "" {
		return fmt.Errorf("token response contained no access token")
	}
	return nil
}

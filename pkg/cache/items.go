// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the token cache: the entity model, the accessor
// contract over a key-value store, serialization of the persisted formats,
// and the manager that mediates between token requests and storage.
package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stacklok/authkit/pkg/oauth"
	"github.com/stacklok/authkit/pkg/util"
)

// Credential type discriminators as persisted on the wire.
const (
	CredentialTypeAccessToken  = "AccessToken"
	CredentialTypeRefreshToken = "RefreshToken"
	CredentialTypeIDToken      = "IdToken"
)

// keyDelimiter joins the components of a canonical cache key.
const keyDelimiter = "-"

func canonicalKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, keyDelimiter))
}

// AccessToken is a cached access token, scoped to a user (or app), an
// environment, a tenant realm, a client and a scope target.
type AccessToken struct {
	HomeAccountID     string `json:"home_account_id"`
	Environment       string `json:"environment"`
	Realm             string `json:"realm"`
	CredentialType    string `json:"credential_type"`
	ClientID          string `json:"client_id"`
	Secret            string `json:"secret"`
	Target            string `json:"target"`
	CachedAt          string `json:"cached_at"`
	ExpiresOn         string `json:"expires_on"`
	ExtendedExpiresOn string `json:"extended_expires_on"`
	RefreshOn         string `json:"refresh_on,omitempty"`
	TokenType         string `json:"token_type"`
	UserAssertionHash string `json:"user_assertion_hash,omitempty"`

	// AdditionalFields preserves wire fields written by other cache
	// implementations so a round trip through this cache loses nothing.
	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewAccessToken builds a cache item from a token response's access token.
func NewAccessToken(homeAccountID, environment, realm, clientID string, cachedAt, expiresOn, extExpiresOn, refreshOn time.Time, scopes util.ScopeSet, token, tokenType, assertionHash string) *AccessToken {
	if tokenType == "" {
		tokenType = oauth.TokenTypeBearer
	}
	return &AccessToken{
		HomeAccountID:     homeAccountID,
		Environment:       environment,
		Realm:             realm,
		CredentialType:    CredentialTypeAccessToken,
		ClientID:          clientID,
		Secret:            token,
		Target:            scopes.Join(),
		CachedAt:          unixString(cachedAt),
		ExpiresOn:         unixString(expiresOn),
		ExtendedExpiresOn: unixString(extExpiresOn),
		RefreshOn:         unixString(refreshOn),
		TokenType:         tokenType,
		UserAssertionHash: assertionHash,
	}
}

// Key returns the canonical storage key. Non-bearer token schemes and
// on-behalf-of assertion hashes partition the key space further so distinct
// credentials never collide.
func (a *AccessToken) Key() string {
	parts := []string{a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Target}
	if a.TokenType != "" && !strings.EqualFold(a.TokenType, oauth.TokenTypeBearer) {
		parts = append(parts, a.TokenType)
	}
	if a.UserAssertionHash != "" {
		parts = append(parts, a.UserAssertionHash)
	}
	return canonicalKey(parts...)
}

// Scopes parses the target into a scope set.
func (a *AccessToken) Scopes() util.ScopeSet {
	return util.ParseScopes(a.Target)
}

// CachedAtTime returns the instant the token was written to the cache.
func (a *AccessToken) CachedAtTime() time.Time { return parseUnixString(a.CachedAt) }

// ExpiresOnTime returns the token's absolute expiry.
func (a *AccessToken) ExpiresOnTime() time.Time { return parseUnixString(a.ExpiresOn) }

// RefreshOnTime returns the provider's suggested proactive-refresh instant,
// or the zero time when none was given.
func (a *AccessToken) RefreshOnTime() time.Time { return parseUnixString(a.RefreshOn) }

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (a AccessToken) MarshalJSON() ([]byte, error) {
	type alias AccessToken
	known, err := json.Marshal(alias(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, a.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (a *AccessToken) UnmarshalJSON(data []byte) error {
	type alias AccessToken
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*a = AccessToken(decoded)
	a.AdditionalFields = extra
	return nil
}

// RefreshToken is a cached refresh token. Refresh tokens are not bound to a
// realm or target, so the key omits both; a family ID marks tokens shared
// across a family of clients.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	CredentialType string `json:"credential_type"`
	ClientID       string `json:"client_id"`
	FamilyID       string `json:"family_id,omitempty"`
	Secret         string `json:"secret"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewRefreshToken builds a refresh token cache item.
func NewRefreshToken(homeAccountID, environment, clientID, token, familyID string) *RefreshToken {
	return &RefreshToken{
		HomeAccountID:  homeAccountID,
		Environment:    environment,
		CredentialType: CredentialTypeRefreshToken,
		ClientID:       clientID,
		FamilyID:       familyID,
		Secret:         token,
	}
}

// Key returns the canonical storage key. Family refresh tokens key on the
// family ID instead of the owning client so one entry serves every family
// member.
func (r *RefreshToken) Key() string {
	clientOrFamily := r.ClientID
	if r.FamilyID != "" {
		clientOrFamily = r.FamilyID
	}
	return canonicalKey(r.HomeAccountID, r.Environment, r.CredentialType, clientOrFamily, "", "")
}

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (r RefreshToken) MarshalJSON() ([]byte, error) {
	type alias RefreshToken
	known, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, r.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (r *RefreshToken) UnmarshalJSON(data []byte) error {
	type alias RefreshToken
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*r = RefreshToken(decoded)
	r.AdditionalFields = extra
	return nil
}

// IDToken is a cached raw ID token for an account, realm and client.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	Realm          string `json:"realm"`
	CredentialType string `json:"credential_type"`
	ClientID       string `json:"client_id"`
	Secret         string `json:"secret"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// NewIDToken builds an ID token cache item.
func NewIDToken(homeAccountID, environment, realm, clientID, rawToken string) *IDToken {
	return &IDToken{
		HomeAccountID:  homeAccountID,
		Environment:    environment,
		Realm:          realm,
		CredentialType: CredentialTypeIDToken,
		ClientID:       clientID,
		Secret:         rawToken,
	}
}

// Key returns the canonical storage key.
func (i *IDToken) Key() string {
	return canonicalKey(i.HomeAccountID, i.Environment, i.CredentialType, i.ClientID, i.Realm, "")
}

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (i IDToken) MarshalJSON() ([]byte, error) {
	type alias IDToken
	known, err := json.Marshal(alias(i))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, i.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (i *IDToken) UnmarshalJSON(data []byte) error {
	type alias IDToken
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*i = IDToken(decoded)
	i.AdditionalFields = extra
	return nil
}

// Account is a cached account record: the user identity behind the cached
// credentials, one record per realm the user has tokens in.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	Realm          string `json:"realm"`
	LocalAccountID string `json:"local_account_id"`
	AuthorityType  string `json:"authority_type"`
	Username       string `json:"username"`
	Name           string `json:"name,omitempty"`
	RawClientInfo  string `json:"client_info,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// Key returns the canonical storage key.
func (a *Account) Key() string {
	return canonicalKey(a.HomeAccountID, a.Environment, a.Realm)
}

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (a Account) MarshalJSON() ([]byte, error) {
	type alias Account
	known, err := json.Marshal(alias(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, a.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (a *Account) UnmarshalJSON(data []byte) error {
	type alias Account
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*a = Account(decoded)
	a.AdditionalFields = extra
	return nil
}

// AppMetadata records per-client facts learned from token responses,
// currently whether the client belongs to a refresh-token family.
type AppMetadata struct {
	ClientID    string `json:"client_id"`
	Environment string `json:"environment"`
	FamilyID    string `json:"family_id,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// Key returns the canonical storage key.
func (m *AppMetadata) Key() string {
	return canonicalKey("appmetadata", m.Environment, m.ClientID)
}

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (m AppMetadata) MarshalJSON() ([]byte, error) {
	type alias AppMetadata
	known, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, m.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (m *AppMetadata) UnmarshalJSON(data []byte) error {
	type alias AppMetadata
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*m = AppMetadata(decoded)
	m.AdditionalFields = extra
	return nil
}

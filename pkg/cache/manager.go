// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/authkit/pkg/authority"
	"github.com/stacklok/authkit/pkg/logger"
	"github.com/stacklok/authkit/pkg/oauth"
	"github.com/stacklok/authkit/pkg/util"
)

// Reason explains why a silent lookup did or did not serve from cache.
type Reason int

// Silent-lookup outcome reasons.
const (
	// ReasonNotApplicable: the cache served a fresh token; no refresh needed.
	ReasonNotApplicable Reason = iota

	// ReasonForceRefreshOrClaims: the caller demanded a network token.
	ReasonForceRefreshOrClaims

	// ReasonNoCachedAccessToken: nothing in the cache matched the request.
	ReasonNoCachedAccessToken

	// ReasonExpired: a match existed but was expired or inside the expiry
	// buffer.
	ReasonExpired

	// ReasonProactivelyRefreshed: a still-valid match passed its
	// provider-suggested refresh time; it is returned for fallback while the
	// caller refreshes in the foreground.
	ReasonProactivelyRefreshed
)

// String implements fmt.Stringer for diagnostics.
func (r Reason) String() string {
	switch r {
	case ReasonNotApplicable:
		return "not_applicable"
	case ReasonForceRefreshOrClaims:
		return "force_refresh_or_claims"
	case ReasonNoCachedAccessToken:
		return "no_cached_access_token"
	case ReasonExpired:
		return "expired"
	case ReasonProactivelyRefreshed:
		return "proactively_refreshed"
	}
	return "unknown"
}

// Criteria carries the request facts the cache matches on. Environments is
// the full alias group of the authority's host so entries written under any
// alias of the same cloud instance are found.
type Criteria struct {
	HomeAccountID string
	Environments  []string
	Realm         string
	ClientID      string
	Scopes        util.ScopeSet

	// AuthorityType and AuthorityURL drive legacy-cache synchronization.
	AuthorityType authority.Type
	AuthorityURL  string

	// TokenType partitions entries by scheme; empty means bearer.
	TokenType string

	// UserAssertionHash partitions on-behalf-of entries by the incoming
	// assertion.
	UserAssertionHash string

	// Username enables the legacy-table refresh token fallback.
	Username string

	// ForceRefresh skips the access-token lookup entirely.
	ForceRefresh bool
}

func (c *Criteria) environmentSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Environments))
	for _, env := range c.Environments {
		set[strings.ToLower(env)] = struct{}{}
	}
	return set
}

// AccessContext is handed to notification hooks around each cache access so
// a host application can load or persist the serialized cache.
type AccessContext struct {
	Accessor *Accessor
	Legacy   *LegacyStore

	// Changed is true on the after-access hook when the operation wrote.
	Changed bool
}

// Notifier receives cache access notifications.
type Notifier interface {
	OnBeforeAccess(ctx context.Context, ac *AccessContext) error
	OnAfterAccess(ctx context.Context, ac *AccessContext) error
}

// SaveResult is what SaveResponse persisted.
type SaveResult struct {
	AccessToken  *AccessToken
	RefreshToken *RefreshToken
	IDToken      *IDToken
	Account      *Account
}

// Manager is the cache engine: it mediates every read and write between
// token requests and the accessor, enforcing matching rules, the expiry
// buffer, and per-identity write serialization.
type Manager struct {
	accessor *Accessor
	legacy   *LegacyStore

	expiryBuffer time.Duration
	clock        util.Clock
	legacySync   bool

	notifierMu sync.RWMutex
	notifier   Notifier

	// writeLocks serializes SaveResponse write bursts per identity key so a
	// reader never observes a refresh token newer than its paired access
	// token. Held only across the writes, never across network calls.
	writeLocksMu sync.Mutex
	writeLocks   map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithExpiryBuffer overrides the lead time subtracted from token expiry
// during lookups.
func WithExpiryBuffer(buffer time.Duration) ManagerOption {
	return func(m *Manager) { m.expiryBuffer = buffer }
}

// WithClock injects the time source, for tests.
func WithClock(clock util.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithLegacySync enables writing and consulting the previous generation's
// cache table alongside the current one.
func WithLegacySync(enabled bool) ManagerOption {
	return func(m *Manager) { m.legacySync = enabled }
}

// defaultExpiryBuffer matches the engine's default proactive-refresh lead.
const defaultExpiryBuffer = 5 * time.Minute

// NewManager creates a cache engine over an in-memory store.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		accessor:     NewAccessor(),
		legacy:       NewLegacyStore(),
		expiryBuffer: defaultExpiryBuffer,
		clock:        util.RealClock{},
		writeLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Accessor exposes the underlying store, mainly for serialization.
func (m *Manager) Accessor() *Accessor { return m.accessor }

// LegacyStore exposes the legacy table, mainly for serialization.
func (m *Manager) LegacyStore() *LegacyStore { return m.legacy }

// SetNotifier installs the host's cache access hooks.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	m.notifier = n
}

func (m *Manager) notifyBefore(ctx context.Context, ac *AccessContext) error {
	m.notifierMu.RLock()
	n := m.notifier
	m.notifierMu.RUnlock()
	if n == nil {
		return nil
	}
	return n.OnBeforeAccess(ctx, ac)
}

func (m *Manager) notifyAfter(ctx context.Context, ac *AccessContext) error {
	m.notifierMu.RLock()
	n := m.notifier
	m.notifierMu.RUnlock()
	if n == nil {
		return nil
	}
	return n.OnAfterAccess(ctx, ac)
}

func (m *Manager) accessContext(changed bool) *AccessContext {
	return &AccessContext{Accessor: m.accessor, Legacy: m.legacy, Changed: changed}
}

// FindAccessToken returns the tightest cached access token matching the
// criteria, with the reason a caller should (or should not) refresh.
// Among entries whose target is a superset of the requested scopes it picks
// the smallest superset, tie-broken by most recently cached.
func (m *Manager) FindAccessToken(ctx context.Context, criteria *Criteria) (*AccessToken, Reason, error) {
	if criteria.ForceRefresh {
		return nil, ReasonForceRefreshOrClaims, nil
	}

	if err := m.notifyBefore(ctx, m.accessContext(false)); err != nil {
		return nil, ReasonNoCachedAccessToken, err
	}
	defer func() {
		if err := m.notifyAfter(ctx, m.accessContext(false)); err != nil {
			logger.Debugf("Cache after-access hook failed: %v", err)
		}
	}()

	envs := criteria.environmentSet()
	wantScheme := criteria.TokenType
	if wantScheme == "" {
		wantScheme = oauth.TokenTypeBearer
	}

	var best *AccessToken
	for _, item := range m.accessor.AccessTokens() {
		// On-behalf-of entries are identified by the assertion hash; the home
		// account is not known until the response arrives.
		if criteria.UserAssertionHash == "" && !strings.EqualFold(item.HomeAccountID, criteria.HomeAccountID) {
			continue
		}
		if _, ok := envs[strings.ToLower(item.Environment)]; !ok {
			continue
		}
		if !strings.EqualFold(item.Realm, criteria.Realm) {
			continue
		}
		if !strings.EqualFold(item.ClientID, criteria.ClientID) {
			continue
		}
		scheme := item.TokenType
		if scheme == "" {
			scheme = oauth.TokenTypeBearer
		}
		if !strings.EqualFold(scheme, wantScheme) {
			continue
		}
		if item.UserAssertionHash != criteria.UserAssertionHash {
			continue
		}
		if !criteria.Scopes.IsSubsetOf(item.Scopes()) {
			continue
		}
		if best == nil || tighterMatch(item, best) {
			best = item
		}
	}

	if best == nil {
		return nil, ReasonNoCachedAccessToken, nil
	}

	now := m.clock.Now()
	if !now.Before(best.ExpiresOnTime().Add(-m.expiryBuffer)) {
		return nil, ReasonExpired, nil
	}
	if refreshOn := best.RefreshOnTime(); !refreshOn.IsZero() && !now.Before(refreshOn) {
		return best, ReasonProactivelyRefreshed, nil
	}
	return best, ReasonNotApplicable, nil
}

// tighterMatch reports whether candidate beats current: fewer scopes first,
// then more recently cached.
func tighterMatch(candidate, current *AccessToken) bool {
	candidateScopes := candidate.Scopes().Len()
	currentScopes := current.Scopes().Len()
	if candidateScopes != currentScopes {
		return candidateScopes < currentScopes
	}
	return candidate.CachedAtTime().After(current.CachedAtTime())
}

// FindRefreshToken returns a refresh token usable for the criteria: the
// client's own token first, then a family token from a sibling client found
// via app metadata, then the legacy table as a migration fallback.
func (m *Manager) FindRefreshToken(ctx context.Context, criteria *Criteria) (*RefreshToken, bool, error) {
	if err := m.notifyBefore(ctx, m.accessContext(false)); err != nil {
		return nil, false, err
	}
	defer func() {
		if err := m.notifyAfter(ctx, m.accessContext(false)); err != nil {
			logger.Debugf("Cache after-access hook failed: %v", err)
		}
	}()

	envs := criteria.environmentSet()
	tokens := m.accessor.RefreshTokens()

	matchesIdentity := func(item *RefreshToken) bool {
		if !strings.EqualFold(item.HomeAccountID, criteria.HomeAccountID) {
			return false
		}
		_, ok := envs[strings.ToLower(item.Environment)]
		return ok
	}

	for _, item := range tokens {
		if matchesIdentity(item) && strings.EqualFold(item.ClientID, criteria.ClientID) && item.FamilyID == "" {
			return item, true, nil
		}
	}

	if familyID := m.familyIDFor(criteria, envs); familyID != "" {
		for _, item := range tokens {
			if matchesIdentity(item) && item.FamilyID == familyID {
				return item, true, nil
			}
		}
	}

	// Any family token under the right identity is worth a try even when app
	// metadata has not recorded this client's family yet.
	for _, item := range tokens {
		if matchesIdentity(item) && strings.EqualFold(item.ClientID, criteria.ClientID) {
			return item, true, nil
		}
	}

	if m.legacySync && criteria.AuthorityType == authority.AAD {
		if secret, ok := m.legacy.FindRefreshToken(criteria.AuthorityURL, criteria.ClientID, criteria.Username); ok {
			env := ""
			if len(criteria.Environments) > 0 {
				env = criteria.Environments[0]
			}
			return NewRefreshToken(criteria.HomeAccountID, env, criteria.ClientID, secret, ""), true, nil
		}
	}
	return nil, false, nil
}

// familyIDFor looks up the client's recorded refresh-token family across the
// environment aliases.
func (m *Manager) familyIDFor(criteria *Criteria, envs map[string]struct{}) string {
	for _, meta := range m.accessor.AppMetadataEntries() {
		if !strings.EqualFold(meta.ClientID, criteria.ClientID) {
			continue
		}
		if _, ok := envs[strings.ToLower(meta.Environment)]; !ok {
			continue
		}
		return meta.FamilyID
	}
	return ""
}

// writeLockFor returns the mutex serializing write bursts for one identity.
func (m *Manager) writeLockFor(homeAccountID, environment, clientID string) *sync.Mutex {
	key := canonicalKey(homeAccountID, environment, clientID)
	m.writeLocksMu.Lock()
	defer m.writeLocksMu.Unlock()
	lock, ok := m.writeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.writeLocks[key] = lock
	}
	return lock
}

// SaveResponse persists every entity a token response yields: access token,
// refresh token, ID token, account record and app metadata, written as one
// serialized burst per identity. A cancelled context writes nothing.
func (m *Manager) SaveResponse(ctx context.Context, resp *oauth.TokenResponse, criteria *Criteria) (*SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	homeAccountID := resp.ClientInfo.HomeAccountID()
	environment := ""
	if len(criteria.Environments) > 0 {
		environment = strings.ToLower(criteria.Environments[0])
	}

	var claims *oauth.IDTokenClaims
	if resp.IDToken != "" {
		parsed, err := oauth.ParseIDTokenClaims(resp.IDToken)
		if err != nil {
			return nil, err
		}
		claims = &parsed
	}

	realm := strings.ToLower(criteria.Realm)
	if claims != nil && claims.TenantID != "" {
		realm = strings.ToLower(claims.TenantID)
	}

	if err := m.notifyBefore(ctx, m.accessContext(true)); err != nil {
		return nil, err
	}

	lock := m.writeLockFor(homeAccountID, environment, criteria.ClientID)
	lock.Lock()

	result := &SaveResult{}
	now := m.clock.Now()

	if resp.AccessToken != "" {
		result.AccessToken = NewAccessToken(
			homeAccountID, environment, realm, criteria.ClientID,
			now, resp.ExpiresOn, resp.ExtExpiresOn, resp.RefreshOn,
			resp.GrantedScopes, resp.AccessToken, resp.TokenType, criteria.UserAssertionHash)
	}
	if resp.RefreshToken != "" {
		result.RefreshToken = NewRefreshToken(homeAccountID, environment, criteria.ClientID, resp.RefreshToken, resp.FamilyID)
	}
	if resp.IDToken != "" && homeAccountID != "" {
		result.IDToken = NewIDToken(homeAccountID, environment, realm, criteria.ClientID, resp.IDToken)
	}
	if claims != nil && homeAccountID != "" {
		result.Account = &Account{
			HomeAccountID:  homeAccountID,
			Environment:    environment,
			Realm:          realm,
			LocalAccountID: claims.LocalAccountID(),
			AuthorityType:  string(criteria.AuthorityType),
			Username:       claims.Username(),
			Name:           claims.Name,
			RawClientInfo:  resp.RawClientInfo,
		}
	}

	err := m.persistResult(result, resp, criteria, environment, claims)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	if err := m.notifyAfter(ctx, m.accessContext(true)); err != nil {
		logger.Debugf("Cache after-access hook failed: %v", err)
	}
	return result, nil
}

func (m *Manager) persistResult(result *SaveResult, resp *oauth.TokenResponse, criteria *Criteria, environment string, claims *oauth.IDTokenClaims) error {
	if result.AccessToken != nil {
		if err := m.accessor.SaveAccessToken(result.AccessToken); err != nil {
			return err
		}
	}
	if result.RefreshToken != nil {
		if err := m.accessor.SaveRefreshToken(result.RefreshToken); err != nil {
			return err
		}
	}
	if result.IDToken != nil {
		if err := m.accessor.SaveIDToken(result.IDToken); err != nil {
			return err
		}
	}
	if result.Account != nil {
		if err := m.accessor.SaveAccount(result.Account); err != nil {
			return err
		}
	}
	if resp.FamilyID != "" {
		meta := &AppMetadata{ClientID: criteria.ClientID, Environment: environment, FamilyID: resp.FamilyID}
		if err := m.accessor.SaveAppMetadata(meta); err != nil {
			return err
		}
	}

	if m.legacySync && criteria.AuthorityType == authority.AAD && resp.RefreshToken != "" && claims != nil {
		key := LegacyKey{
			Authority:     criteria.AuthorityURL,
			Resource:      criteria.Scopes.Join(),
			ClientID:      criteria.ClientID,
			SubjectType:   legacySubjectTypeUser,
			UniqueID:      claims.LocalAccountID(),
			DisplayableID: claims.Username(),
		}
		record := &LegacyRecord{
			RefreshToken:  resp.RefreshToken,
			AccessToken:   resp.AccessToken,
			IDToken:       resp.IDToken,
			ExpiresOn:     legacyExpiry(resp.ExpiresOn),
			UniqueID:      claims.LocalAccountID(),
			DisplayableID: claims.Username(),
		}
		if err := m.legacy.Save(key, record); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAccount deletes every credential and account record for the account
// across all realms and all environment aliases, plus the legacy-table
// counterpart.
func (m *Manager) RemoveAccount(ctx context.Context, account *Account, envAliases []string) error {
	if err := m.notifyBefore(ctx, m.accessContext(true)); err != nil {
		return err
	}

	envs := make(map[string]struct{}, len(envAliases)+1)
	envs[strings.ToLower(account.Environment)] = struct{}{}
	for _, env := range envAliases {
		envs[strings.ToLower(env)] = struct{}{}
	}
	sameIdentity := func(homeAccountID, environment string) bool {
		if !strings.EqualFold(homeAccountID, account.HomeAccountID) {
			return false
		}
		_, ok := envs[strings.ToLower(environment)]
		return ok
	}

	for _, item := range m.accessor.AccessTokens() {
		if sameIdentity(item.HomeAccountID, item.Environment) {
			m.accessor.DeleteAccessToken(item.Key())
		}
	}
	for _, item := range m.accessor.RefreshTokens() {
		if sameIdentity(item.HomeAccountID, item.Environment) {
			m.accessor.DeleteRefreshToken(item.Key())
		}
	}
	for _, item := range m.accessor.IDTokens() {
		if sameIdentity(item.HomeAccountID, item.Environment) {
			m.accessor.DeleteIDToken(item.Key())
		}
	}
	for _, item := range m.accessor.Accounts() {
		if sameIdentity(item.HomeAccountID, item.Environment) {
			m.accessor.DeleteAccount(item.Key())
		}
	}

	if m.legacySync {
		m.legacy.RemoveUser(account.LocalAccountID, account.Username)
	}

	if err := m.notifyAfter(ctx, m.accessContext(true)); err != nil {
		logger.Debugf("Cache after-access hook failed: %v", err)
	}
	return nil
}

// Clear wipes every collection and the legacy table.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.notifyBefore(ctx, m.accessContext(true)); err != nil {
		return err
	}
	m.accessor.Clear()
	m.legacy.Clear()
	if err := m.notifyAfter(ctx, m.accessContext(true)); err != nil {
		logger.Debugf("Cache after-access hook failed: %v", err)
	}
	return nil
}

// Accounts lists the distinct cached accounts across the given environment
// aliases, one per home account and realm.
func (m *Manager) Accounts(ctx context.Context) ([]*Account, error) {
	if err := m.notifyBefore(ctx, m.accessContext(false)); err != nil {
		return nil, err
	}
	accounts := m.accessor.Accounts()
	if err := m.notifyAfter(ctx, m.accessContext(false)); err != nil {
		logger.Debugf("Cache after-access hook failed: %v", err)
	}
	return accounts, nil
}

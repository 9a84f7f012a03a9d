// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"sync"

	"github.com/stacklok/authkit/pkg/logger"
)

// collection names for the persisted multi-collection format. They double as
// the partitions of the accessor's backing store.
const (
	collectionAccessTokens  = "AccessToken"
	collectionRefreshTokens = "RefreshToken"
	collectionIDTokens      = "IdToken"
	collectionAccounts      = "Account"
	collectionAppMetadata   = "AppMetadata"
)

// Accessor is the in-memory store the manager operates over: five
// partitions mapping canonical keys to serialized items. All methods are
// safe for concurrent use by multiple goroutines.
type Accessor struct {
	mu sync.RWMutex

	// partitions maps collection name -> key -> serialized item.
	partitions map[string]map[string]json.RawMessage

	// extra preserves top-level collections this implementation does not
	// understand, so foreign cache files survive a round trip.
	extra map[string]json.RawMessage
}

// NewAccessor creates an empty in-memory store.
func NewAccessor() *Accessor {
	return &Accessor{partitions: emptyPartitions()}
}

func emptyPartitions() map[string]map[string]json.RawMessage {
	return map[string]map[string]json.RawMessage{
		collectionAccessTokens:  {},
		collectionRefreshTokens: {},
		collectionIDTokens:      {},
		collectionAccounts:      {},
		collectionAppMetadata:   {},
	}
}

func (s *Accessor) write(collection, key string, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[collection][key] = data
	return nil
}

func (s *Accessor) delete(collection, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions[collection], key)
}

// readItem decodes one item by key. A corrupt entry reads as absent with a
// diagnostic rather than an error: the cache may be shared with writers we
// do not control, and one bad entry must not break lookups.
func readItem[T any](s *Accessor, collection, key string) (*T, bool) {
	s.mu.RLock()
	data, ok := s.partitions[collection][key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	item := new(T)
	if err := json.Unmarshal(data, item); err != nil {
		logger.Debugf("Skipping unreadable %s cache entry %q: %v", collection, key, err)
		return nil, false
	}
	return item, true
}

// readAllItems decodes every item of a collection. Corrupt entries are
// skipped with a diagnostic, same as readItem.
func readAllItems[T any](s *Accessor, collection string) []*T {
	s.mu.RLock()
	raw := make([]json.RawMessage, 0, len(s.partitions[collection]))
	for _, data := range s.partitions[collection] {
		raw = append(raw, data)
	}
	s.mu.RUnlock()

	items := make([]*T, 0, len(raw))
	for _, data := range raw {
		item := new(T)
		if err := json.Unmarshal(data, item); err != nil {
			logger.Debugf("Skipping unreadable %s cache entry: %v", collection, err)
			continue
		}
		items = append(items, item)
	}
	return items
}

// SaveAccessToken writes an access token under its canonical key.
func (s *Accessor) SaveAccessToken(item *AccessToken) error {
	return s.write(collectionAccessTokens, item.Key(), item)
}

// GetAccessToken reads the access token stored under key.
func (s *Accessor) GetAccessToken(key string) (*AccessToken, bool) {
	return readItem[AccessToken](s, collectionAccessTokens, key)
}

// AccessTokens returns all readable access tokens.
func (s *Accessor) AccessTokens() []*AccessToken {
	return readAllItems[AccessToken](s, collectionAccessTokens)
}

// DeleteAccessToken removes the access token stored under key.
func (s *Accessor) DeleteAccessToken(key string) {
	s.delete(collectionAccessTokens, key)
}

// SaveRefreshToken writes a refresh token under its canonical key.
func (s *Accessor) SaveRefreshToken(item *RefreshToken) error {
	return s.write(collectionRefreshTokens, item.Key(), item)
}

// GetRefreshToken reads the refresh token stored under key.
func (s *Accessor) GetRefreshToken(key string) (*RefreshToken, bool) {
	return readItem[RefreshToken](s, collectionRefreshTokens, key)
}

// RefreshTokens returns all readable refresh tokens.
func (s *Accessor) RefreshTokens() []*RefreshToken {
	return readAllItems[RefreshToken](s, collectionRefreshTokens)
}

// DeleteRefreshToken removes the refresh token stored under key.
func (s *Accessor) DeleteRefreshToken(key string) {
	s.delete(collectionRefreshTokens, key)
}

// SaveIDToken writes an ID token under its canonical key.
func (s *Accessor) SaveIDToken(item *IDToken) error {
	return s.write(collectionIDTokens, item.Key(), item)
}

// GetIDToken reads the ID token stored under key.
func (s *Accessor) GetIDToken(key string) (*IDToken, bool) {
	return readItem[IDToken](s, collectionIDTokens, key)
}

// IDTokens returns all readable ID tokens.
func (s *Accessor) IDTokens() []*IDToken {
	return readAllItems[IDToken](s, collectionIDTokens)
}

// DeleteIDToken removes the ID token stored under key.
func (s *Accessor) DeleteIDToken(key string) {
	s.delete(collectionIDTokens, key)
}

// SaveAccount writes an account record under its canonical key.
func (s *Accessor) SaveAccount(item *Account) error {
	return s.write(collectionAccounts, item.Key(), item)
}

// GetAccount reads the account record stored under key.
func (s *Accessor) GetAccount(key string) (*Account, bool) {
	return readItem[Account](s, collectionAccounts, key)
}

// Accounts returns all readable account records.
func (s *Accessor) Accounts() []*Account {
	return readAllItems[Account](s, collectionAccounts)
}

// DeleteAccount removes the account record stored under key.
func (s *Accessor) DeleteAccount(key string) {
	s.delete(collectionAccounts, key)
}

// SaveAppMetadata writes a client metadata record under its canonical key.
func (s *Accessor) SaveAppMetadata(item *AppMetadata) error {
	return s.write(collectionAppMetadata, item.Key(), item)
}

// GetAppMetadata reads the client metadata record stored under key.
func (s *Accessor) GetAppMetadata(key string) (*AppMetadata, bool) {
	return readItem[AppMetadata](s, collectionAppMetadata, key)
}

// AppMetadataEntries returns all readable client metadata records.
func (s *Accessor) AppMetadataEntries() []*AppMetadata {
	return readAllItems[AppMetadata](s, collectionAppMetadata)
}

// Clear drops every item and any preserved foreign collections.
func (s *Accessor) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions = emptyPartitions()
	s.extra = nil
}

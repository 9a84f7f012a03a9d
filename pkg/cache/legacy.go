// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/authkit/pkg/logger"
)

// legacySubjectTypeUser marks entries written for a user principal; the old
// format distinguished user and client subjects in the key.
const legacySubjectTypeUser = "user"

// LegacyKey identifies an entry in the previous generation's single-table
// cache format.
type LegacyKey struct {
	Authority     string
	Resource      string
	ClientID      string
	SubjectType   string
	UniqueID      string
	DisplayableID string
}

// String renders the composite key. The old format joined fields with a pipe
// and compared case-insensitively.
func (k LegacyKey) String() string {
	return strings.ToLower(strings.Join([]string{
		k.Authority, k.Resource, k.ClientID, k.SubjectType, k.UniqueID, k.DisplayableID,
	}, "|"))
}

// LegacyRecord is the value stored per legacy key. Only the fields the
// current engine writes are modeled; foreign fields round-trip untouched.
type LegacyRecord struct {
	RefreshToken  string `json:"refresh_token"`
	AccessToken   string `json:"access_token,omitempty"`
	IDToken       string `json:"id_token,omitempty"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	UniqueID      string `json:"unique_id,omitempty"`
	DisplayableID string `json:"displayable_id,omitempty"`

	AdditionalFields map[string]json.RawMessage `json:"-"`
}

// MarshalJSON emits the known schema plus any preserved foreign fields.
func (r LegacyRecord) MarshalJSON() ([]byte, error) {
	type alias LegacyRecord
	known, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, r.AdditionalFields)
}

// UnmarshalJSON decodes the known schema and keeps the remainder.
func (r *LegacyRecord) UnmarshalJSON(data []byte) error {
	type alias LegacyRecord
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := splitExtra(data, decoded)
	if err != nil {
		return err
	}
	*r = LegacyRecord(decoded)
	r.AdditionalFields = extra
	return nil
}

// LegacyStore is the previous generation's cache table, kept in sync with
// the current cache so applications migrating between library generations
// see each other's refresh tokens.
type LegacyStore struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewLegacyStore creates an empty legacy table.
func NewLegacyStore() *LegacyStore {
	return &LegacyStore{entries: make(map[string]json.RawMessage)}
}

// Save writes a record, replacing any entry under the same key.
func (l *LegacyStore) Save(key LegacyKey, record *LegacyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key.String()] = data
	return nil
}

// RemoveUser deletes every entry whose key names the given user, across all
// authorities and clients.
func (l *LegacyStore) RemoveUser(uniqueID, displayableID string) {
	uniqueID = strings.ToLower(uniqueID)
	displayableID = strings.ToLower(displayableID)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.entries {
		parts := strings.Split(key, "|")
		if len(parts) != 6 {
			continue
		}
		if (uniqueID != "" && parts[4] == uniqueID) || (displayableID != "" && parts[5] == displayableID) {
			delete(l.entries, key)
		}
	}
}

// FindRefreshToken returns the newest-generation-usable refresh token for a
// user at an authority, if the legacy table has one. Used as a migration
// fallback when the current cache has no refresh token.
func (l *LegacyStore) FindRefreshToken(authority, clientID, displayableID string) (string, bool) {
	authority = strings.ToLower(authority)
	clientID = strings.ToLower(clientID)
	displayableID = strings.ToLower(displayableID)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for key, data := range l.entries {
		parts := strings.Split(key, "|")
		if len(parts) != 6 {
			continue
		}
		if parts[0] != authority || parts[2] != clientID {
			continue
		}
		if displayableID != "" && parts[5] != displayableID {
			continue
		}
		var record LegacyRecord
		if err := json.Unmarshal(data, &record); err != nil {
			logger.Debugf("Skipping unreadable legacy cache entry %q: %v", key, err)
			continue
		}
		if record.RefreshToken != "" {
			return record.RefreshToken, true
		}
	}
	return "", false
}

// Clear drops the whole table.
func (l *LegacyStore) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]json.RawMessage)
}

// Serialize renders the table as a single JSON object keyed by composite key.
func (l *LegacyStore) Serialize() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.entries)
}

// Deserialize replaces the table's contents with the persisted form.
func (l *LegacyStore) Deserialize(data []byte) error {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse legacy cache payload: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	return nil
}

// legacyExpiry formats an absolute expiry the way the old format carried it.
func legacyExpiry(t time.Time) string {
	return unixString(t)
}

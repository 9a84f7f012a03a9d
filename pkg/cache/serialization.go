// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/stacklok/authkit/pkg/logger"
)

// keyed is implemented by every cache entity.
type keyed interface {
	Key() string
}

// serializeCollection re-marshals a partition's items in canonical key order.
// Going through the typed entity normalizes field ordering, which is what
// makes serialize -> deserialize -> serialize byte-stable.
func serializeCollection[T any, P interface {
	*T
	keyed
}](s *Accessor, collection string) (json.RawMessage, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.partitions[collection]))
	for key := range s.partitions[collection] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	raw := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		raw = append(raw, s.partitions[collection][key])
	}
	s.mu.RUnlock()

	entries := make([]json.RawMessage, 0, len(raw))
	for _, data := range raw {
		item := P(new(T))
		if err := json.Unmarshal(data, item); err != nil {
			logger.Debugf("Dropping unreadable %s entry during serialization: %v", collection, err)
			continue
		}
		normalized, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		entries = append(entries, normalized)
	}
	return json.Marshal(entries)
}

// deserializeCollection loads a top-level array into a partition, keying each
// entry by its canonical key. Unreadable entries are skipped with a
// diagnostic so one corrupt record does not poison the rest of the cache.
func deserializeCollection[T any, P interface {
	*T
	keyed
}](data json.RawMessage, collection string, partitions map[string]map[string]json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("collection %s is not an array: %w", collection, err)
	}
	for _, entry := range entries {
		item := P(new(T))
		if err := json.Unmarshal(entry, item); err != nil {
			logger.Debugf("Skipping unreadable %s entry during deserialization: %v", collection, err)
			continue
		}
		partitions[collection][item.Key()] = entry
	}
	return nil
}

// Serialize renders the store in the multi-collection persisted format:
// one top-level array per entity collection, plus any foreign top-level
// properties preserved from a previous Deserialize.
func (s *Accessor) Serialize() ([]byte, error) {
	top := make(map[string]json.RawMessage, len(s.partitions)+len(s.extra))

	var err error
	if top[collectionAccessTokens], err = serializeCollection[AccessToken](s, collectionAccessTokens); err != nil {
		return nil, err
	}
	if top[collectionRefreshTokens], err = serializeCollection[RefreshToken](s, collectionRefreshTokens); err != nil {
		return nil, err
	}
	if top[collectionIDTokens], err = serializeCollection[IDToken](s, collectionIDTokens); err != nil {
		return nil, err
	}
	if top[collectionAccounts], err = serializeCollection[Account](s, collectionAccounts); err != nil {
		return nil, err
	}
	if top[collectionAppMetadata], err = serializeCollection[AppMetadata](s, collectionAppMetadata); err != nil {
		return nil, err
	}

	s.mu.RLock()
	for name, raw := range s.extra {
		top[name] = raw
	}
	s.mu.RUnlock()

	return json.Marshal(top)
}

// Deserialize replaces the store's contents with the persisted form.
// Top-level properties other than the known collections are preserved and
// re-emitted by Serialize.
func (s *Accessor) Deserialize(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("failed to parse cache payload: %w", err)
	}

	partitions := emptyPartitions()
	if err := deserializeCollection[AccessToken](top[collectionAccessTokens], collectionAccessTokens, partitions); err != nil {
		return err
	}
	if err := deserializeCollection[RefreshToken](top[collectionRefreshTokens], collectionRefreshTokens, partitions); err != nil {
		return err
	}
	if err := deserializeCollection[IDToken](top[collectionIDTokens], collectionIDTokens, partitions); err != nil {
		return err
	}
	if err := deserializeCollection[Account](top[collectionAccounts], collectionAccounts, partitions); err != nil {
		return err
	}
	if err := deserializeCollection[AppMetadata](top[collectionAppMetadata], collectionAppMetadata, partitions); err != nil {
		return err
	}

	var extra map[string]json.RawMessage
	for name, raw := range top {
		switch name {
		case collectionAccessTokens, collectionRefreshTokens, collectionIDTokens, collectionAccounts, collectionAppMetadata:
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[name] = raw
	}

	s.mu.Lock()
	s.partitions = partitions
	s.extra = extra
	s.mu.Unlock()
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package util provides common utility functions used across authkit
package util

import (
	"sort"
	"strings"
)

// ScopeSet is a case-insensitive set of OAuth scopes. Scopes are stored
// lower-cased; the original casing is not significant on the wire.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from a list of scopes, lower-casing and dropping
// empty entries.
func NewScopeSet(scopes []string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// ParseScopes splits a space-joined target string into a set.
func ParseScopes(target string) ScopeSet {
	return NewScopeSet(strings.Fields(target))
}

// Contains reports whether the set includes the scope.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[strings.ToLower(scope)]
	return ok
}

// IsSubsetOf reports whether every scope in s is present in other.
func (s ScopeSet) IsSubsetOf(other ScopeSet) bool {
	for scope := range s {
		if _, ok := other[scope]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of scopes in the set.
func (s ScopeSet) Len() int {
	return len(s)
}

// Join returns the scopes space-joined in sorted order. Sorting keeps cache
// keys deterministic regardless of the order the caller supplied.
func (s ScopeSet) Join() string {
	scopes := make([]string, 0, len(s))
	for scope := range s {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return strings.Join(scopes, " ")
}

// Slice returns the scopes as a sorted slice.
func (s ScopeSet) Slice() []string {
	scopes := make([]string, 0, len(s))
	for scope := range s {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

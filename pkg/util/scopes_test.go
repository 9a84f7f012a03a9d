// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeSetNormalization(t *testing.T) {
	t.Parallel()

	set := NewScopeSet([]string{"User.Read", "  MAIL.READ ", "", "user.read"})
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("user.read"))
	assert.True(t, set.Contains("Mail.Read"))
	assert.Equal(t, "mail.read user.read", set.Join())
}

func TestScopeSubset(t *testing.T) {
	t.Parallel()

	cached := NewScopeSet([]string{"a", "b", "c"})
	assert.True(t, NewScopeSet([]string{"a", "b"}).IsSubsetOf(cached))
	assert.True(t, NewScopeSet([]string{"A", "B", "C"}).IsSubsetOf(cached))
	assert.False(t, NewScopeSet([]string{"a", "b", "d"}).IsSubsetOf(cached))
	assert.True(t, NewScopeSet(nil).IsSubsetOf(cached))
}

func TestParseScopes(t *testing.T) {
	t.Parallel()

	set := ParseScopes("openid  profile Offline_Access")
	assert.Equal(t, []string{"offline_access", "openid", "profile"}, set.Slice())
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/authkit/pkg/errors"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		url        string
		wantHost   string
		wantTenant string
		wantType   Type
	}{
		{
			name:       "tenant GUID",
			url:        "https://login.microsoftonline.com/72f988bf-86f1-41af-91ab-2d7cd011db47",
			wantHost:   "login.microsoftonline.com",
			wantTenant: "72f988bf-86f1-41af-91ab-2d7cd011db47",
			wantType:   AAD,
		},
		{
			name:       "common placeholder with trailing slash",
			url:        "https://login.microsoftonline.com/common/",
			wantHost:   "login.microsoftonline.com",
			wantTenant: "common",
			wantType:   AAD,
		},
		{
			name:       "host and tenant are lowercased",
			url:        "https://LOGIN.Example.NET/TenantName",
			wantHost:   "login.example.net",
			wantTenant: "tenantname",
			wantType:   AAD,
		},
		{
			name:       "adfs path selects the ADFS type",
			url:        "https://sso.contoso.com/adfs",
			wantHost:   "sso.contoso.com",
			wantTenant: "adfs",
			wantType:   ADFS,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info, err := Parse(tc.url)
			require.NoError(t, err)
			assert.Equal(t, tc.wantHost, info.Host)
			assert.Equal(t, tc.wantTenant, info.Tenant)
			assert.Equal(t, tc.wantType, info.Type)
		})
	}
}

func TestParseRejectsInvalidAuthorities(t *testing.T) {
	t.Parallel()

	for _, url := range []string{
		"http://login.microsoftonline.com/common",
		"https://login.microsoftonline.com",
		"https://login.microsoftonline.com/",
		"://bad",
	} {
		_, err := Parse(url)
		require.Error(t, err, "authority %q must be rejected", url)
		assert.True(t, errors.IsInvalidArgument(err))
	}
}

func TestInfoURL(t *testing.T) {
	t.Parallel()

	info, err := Parse("https://login.microsoftonline.com/Common/")
	require.NoError(t, err)
	assert.Equal(t, "https://login.microsoftonline.com/common", info.URL())
}

func TestWithTenant(t *testing.T) {
	t.Parallel()

	common, err := Parse("https://login.microsoftonline.com/common")
	require.NoError(t, err)
	assert.True(t, common.IsPlaceholderTenant())

	pinned := common.WithTenant("Tid-1")
	assert.Equal(t, "tid-1", pinned.Tenant)
	assert.Equal(t, "common", common.Tenant, "original must not be mutated")

	// A concrete tenant is never replaced.
	concrete, err := Parse("https://login.microsoftonline.com/tid-1")
	require.NoError(t, err)
	assert.False(t, concrete.IsPlaceholderTenant())
	assert.Same(t, concrete, concrete.WithTenant("tid-2"))

	// An empty tenant ID leaves the placeholder in place.
	assert.Same(t, common, common.WithTenant(""))
}

func TestPlaceholderTenants(t *testing.T) {
	t.Parallel()

	for _, tenant := range []string{TenantCommon, TenantOrganizations, TenantConsumers} {
		info := &Info{Host: "login.microsoftonline.com", Tenant: tenant, Type: AAD}
		assert.True(t, info.IsPlaceholderTenant(), "tenant %q", tenant)
	}
	assert.False(t, (&Info{Tenant: "tid-1"}).IsPlaceholderTenant())
}

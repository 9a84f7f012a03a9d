// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authority resolves issuer authorities into concrete endpoints and
// the alias groups that make differently-named hosts of one cloud instance
// share cache entries.
package authority

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/stacklok/authkit/pkg/errors"
)

// Type classifies an authority.
type Type string

// Authority types.
const (
	// AAD is a cloud AAD authority with instance discovery and aliasing.
	AAD Type = "MSSTS"

	// ADFS is an on-premises federation server; no instance discovery.
	ADFS Type = "ADFS"

	// Generic is any other OIDC issuer, resolved via OIDC discovery.
	Generic Type = "OIDC"
)

// Tenant placeholder values that stand in for a concrete tenant until one is
// known.
const (
	TenantCommon        = "common"
	TenantOrganizations = "organizations"
	TenantConsumers     = "consumers"
)

// Info is a parsed authority URL.
type Info struct {
	// Host is the issuer host, e.g. login.microsoftonline.com.
	Host string

	// Tenant is the tenant path segment: a GUID, domain, or placeholder.
	Tenant string

	// Type classifies how endpoints are resolved.
	Type Type
}

// Parse splits an authority URL into host and tenant and classifies it.
func Parse(authorityURL string) (*Info, error) {
	u, err := url.Parse(strings.TrimSuffix(authorityURL, "/"))
	if err != nil {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("invalid authority %q", authorityURL), err)
	}
	if u.Scheme != "https" {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("authority %q must use HTTPS", authorityURL), nil)
	}

	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("authority %q is missing a tenant segment", authorityURL), nil)
	}

	info := &Info{
		Host:   strings.ToLower(u.Host),
		Tenant: strings.ToLower(segments[0]),
		Type:   AAD,
	}
	if info.Tenant == "adfs" {
		info.Type = ADFS
	}
	return info, nil
}

// URL reconstructs the canonical authority URL.
func (i *Info) URL() string {
	return fmt.Sprintf("https://%s/%s", i.Host, i.Tenant)
}

// IsPlaceholderTenant reports whether the tenant still needs substitution by
// a concrete tenant ID once one is learned from a token response.
func (i *Info) IsPlaceholderTenant() bool {
	switch i.Tenant {
	case TenantCommon, TenantOrganizations, TenantConsumers:
		return true
	}
	return false
}

// WithTenant returns a copy of the authority pinned to a concrete tenant.
// Non-placeholder tenants are preserved unchanged.
func (i *Info) WithTenant(tenantID string) *Info {
	if !i.IsPlaceholderTenant() || tenantID == "" {
		return i
	}
	clone := *i
	clone.Tenant = strings.ToLower(tenantID)
	return &clone
}

// Endpoints are the resolved wire endpoints of an authority.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	DeviceCodeEndpoint    string
	Issuer                string

	// PreferredNetworkHost serves network calls; PreferredCacheHost keys
	// cache entries. Both default to the authority host.
	PreferredNetworkHost string
	PreferredCacheHost   string
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/stacklok/authkit/pkg/logger"
	"github.com/stacklok/authkit/pkg/networking"
)

// wellKnownAliases seeds the alias table for clouds whose hosts are known up
// front, so the common case needs no discovery round trip before cache reads.
var wellKnownAliases = [][]string{
	{"login.microsoftonline.com", "login.windows.net", "login.microsoft.com", "sts.windows.net"},
	{"login.partner.microsoftonline.cn", "login.chinacloudapi.cn"},
	{"login.microsoftonline.us", "login.usgovcloudapi.net"},
}

// instanceDiscoveryResponse is the wire shape of the instance-discovery call.
type instanceDiscoveryResponse struct {
	TenantDiscoveryEndpoint string                  `json:"tenant_discovery_endpoint"`
	Metadata                []instanceMetadataEntry `json:"metadata"`
}

type instanceMetadataEntry struct {
	PreferredNetwork string   `json:"preferred_network"`
	PreferredCache   string   `json:"preferred_cache"`
	Aliases          []string `json:"aliases"`
}

// aliasGroup is the resolved alias set for one cloud instance.
type aliasGroup struct {
	preferredNetwork string
	preferredCache   string
	aliases          []string
}

// Resolver resolves authorities to endpoints and alias groups, memoizing
// per environment so repeated resolution is O(1) after the first round trip.
type Resolver struct {
	http          networking.HTTPClient
	discoveryHost string

	mu     sync.RWMutex
	groups map[string]*aliasGroup // keyed by each alias host
	oidc   map[string]*Endpoints  // keyed by issuer URL, for Generic/ADFS
}

// NewResolver creates a resolver. discoveryHost is the base URL used for
// AAD instance discovery.
func NewResolver(httpClient networking.HTTPClient, discoveryHost string) *Resolver {
	r := &Resolver{
		http:          httpClient,
		discoveryHost: strings.TrimSuffix(discoveryHost, "/"),
		groups:        make(map[string]*aliasGroup),
		oidc:          make(map[string]*Endpoints),
	}
	for _, aliases := range wellKnownAliases {
		group := &aliasGroup{
			preferredNetwork: aliases[0],
			preferredCache:   aliases[0],
			aliases:          aliases,
		}
		for _, alias := range aliases {
			r.groups[alias] = group
		}
	}
	return r
}

// Resolve returns the endpoints for an authority, performing instance or
// OIDC discovery on first use of the environment.
func (r *Resolver) Resolve(ctx context.Context, info *Info) (*Endpoints, error) {
	switch info.Type {
	case AAD:
		return r.resolveAAD(ctx, info)
	default:
		return r.resolveOIDC(ctx, info)
	}
}

func (r *Resolver) resolveAAD(ctx context.Context, info *Info) (*Endpoints, error) {
	group, err := r.aliasGroupFor(ctx, info.Host)
	if err != nil {
		return nil, err
	}

	network := group.preferredNetwork
	if network == "" {
		network = info.Host
	}
	cache := group.preferredCache
	if cache == "" {
		cache = info.Host
	}

	base := fmt.Sprintf("https://%s/%s", network, info.Tenant)
	return &Endpoints{
		AuthorizationEndpoint: base + "/oauth2/v2.0/authorize",
		TokenEndpoint:         base + "/oauth2/v2.0/token",
		DeviceCodeEndpoint:    base + "/oauth2/v2.0/devicecode",
		Issuer:                base + "/v2.0",
		PreferredNetworkHost:  network,
		PreferredCacheHost:    cache,
	}, nil
}

// resolveOIDC resolves ADFS and generic issuers through standard OIDC
// discovery; there is no instance aliasing for these.
func (r *Resolver) resolveOIDC(ctx context.Context, info *Info) (*Endpoints, error) {
	issuer := info.URL()

	r.mu.RLock()
	cached, ok := r.oidc[issuer]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if hc, isClient := r.http.(*http.Client); isClient {
		ctx = oidc.ClientContext(ctx, hc)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery for %s failed: %w", issuer, err)
	}

	endpoints := &Endpoints{
		AuthorizationEndpoint: provider.Endpoint().AuthURL,
		TokenEndpoint:         provider.Endpoint().TokenURL,
		DeviceCodeEndpoint:    provider.Endpoint().DeviceAuthURL,
		Issuer:                issuer,
		PreferredNetworkHost:  info.Host,
		PreferredCacheHost:    info.Host,
	}

	r.mu.Lock()
	r.oidc[issuer] = endpoints
	r.mu.Unlock()
	return endpoints, nil
}

// Aliases returns every host aliased to the given environment, always
// including the host itself. Unknown environments resolve to themselves so
// cache operations degrade gracefully when discovery is unavailable.
func (r *Resolver) Aliases(ctx context.Context, host string) []string {
	group, err := r.aliasGroupFor(ctx, host)
	if err != nil {
		logger.Debugf("Instance discovery for %s failed, treating host as its own alias group: %v", host, err)
		return []string{strings.ToLower(host)}
	}
	return group.aliases
}

// PreferredCacheHost maps an environment to the host cache entries are keyed
// under.
func (r *Resolver) PreferredCacheHost(ctx context.Context, host string) string {
	group, err := r.aliasGroupFor(ctx, host)
	if err != nil || group.preferredCache == "" {
		return strings.ToLower(host)
	}
	return group.preferredCache
}

func (r *Resolver) aliasGroupFor(ctx context.Context, host string) (*aliasGroup, error) {
	host = strings.ToLower(host)

	r.mu.RLock()
	group, ok := r.groups[host]
	r.mu.RUnlock()
	if ok {
		return group, nil
	}

	discovered, err := r.discoverInstance(ctx, host)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have raced the discovery; keep the first result.
	if existing, ok := r.groups[host]; ok {
		return existing, nil
	}
	for _, entry := range discovered.Metadata {
		group := &aliasGroup{
			preferredNetwork: entry.PreferredNetwork,
			preferredCache:   entry.PreferredCache,
			aliases:          entry.Aliases,
		}
		for _, alias := range entry.Aliases {
			r.groups[strings.ToLower(alias)] = group
		}
	}
	if group, ok := r.groups[host]; ok {
		return group, nil
	}

	// The host answered discovery but was absent from its own metadata.
	group = &aliasGroup{preferredNetwork: host, preferredCache: host, aliases: []string{host}}
	r.groups[host] = group
	return group, nil
}

func (r *Resolver) discoverInstance(ctx context.Context, host string) (*instanceDiscoveryResponse, error) {
	discoveryURL := fmt.Sprintf(
		"%s/common/discovery/instance?api-version=1.1&authorization_endpoint=https://%s/common/oauth2/v2.0/authorize",
		r.discoveryHost, host)

	result, err := networking.FetchJSON[instanceDiscoveryResponse](ctx, r.http, discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("instance discovery failed: %w", err)
	}
	return &result.Data, nil
}

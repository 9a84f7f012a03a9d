// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDoer struct {
	mu      sync.Mutex
	calls   int
	handler func(req *http.Request) (*http.Response, error)
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.handler(req)
}

func (d *countingDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func jsonReply(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

const discoveryMetadata = `{
	"tenant_discovery_endpoint": "https://login.example.net/t1/v2.0/.well-known/openid-configuration",
	"metadata": [
		{
			"preferred_network": "login.example.net",
			"preferred_cache": "cache.example.net",
			"aliases": ["login.example.net", "sts.example.net", "cache.example.net"]
		}
	]
}`

func TestResolveAADWellKnownCloudNeedsNoDiscovery(t *testing.T) {
	t.Parallel()

	doer := &countingDoer{handler: func(_ *http.Request) (*http.Response, error) {
		return jsonReply(http.StatusInternalServerError, `{}`)
	}}
	r := NewResolver(doer, "https://login.microsoftonline.com")

	info, err := Parse("https://login.windows.net/tid-1")
	require.NoError(t, err)

	endpoints, err := r.Resolve(context.Background(), info)
	require.NoError(t, err)

	// login.windows.net is aliased to the worldwide cloud; network calls go
	// to the preferred network host.
	assert.Equal(t, "https://login.microsoftonline.com/tid-1/oauth2/v2.0/token", endpoints.TokenEndpoint)
	assert.Equal(t, "https://login.microsoftonline.com/tid-1/oauth2/v2.0/authorize", endpoints.AuthorizationEndpoint)
	assert.Equal(t, "https://login.microsoftonline.com/tid-1/oauth2/v2.0/devicecode", endpoints.DeviceCodeEndpoint)
	assert.Equal(t, "login.microsoftonline.com", endpoints.PreferredCacheHost)
	assert.Zero(t, doer.callCount(), "well-known clouds must not trigger discovery")
}

func TestResolveAADDiscoversUnknownEnvironmentOnce(t *testing.T) {
	t.Parallel()

	doer := &countingDoer{handler: func(req *http.Request) (*http.Response, error) {
		require.Contains(t, req.URL.Path, "/common/discovery/instance")
		return jsonReply(http.StatusOK, discoveryMetadata)
	}}
	r := NewResolver(doer, "https://login.example.net")

	info, err := Parse("https://sts.example.net/tid-1")
	require.NoError(t, err)

	endpoints, err := r.Resolve(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.net/tid-1/oauth2/v2.0/token", endpoints.TokenEndpoint)
	assert.Equal(t, "cache.example.net", endpoints.PreferredCacheHost)

	// The alias group is memoized for every host it names.
	_, err = r.Resolve(context.Background(), info)
	require.NoError(t, err)
	other, err := Parse("https://cache.example.net/tid-2")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 1, doer.callCount(), "one discovery round trip per environment")
}

func TestAliasesIncludeWholeGroup(t *testing.T) {
	t.Parallel()

	doer := &countingDoer{handler: func(_ *http.Request) (*http.Response, error) {
		return jsonReply(http.StatusOK, discoveryMetadata)
	}}
	r := NewResolver(doer, "https://login.example.net")

	aliases := r.Aliases(context.Background(), "STS.example.net")
	assert.ElementsMatch(t, []string{"login.example.net", "sts.example.net", "cache.example.net"}, aliases)
	assert.Equal(t, "cache.example.net", r.PreferredCacheHost(context.Background(), "sts.example.net"))
}

func TestAliasesDegradeWhenDiscoveryFails(t *testing.T) {
	t.Parallel()

	doer := &countingDoer{handler: func(_ *http.Request) (*http.Response, error) {
		return jsonReply(http.StatusServiceUnavailable, `{}`)
	}}
	r := NewResolver(doer, "https://login.example.net")

	aliases := r.Aliases(context.Background(), "Unreachable.Example.Org")
	assert.Equal(t, []string{"unreachable.example.org"}, aliases)
	assert.Equal(t, "unreachable.example.org", r.PreferredCacheHost(context.Background(), "Unreachable.Example.Org"))
}

func TestResolveAADHostMissingFromOwnMetadata(t *testing.T) {
	t.Parallel()

	doer := &countingDoer{handler: func(_ *http.Request) (*http.Response, error) {
		return jsonReply(http.StatusOK, `{"metadata":[{"preferred_network":"other.example.net","preferred_cache":"other.example.net","aliases":["other.example.net"]}]}`)
	}}
	r := NewResolver(doer, "https://login.example.net")

	info, err := Parse("https://lonely.example.net/tid-1")
	require.NoError(t, err)

	endpoints, err := r.Resolve(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, "https://lonely.example.net/tid-1/oauth2/v2.0/token", endpoints.TokenEndpoint)
	assert.Equal(t, "lonely.example.net", endpoints.PreferredCacheHost)
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestResolveOIDCDiscovery(t *testing.T) {
	t.Parallel()

	const issuer = "https://sso.contoso.com/adfs"
	var discoveryCalls int
	// An *http.Client with a stub transport lets OIDC discovery run without
	// touching the network.
	httpClient := &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/.well-known/openid-configuration") {
			discoveryCalls++
			return jsonReply(http.StatusOK, fmt.Sprintf(`{
				"issuer": %q,
				"authorization_endpoint": %q,
				"token_endpoint": %q,
				"device_authorization_endpoint": %q,
				"jwks_uri": %q,
				"response_types_supported": ["code"],
				"subject_types_supported": ["public"],
				"id_token_signing_alg_values_supported": ["RS256"]
			}`, issuer, issuer+"/oauth2/authorize", issuer+"/oauth2/token", issuer+"/oauth2/devicecode", issuer+"/discovery/keys"))
		}
		return jsonReply(http.StatusNotFound, `{}`)
	})}
	r := NewResolver(httpClient, "https://login.microsoftonline.com")

	info, err := Parse(issuer)
	require.NoError(t, err)
	require.Equal(t, ADFS, info.Type)

	endpoints, err := r.Resolve(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, issuer+"/oauth2/token", endpoints.TokenEndpoint)
	assert.Equal(t, issuer+"/oauth2/authorize", endpoints.AuthorizationEndpoint)
	assert.Equal(t, issuer+"/oauth2/devicecode", endpoints.DeviceCodeEndpoint)
	assert.Equal(t, "sso.contoso.com", endpoints.PreferredCacheHost)

	// Discovery is memoized per issuer.
	_, err = r.Resolve(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, 1, discoveryCalls)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/authkit/pkg/cache"
	"github.com/stacklok/authkit/pkg/config"
	"github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/util"
)

const testAuthority = "https://login.example.net/t1"

// encodedClientInfo is {"uid":"uid-1","utid":"utid-1"} in unpadded base64url.
const encodedClientInfo = "eyJ1aWQiOiJ1aWQtMSIsInV0aWQiOiJ1dGlkLTEifQ"

func testSettings() *config.Settings {
	return &config.Settings{
		ExpiryBuffer:          config.DefaultExpiryBuffer,
		HTTPTimeout:           config.DefaultHTTPTimeout,
		TLSHandshakeTimeout:   config.DefaultTLSHandshakeTimeout,
		MaxRetries:            1,
		InstanceDiscoveryHost: "https://login.example.net",
	}
}

type fakeDoer struct {
	mu      sync.Mutex
	calls   map[string]int
	handler func(req *http.Request) (*http.Response, error)
}

func newFakeDoer(handler func(req *http.Request) (*http.Response, error)) *fakeDoer {
	return &fakeDoer{calls: map[string]int{}, handler: handler}
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls[req.URL.Path]++
	d.mu.Unlock()
	return d.handler(req)
}

func (d *fakeDoer) callCount(suffix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for path, n := range d.calls {
		if strings.HasSuffix(path, suffix) {
			total += n
		}
	}
	return total
}

func jsonReply(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func unsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + sig
}

func userTokenBody(t *testing.T, accessToken string) string {
	t.Helper()
	idToken := unsignedJWT(t, map[string]any{
		"sub":                "sub-1",
		"oid":                "oid-1",
		"tid":                "t1",
		"preferred_username": "user@example.com",
	})
	return fmt.Sprintf(`{
		"access_token": %q,
		"refresh_token": "rt-1",
		"id_token": %q,
		"token_type": "Bearer",
		"expires_in": 3600,
		"scope": "scope.read",
		"client_info": %q
	}`, accessToken, idToken, encodedClientInfo)
}

// routeIdentity serves instance discovery and delegates everything else.
func routeIdentity(next func(req *http.Request) (*http.Response, error)) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "/common/discovery/instance") {
			return jsonReply(http.StatusOK, `{
				"metadata": [{
					"preferred_network": "login.example.net",
					"preferred_cache": "login.example.net",
					"aliases": ["login.example.net", "sts.example.net"]
				}]
			}`)
		}
		return next(req)
	}
}

func TestNewConfidentialClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewConfidentialClientWithSecret("client-1", testAuthority, "")
	require.Error(t, err)
	var typed *errors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errors.ErrMissingInput, typed.Type)

	_, err = NewConfidentialClientWithCredential("client-1", testAuthority, nil)
	require.Error(t, err)
}

func TestNewPublicClientRejectsInvalidAuthority(t *testing.T) {
	t.Parallel()

	_, err := NewPublicClient("client-1", "http://login.example.net/t1", WithSettings(testSettings()))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestAuthCodeURL(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(routeIdentity(func(_ *http.Request) (*http.Response, error) {
		return jsonReply(http.StatusNotFound, `{}`)
	}))
	c, err := NewPublicClient("client-1", testAuthority,
		WithSettings(testSettings()), WithHTTPClient(doer))
	require.NoError(t, err)

	authURL, pkce, err := c.AuthCodeURL(context.Background(), "http://localhost:8080/callback", "state-1", []string{"scope.read", "scope.write"})
	require.NoError(t, err)
	require.NotNil(t, pkce)
	assert.NotEmpty(t, pkce.Verifier)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/t1/oauth2/v2.0/authorize", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "http://localhost:8080/callback", query.Get("redirect_uri"))
	assert.Equal(t, "state-1", query.Get("state"))
	assert.Equal(t, "scope.read scope.write", query.Get("scope"))
	assert.Equal(t, pkce.Challenge, query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
}

func TestParseAuthCodeRedirect(t *testing.T) {
	t.Parallel()

	code, err := ParseAuthCodeRedirect("http://localhost:8080/callback?code=auth-code&state=state-1", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "auth-code", code)

	_, err = ParseAuthCodeRedirect("http://localhost:8080/callback?code=auth-code&state=evil", "state-1")
	require.Error(t, err)
	var typed *errors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errors.ErrStateMismatch, typed.Type)

	_, err = ParseAuthCodeRedirect("http://localhost:8080/callback?state=state-1", "state-1")
	require.Error(t, err)

	_, err = ParseAuthCodeRedirect("http://localhost:8080/callback?error=access_denied&error_description=declined&state=state-1", "state-1")
	require.Error(t, err)
	var svc *errors.ServiceError
	require.ErrorAs(t, err, &svc)
	assert.Equal(t, "access_denied", svc.Code)
}

func TestConfidentialClientCredentialsServedFromCache(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(routeIdentity(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/token") {
			return jsonReply(http.StatusOK, `{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`)
		}
		return jsonReply(http.StatusNotFound, `{}`)
	}))
	c, err := NewConfidentialClientWithSecret("client-1", testAuthority, "hunter2",
		WithSettings(testSettings()), WithHTTPClient(doer))
	require.NoError(t, err)

	first, err := c.AcquireByClientCredentials(context.Background(), []string{"scope.read"})
	require.NoError(t, err)
	assert.Equal(t, "app-token", first.AccessToken)
	assert.False(t, first.FromCache)

	second, err := c.AcquireByClientCredentials(context.Background(), []string{"scope.read"})
	require.NoError(t, err)
	assert.Equal(t, "app-token", second.AccessToken)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, doer.callCount("/token"), "second acquisition must be served from cache")
}

func TestPublicClientAuthCodeThenSilent(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(routeIdentity(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/token") {
			return jsonReply(http.StatusOK, userTokenBody(t, "user-token"))
		}
		return jsonReply(http.StatusNotFound, `{}`)
	}))
	c, err := NewPublicClient("client-1", testAuthority,
		WithSettings(testSettings()), WithHTTPClient(doer))
	require.NoError(t, err)

	res, err := c.AcquireByAuthCode(context.Background(), "auth-code", "http://localhost/cb", nil, []string{"scope.read"})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Equal(t, "user@example.com", res.Account.Username)

	accounts, err := c.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	silent, err := c.AcquireSilent(context.Background(), []string{"scope.read"}, accounts[0])
	require.NoError(t, err)
	assert.True(t, silent.FromCache)
	assert.Equal(t, "user-token", silent.AccessToken)
	assert.Equal(t, 1, doer.callCount("/token"))

	require.NoError(t, c.RemoveAccount(context.Background(), accounts[0]))
	accounts, err = c.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRemoveAccountCoversAliasedEnvironments(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(routeIdentity(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/token") {
			return jsonReply(http.StatusOK, userTokenBody(t, "user-token"))
		}
		return jsonReply(http.StatusNotFound, `{}`)
	}))
	c, err := NewPublicClient("client-1", testAuthority,
		WithSettings(testSettings()), WithHTTPClient(doer))
	require.NoError(t, err)

	_, err = c.AcquireByAuthCode(context.Background(), "auth-code", "http://localhost/cb", nil, []string{"scope.read"})
	require.NoError(t, err)

	// A credential left under an aliased host of the same cloud instance,
	// as another cache writer would have stored it.
	now := time.Now()
	aliased := cache.NewAccessToken("uid-1.utid-1", "sts.example.net", "t1", "client-1",
		now, now.Add(time.Hour), now.Add(time.Hour), time.Time{},
		util.NewScopeSet([]string{"scope.read"}), "aliased-token", "", "")
	require.NoError(t, c.exec.Cache().Accessor().SaveAccessToken(aliased))

	accounts, err := c.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	require.NoError(t, c.RemoveAccount(context.Background(), accounts[0]))

	assert.Empty(t, c.exec.Cache().Accessor().AccessTokens(),
		"sign-out must delete credentials under every aliased environment")
	assert.Empty(t, c.exec.Cache().Accessor().RefreshTokens())
	accounts, err = c.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestTokenSourceAdapter(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(routeIdentity(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/token") {
			return jsonReply(http.StatusOK, `{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`)
		}
		return jsonReply(http.StatusNotFound, `{}`)
	}))
	c, err := NewConfidentialClientWithSecret("client-1", testAuthority, "hunter2",
		WithSettings(testSettings()), WithHTTPClient(doer))
	require.NoError(t, err)

	source := c.TokenSource(context.Background(), []string{"scope.read"})
	tok, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "app-token", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.After(time.Now()))

	// Subsequent Token calls ride the cache.
	_, err = source.Token()
	require.NoError(t, err)
	assert.Equal(t, 1, doer.callCount("/token"))
}

func TestCacheFileSharedAcrossClients(t *testing.T) {
	t.Parallel()

	cachePath := filepath.Join(t.TempDir(), "tokens.json")
	handler := routeIdentity(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/token") {
			return jsonReply(http.StatusOK, userTokenBody(t, "user-token"))
		}
		return jsonReply(http.StatusNotFound, `{}`)
	})

	first, err := NewPublicClient("client-1", testAuthority,
		WithSettings(testSettings()), WithHTTPClient(newFakeDoer(handler)), WithCacheFile(cachePath))
	require.NoError(t, err)

	_, err = first.AcquireByAuthCode(context.Background(), "auth-code", "http://localhost/cb", nil, []string{"scope.read"})
	require.NoError(t, err)

	// A fresh client over the same file sees the persisted account and can
	// serve silently without a network token call.
	secondDoer := newFakeDoer(handler)
	second, err := NewPublicClient("client-1", testAuthority,
		WithSettings(testSettings()), WithHTTPClient(secondDoer), WithCacheFile(cachePath))
	require.NoError(t, err)

	accounts, err := second.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "user@example.com", accounts[0].Username)

	res, err := second.AcquireSilent(context.Background(), []string{"scope.read"}, accounts[0])
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "user-token", res.AccessToken)
	assert.Equal(t, 0, secondDoer.callCount("/token"))
}

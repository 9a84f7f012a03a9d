// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client is the public surface of authkit: public and confidential
// client types over the shared request executor, plus an oauth2.TokenSource
// adapter for libraries that consume golang.org/x/oauth2.
package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/stacklok/authkit/pkg/authority"
	"github.com/stacklok/authkit/pkg/cache"
	"github.com/stacklok/authkit/pkg/cache/persistence"
	"github.com/stacklok/authkit/pkg/config"
	"github.com/stacklok/authkit/pkg/crypto"
	autherrors "github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/networking"
	"github.com/stacklok/authkit/pkg/oauth"
	"github.com/stacklok/authkit/pkg/request"
	"github.com/stacklok/authkit/pkg/util"
)

// options collects the cross-cutting knobs shared by both client types.
type options struct {
	settings  *config.Settings
	http      networking.HTTPClient
	clock     util.Clock
	resolver  *authority.Resolver
	cache     *cache.Manager
	notifier  cache.Notifier
	cacheFile string
}

// Option configures a client.
type Option func(*options)

// WithSettings overrides the environment-loaded settings.
func WithSettings(s *config.Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithHTTPClient injects the HTTP capability.
func WithHTTPClient(c networking.HTTPClient) Option {
	return func(o *options) { o.http = c }
}

// WithClock injects the time source, for tests.
func WithClock(c util.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCacheManager injects a shared cache manager, letting several clients
// of the same family share tokens in process.
func WithCacheManager(m *cache.Manager) Option {
	return func(o *options) { o.cache = m }
}

// WithCacheNotifier installs host hooks invoked around every cache access.
func WithCacheNotifier(n cache.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithCacheFile persists the cache to the given path, guarded by a file
// lock so processes can share it.
func WithCacheFile(path string) Option {
	return func(o *options) { o.cacheFile = path }
}

// WithResolver injects the authority resolver, for tests.
func WithResolver(r *authority.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

func buildExecutor(clientID, authorityURL, secret string, credential *crypto.Credential, opts []Option) (*request.Executor, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	settings := o.settings
	if settings == nil {
		settings = config.Load()
	}

	info, err := authority.Parse(authorityURL)
	if err != nil {
		return nil, err
	}

	httpClient := o.http
	if httpClient == nil {
		built, err := networking.NewHttpClientBuilder().
			WithTimeout(settings.HTTPTimeout).
			WithTLSHandshakeTimeout(settings.TLSHandshakeTimeout).
			Build()
		if err != nil {
			return nil, err
		}
		httpClient = built
	}

	clock := o.clock
	if clock == nil {
		clock = util.RealClock{}
	}

	cacheManager := o.cache
	if cacheManager == nil {
		cacheManager = cache.NewManager(
			cache.WithExpiryBuffer(settings.ExpiryBuffer),
			cache.WithLegacySync(settings.EnableLegacyCache),
			cache.WithClock(clock),
		)
	}
	switch {
	case o.notifier != nil:
		cacheManager.SetNotifier(o.notifier)
	case o.cacheFile != "":
		cacheManager.SetNotifier(persistence.NewFilePersister(o.cacheFile))
	}

	resolver := o.resolver
	if resolver == nil {
		resolver = authority.NewResolver(httpClient, settings.InstanceDiscoveryHost)
	}

	return request.NewExecutor(request.Config{
		ClientID:         clientID,
		Authority:        info,
		ClientSecret:     secret,
		ClientCredential: credential,
		HTTP:             httpClient,
		Resolver:         resolver,
		Cache:            cacheManager,
		Clock:            clock,
		Crypto:           crypto.DefaultProvider{},
		MaxRetries:       settings.MaxRetries,
	})
}

// PublicClient acquires tokens for flows where the application cannot hold a
// secret: devices, desktop apps, scripts acting as a user.
type PublicClient struct {
	exec     *request.Executor
	clientID string
	crypto   crypto.Provider
}

// NewPublicClient creates a public client for the given application and
// authority URL.
func NewPublicClient(clientID, authorityURL string, opts ...Option) (*PublicClient, error) {
	exec, err := buildExecutor(clientID, authorityURL, "", nil, opts)
	if err != nil {
		return nil, err
	}
	return &PublicClient{exec: exec, clientID: clientID, crypto: crypto.DefaultProvider{}}, nil
}

// AuthCodeURL builds the authorization URL for the interactive leg of the
// authorization-code flow, with a fresh PKCE pair the caller must retain for
// the exchange.
func (c *PublicClient) AuthCodeURL(ctx context.Context, redirectURI, state string, scopes []string) (string, *crypto.PKCE, error) {
	pkce, err := crypto.NewPKCE(c.crypto)
	if err != nil {
		return "", nil, err
	}

	resolved, err := c.exec.Endpoints(ctx, "")
	if err != nil {
		return "", nil, err
	}

	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	query.Set("scope", strings.Join(scopes, " "))
	query.Set("code_challenge", pkce.Challenge)
	query.Set("code_challenge_method", pkce.Method)
	return resolved.AuthorizationEndpoint + "?" + query.Encode(), pkce, nil
}

// ParseAuthCodeRedirect extracts the authorization code from the provider's
// redirect callback, validating the echoed state against the value sent in
// AuthCodeURL.
func ParseAuthCodeRedirect(redirectURL, expectedState string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", autherrors.NewInvalidArgumentError("invalid redirect URL", err)
	}
	query := u.Query()

	if code := query.Get("error"); code != "" {
		return "", &autherrors.ServiceError{Code: code, Description: query.Get("error_description")}
	}
	if query.Get("state") != expectedState {
		return "", autherrors.NewStateMismatchError("authorization response state does not match the request")
	}
	code := query.Get("code")
	if code == "" {
		return "", autherrors.NewMissingInputError("authorization response contains no code")
	}
	return code, nil
}

// AcquireSilent serves a token from the cache, refreshing when needed.
func (c *PublicClient) AcquireSilent(ctx context.Context, scopes []string, account *cache.Account) (*request.Result, error) {
	return c.exec.AcquireSilent(ctx, &request.Request{Scopes: scopes, Account: account})
}

// AcquireByAuthCode redeems an authorization code.
func (c *PublicClient) AcquireByAuthCode(ctx context.Context, code, redirectURI string, pkce *crypto.PKCE, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.AuthorizationCode{Code: code, RedirectURI: redirectURI, PKCE: pkce}, &request.Request{Scopes: scopes})
}

// AcquireByUsernamePassword acquires a token from user credentials, bridging
// through WS-Trust for federated accounts.
func (c *PublicClient) AcquireByUsernamePassword(ctx context.Context, username, password string, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.UsernamePassword{Username: username, Password: password}, &request.Request{Scopes: scopes})
}

// AcquireByIntegratedWindows acquires a token for a federated user whose
// credential rides the transport.
func (c *PublicClient) AcquireByIntegratedWindows(ctx context.Context, username string, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.IntegratedWindows{Username: username}, &request.Request{Scopes: scopes})
}

// AcquireByDeviceCode runs the device authorization flow. prompt receives
// the user code to display.
func (c *PublicClient) AcquireByDeviceCode(ctx context.Context, scopes []string, prompt func(context.Context, *oauth.DeviceCodeResult) error) (*request.Result, error) {
	return c.exec.Execute(ctx, request.DeviceCode{Prompt: prompt}, &request.Request{Scopes: scopes})
}

// Accounts lists the cached accounts.
func (c *PublicClient) Accounts(ctx context.Context) ([]*cache.Account, error) {
	return c.exec.Cache().Accounts(ctx)
}

// RemoveAccount deletes every cached credential for the account, covering
// all realms and all environment hosts aliased to the account's cloud
// instance.
func (c *PublicClient) RemoveAccount(ctx context.Context, account *cache.Account) error {
	aliases := c.exec.EnvironmentAliases(ctx, account.Environment)
	return c.exec.Cache().RemoveAccount(ctx, account, aliases)
}

// ConfidentialClient acquires tokens for applications that can hold a
// secret or a signing credential: services, daemons, web backends.
type ConfidentialClient struct {
	exec *request.Executor
}

// NewConfidentialClientWithSecret creates a confidential client
// authenticating with a shared secret.
func NewConfidentialClientWithSecret(clientID, authorityURL, secret string, opts ...Option) (*ConfidentialClient, error) {
	if secret == "" {
		return nil, autherrors.NewMissingInputError("client secret is required")
	}
	exec, err := buildExecutor(clientID, authorityURL, secret, nil, opts)
	if err != nil {
		return nil, err
	}
	return &ConfidentialClient{exec: exec}, nil
}

// NewConfidentialClientWithCredential creates a confidential client
// authenticating with a signed assertion.
func NewConfidentialClientWithCredential(clientID, authorityURL string, credential *crypto.Credential, opts ...Option) (*ConfidentialClient, error) {
	if credential == nil {
		return nil, autherrors.NewMissingInputError("signing credential is required")
	}
	exec, err := buildExecutor(clientID, authorityURL, "", credential, opts)
	if err != nil {
		return nil, err
	}
	return &ConfidentialClient{exec: exec}, nil
}

// AcquireByClientCredentials acquires an app-only token, serving from cache
// when a fresh one exists.
func (c *ConfidentialClient) AcquireByClientCredentials(ctx context.Context, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.ClientCredentials{}, &request.Request{Scopes: scopes})
}

// AcquireOnBehalfOf exchanges an incoming user assertion for a downstream
// token, cached per assertion.
func (c *ConfidentialClient) AcquireOnBehalfOf(ctx context.Context, userAssertion string, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.OnBehalfOf{UserAssertion: userAssertion}, &request.Request{Scopes: scopes})
}

// AcquireByAuthCode redeems an authorization code with client authentication.
func (c *ConfidentialClient) AcquireByAuthCode(ctx context.Context, code, redirectURI string, pkce *crypto.PKCE, scopes []string) (*request.Result, error) {
	return c.exec.Execute(ctx, request.AuthorizationCode{Code: code, RedirectURI: redirectURI, PKCE: pkce}, &request.Request{Scopes: scopes})
}

// AcquireSilent serves a user token from the cache, refreshing when needed.
func (c *ConfidentialClient) AcquireSilent(ctx context.Context, scopes []string, account *cache.Account) (*request.Result, error) {
	return c.exec.AcquireSilent(ctx, &request.Request{Scopes: scopes, Account: account})
}

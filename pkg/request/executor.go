// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package request orchestrates token acquisition: it decides between cache
// and network per request, executes the grant-specific exchange, and writes
// successful responses back through the cache manager.
package request

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/authkit/pkg/authority"
	"github.com/stacklok/authkit/pkg/cache"
	"github.com/stacklok/authkit/pkg/crypto"
	autherrors "github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/logger"
	"github.com/stacklok/authkit/pkg/networking"
	"github.com/stacklok/authkit/pkg/oauth"
	"github.com/stacklok/authkit/pkg/oauth/wstrust"
	"github.com/stacklok/authkit/pkg/util"
)

// defaultMaxRetries bounds transient-error retries per network exchange.
const defaultMaxRetries = 3

// Config assembles an Executor. ClientID and Authority are required; every
// injected capability has a production default.
type Config struct {
	ClientID  string
	Authority *authority.Info

	// ClientSecret or ClientCredential make the executor a confidential
	// client; leave both unset for public clients.
	ClientSecret     string
	ClientCredential *crypto.Credential

	HTTP     networking.HTTPClient
	Resolver *authority.Resolver
	Cache    *cache.Manager
	Clock    util.Clock
	Crypto   crypto.Provider

	// MaxRetries bounds retries of transient network failures; zero means
	// the default.
	MaxRetries int
}

// Executor is the single request-execution engine. One instance serves all
// grant types; per-grant behavior is selected by the Grant value passed to
// Execute rather than by a handler hierarchy.
type Executor struct {
	clientID   string
	authority  *authority.Info
	resolver   *authority.Resolver
	oauth      *oauth.Client
	wstrust    *wstrust.Client
	cache      *cache.Manager
	clock      util.Clock
	crypto     crypto.Provider
	secret     string
	credential *crypto.Credential
	maxRetries int

	// inflight deduplicates concurrent refreshes of the same cache key.
	inflight singleflight.Group
}

// NewExecutor validates the config and builds an executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.ClientID == "" {
		return nil, autherrors.NewMissingInputError("client ID is required")
	}
	if cfg.Authority == nil {
		return nil, autherrors.NewMissingInputError("authority is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		built, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, err
		}
		httpClient = built
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = authority.NewResolver(httpClient, "https://"+cfg.Authority.Host)
	}
	cacheManager := cfg.Cache
	if cacheManager == nil {
		cacheManager = cache.NewManager(cache.WithClock(clock))
	}
	cryptoProvider := cfg.Crypto
	if cryptoProvider == nil {
		cryptoProvider = crypto.DefaultProvider{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Executor{
		clientID:   cfg.ClientID,
		authority:  cfg.Authority,
		resolver:   resolver,
		oauth:      oauth.NewClient(httpClient, clock),
		wstrust:    wstrust.NewClient(httpClient, clock),
		cache:      cacheManager,
		clock:      clock,
		crypto:     cryptoProvider,
		secret:     cfg.ClientSecret,
		credential: cfg.ClientCredential,
		maxRetries: maxRetries,
	}, nil
}

// Cache exposes the cache manager, for account enumeration and hooks.
func (e *Executor) Cache() *cache.Manager { return e.cache }

// Endpoints resolves the executor's authority, for callers that need the
// authorization endpoint to build an interactive URL.
func (e *Executor) Endpoints(ctx context.Context, tenantID string) (*authority.Endpoints, error) {
	info := e.authority
	if tenantID != "" {
		info = info.WithTenant(tenantID)
	}
	return e.resolver.Resolve(ctx, info)
}

// EnvironmentAliases returns every host aliased to the same cloud instance as
// the given environment, so cache operations can cover the whole group.
func (e *Executor) EnvironmentAliases(ctx context.Context, environment string) []string {
	return e.resolver.Aliases(ctx, environment)
}

// Request carries the per-call parameters shared by every grant.
type Request struct {
	Scopes []string

	// Account scopes silent lookups to one cached identity.
	Account *cache.Account

	// TenantID overrides the authority's tenant for this call.
	TenantID string

	// Claims is a claims-challenge payload; its presence forces a network
	// token, since cached tokens cannot satisfy new claims.
	Claims string

	// PoP requests a proof-of-possession token bound to the given key
	// instead of a bearer token. PoP tokens are cached under their own
	// scheme and never satisfy bearer requests.
	PoP *crypto.PoPKey

	// ForceRefresh bypasses the access-token cache.
	ForceRefresh bool
}

// Result is a successful acquisition.
type Result struct {
	AccessToken   string
	TokenType     string
	ExpiresOn     time.Time
	GrantedScopes []string
	IDToken       string
	Account       *cache.Account

	// FromCache is true when no network call produced the token.
	FromCache bool

	// Reason records why the cache did or did not serve the request.
	Reason cache.Reason
}

// requestContext is the resolved environment for one call.
type requestContext struct {
	info      *authority.Info
	endpoints *authority.Endpoints
	envs      []string
}

func (e *Executor) resolveContext(ctx context.Context, req *Request) (*requestContext, error) {
	info := e.authority
	switch {
	case req.TenantID != "":
		info = info.WithTenant(req.TenantID)
	case req.Account != nil && req.Account.Realm != "":
		info = info.WithTenant(req.Account.Realm)
	}

	endpoints, err := e.resolver.Resolve(ctx, info)
	if err != nil {
		return nil, err
	}

	envs := []string{endpoints.PreferredCacheHost}
	for _, alias := range e.resolver.Aliases(ctx, info.Host) {
		if !strings.EqualFold(alias, endpoints.PreferredCacheHost) {
			envs = append(envs, alias)
		}
	}
	return &requestContext{info: info, endpoints: endpoints, envs: envs}, nil
}

func (e *Executor) criteriaFor(rc *requestContext, req *Request) *cache.Criteria {
	criteria := &cache.Criteria{
		Environments:  rc.envs,
		Realm:         rc.info.Tenant,
		ClientID:      e.clientID,
		Scopes:        util.NewScopeSet(req.Scopes),
		AuthorityType: rc.info.Type,
		AuthorityURL:  rc.info.URL(),
		ForceRefresh:  req.ForceRefresh || req.Claims != "",
	}
	if req.PoP != nil {
		criteria.TokenType = oauth.TokenTypePoP
	}
	if req.Account != nil {
		criteria.HomeAccountID = req.Account.HomeAccountID
		criteria.Username = req.Account.Username
	}
	return criteria
}

// withCorrelationID pins one correlation ID for the whole logical request so
// every wire call it spawns is traceable together.
func withCorrelationID(ctx context.Context) context.Context {
	return oauth.WithCorrelationID(ctx, uuid.New())
}

// Execute runs one acquisition for the given grant. Grants with a cacheable
// identity (client credentials, on-behalf-of) consult the cache first unless
// the request forces a refresh.
func (e *Executor) Execute(ctx context.Context, grant Grant, req *Request) (*Result, error) {
	if req == nil {
		req = &Request{}
	}
	ctx = withCorrelationID(ctx)

	rc, err := e.resolveContext(ctx, req)
	if err != nil {
		return nil, err
	}

	switch g := grant.(type) {
	case AuthorizationCode:
		return e.executeAuthorizationCode(ctx, rc, req, g)
	case RefreshToken:
		return e.executeForm(ctx, rc, req, e.refreshForm(g.RefreshToken, req), cache.ReasonNotApplicable)
	case ClientCredentials:
		return e.executeClientCredentials(ctx, rc, req)
	case OnBehalfOf:
		return e.executeOnBehalfOf(ctx, rc, req, g)
	case UsernamePassword:
		return e.executeUserCredentials(ctx, rc, req, g.Username, g.Password, wstrust.EndpointUsernamePassword)
	case IntegratedWindows:
		return e.executeUserCredentials(ctx, rc, req, g.Username, "", wstrust.EndpointWindowsTransport)
	case DeviceCode:
		return e.executeDeviceCode(ctx, rc, req, g)
	default:
		return nil, autherrors.NewUnsupportedError(fmt.Sprintf("unsupported grant type %T", grant))
	}
}

func (e *Executor) executeAuthorizationCode(ctx context.Context, rc *requestContext, req *Request, g AuthorizationCode) (*Result, error) {
	if g.Code == "" {
		return nil, autherrors.NewMissingInputError("authorization code is required")
	}
	form := e.baseForm(req)
	form.Set("grant_type", oauth.GrantAuthorizationCode)
	form.Set("code", g.Code)
	form.Set("redirect_uri", g.RedirectURI)
	if g.PKCE != nil {
		form.Set("code_verifier", g.PKCE.Verifier)
	}
	return e.executeForm(ctx, rc, req, form, cache.ReasonNotApplicable)
}

func (e *Executor) executeClientCredentials(ctx context.Context, rc *requestContext, req *Request) (*Result, error) {
	if e.secret == "" && e.credential == nil {
		return nil, autherrors.NewMissingInputError("client credentials flow requires a client secret or signing credential")
	}

	criteria := e.criteriaFor(rc, req)
	if res, err := e.fromCache(ctx, criteria, req); res != nil || err != nil {
		return res, err
	}

	form := e.baseForm(req)
	form.Set("grant_type", oauth.GrantClientCredentials)
	return e.executeFormWithCriteria(ctx, rc, req, form, criteria, cache.ReasonNoCachedAccessToken)
}

func (e *Executor) executeOnBehalfOf(ctx context.Context, rc *requestContext, req *Request, g OnBehalfOf) (*Result, error) {
	if g.UserAssertion == "" {
		return nil, autherrors.NewMissingInputError("on-behalf-of flow requires a user assertion")
	}

	criteria := e.criteriaFor(rc, req)
	criteria.UserAssertionHash = crypto.HashAssertion(e.crypto, g.UserAssertion)
	if res, err := e.fromCache(ctx, criteria, req); res != nil || err != nil {
		return res, err
	}

	form := e.baseForm(req)
	form.Set("grant_type", oauth.GrantJWTBearer)
	form.Set("assertion", g.UserAssertion)
	form.Set("requested_token_use", "on_behalf_of")
	return e.executeFormWithCriteria(ctx, rc, req, form, criteria, cache.ReasonNoCachedAccessToken)
}

// fromCache serves the request from the cache when a fresh token exists.
// A nil, nil return means the caller must go to the network.
func (e *Executor) fromCache(ctx context.Context, criteria *cache.Criteria, req *Request) (*Result, error) {
	item, reason, err := e.cache.FindAccessToken(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if item != nil && reason == cache.ReasonNotApplicable {
		return e.resultFromCacheItem(ctx, item, req, reason), nil
	}
	return nil, nil
}

// executeForm runs a network exchange using the request's default criteria.
func (e *Executor) executeForm(ctx context.Context, rc *requestContext, req *Request, form url.Values, reason cache.Reason) (*Result, error) {
	return e.executeFormWithCriteria(ctx, rc, req, form, e.criteriaFor(rc, req), reason)
}

func (e *Executor) executeFormWithCriteria(ctx context.Context, rc *requestContext, req *Request, form url.Values, criteria *cache.Criteria, reason cache.Reason) (*Result, error) {
	if err := e.applyClientAuth(form, rc.endpoints.TokenEndpoint); err != nil {
		return nil, err
	}
	resp, err := e.exchange(ctx, rc.endpoints.TokenEndpoint, form, req.Scopes)
	if err != nil {
		return nil, err
	}
	saved, err := e.cache.SaveResponse(ctx, resp, criteria)
	if err != nil {
		return nil, err
	}
	return resultFromResponse(resp, saved, reason), nil
}

// exchange posts the form with bounded retry on transient failures. Service
// errors and local errors are terminal and surface immediately.
func (e *Executor) exchange(ctx context.Context, endpoint string, form url.Values, requestedScopes []string) (*oauth.TokenResponse, error) {
	operation := func() (*oauth.TokenResponse, error) {
		resp, err := e.oauth.Token(ctx, endpoint, form, requestedScopes)
		if err != nil && !autherrors.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(e.maxRetries)),
	)
}

// baseForm builds the form fields shared by every token-endpoint grant.
func (e *Executor) baseForm(req *Request) url.Values {
	form := url.Values{}
	form.Set("client_id", e.clientID)
	form.Set("client_info", "1")
	if len(req.Scopes) > 0 {
		form.Set("scope", strings.Join(req.Scopes, " "))
	}
	if req.Claims != "" {
		form.Set("claims", req.Claims)
	}
	if req.PoP != nil {
		form.Set("token_type", oauth.TokenTypePoP)
		form.Set("req_cnf", req.PoP.ReqCnf())
	}
	return form
}

// userForm extends the base form with the reserved OIDC scopes user flows
// need for an ID token and a refresh token.
func (e *Executor) userForm(req *Request) url.Values {
	form := e.baseForm(req)
	scopes := append([]string{}, req.Scopes...)
	for _, reserved := range []string{"openid", "profile", "offline_access"} {
		if !util.NewScopeSet(scopes).Contains(reserved) {
			scopes = append(scopes, reserved)
		}
	}
	form.Set("scope", strings.Join(scopes, " "))
	return form
}

func (e *Executor) refreshForm(refreshToken string, req *Request) url.Values {
	form := e.userForm(req)
	form.Set("grant_type", oauth.GrantRefreshToken)
	form.Set("refresh_token", refreshToken)
	return form
}

// applyClientAuth attaches the confidential-client credential: a shared
// secret, or a signed assertion bound to the token endpoint.
func (e *Executor) applyClientAuth(form url.Values, tokenEndpoint string) error {
	switch {
	case e.credential != nil:
		assertion, err := e.credential.SignAssertion(e.clientID, tokenEndpoint, e.clock.Now())
		if err != nil {
			return err
		}
		form.Set("client_assertion_type", oauth.ClientAssertionTypeJWT)
		form.Set("client_assertion", assertion)
	case e.secret != "":
		form.Set("client_secret", e.secret)
	}
	return nil
}

// AcquireSilent serves a request from the cache, refreshing over the network
// when the cached access token is absent, expired, or due for proactive
// refresh. It never degrades a failed refresh into a silent success: a
// provider rejection surfaces as a UI-required error.
func (e *Executor) AcquireSilent(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		req = &Request{}
	}
	ctx = withCorrelationID(ctx)

	rc, err := e.resolveContext(ctx, req)
	if err != nil {
		return nil, err
	}
	criteria := e.criteriaFor(rc, req)

	item, reason, err := e.cache.FindAccessToken(ctx, criteria)
	if err != nil {
		return nil, err
	}

	switch reason {
	case cache.ReasonNotApplicable:
		if item != nil {
			return e.resultFromCacheItem(ctx, item, req, reason), nil
		}
		return nil, autherrors.NewNoCachedCredentialError("no cached access token matches the request")
	case cache.ReasonProactivelyRefreshed:
		res, refreshErr := e.refreshViaCache(ctx, rc, req, criteria, reason)
		if refreshErr != nil {
			// The cached token is still valid; a failed proactive refresh
			// falls back to it rather than failing the request.
			logger.Debugf("Proactive refresh failed, serving cached token: %v", refreshErr)
			return e.resultFromCacheItem(ctx, item, req, reason), nil
		}
		return res, nil
	default:
		return e.refreshViaCache(ctx, rc, req, criteria, reason)
	}
}

// refreshViaCache redeems the best cached refresh token for the request,
// deduplicating concurrent refreshes of the same key.
func (e *Executor) refreshViaCache(ctx context.Context, rc *requestContext, req *Request, criteria *cache.Criteria, reason cache.Reason) (*Result, error) {
	rt, found, err := e.cache.FindRefreshToken(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, autherrors.NewNoCachedCredentialError("no cached access or refresh token matches the request")
	}

	dedupKey := strings.ToLower(strings.Join([]string{
		criteria.HomeAccountID, rc.envs[0], criteria.ClientID, criteria.Realm, criteria.Scopes.Join(),
	}, "|"))

	res, err, _ := e.inflight.Do(dedupKey, func() (any, error) {
		form := e.refreshForm(rt.Secret, req)
		result, err := e.executeFormWithCriteria(ctx, rc, req, form, criteria, reason)
		if err != nil {
			return nil, wrapUIRequired(err)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

// wrapUIRequired converts provider rejections that demand re-authentication
// into the UI-required error type; everything else passes through.
func wrapUIRequired(err error) error {
	var svc *autherrors.ServiceError
	if stderrors.As(err, &svc) && autherrors.IsUIRequiredCode(svc.Code) {
		return autherrors.NewUIRequiredError(svc)
	}
	return err
}

func (e *Executor) resultFromCacheItem(ctx context.Context, item *cache.AccessToken, req *Request, reason cache.Reason) *Result {
	account := req.Account
	if account == nil && item.HomeAccountID != "" {
		// Best-effort account attachment for callers that matched by scopes
		// alone.
		if accounts, err := e.cache.Accounts(ctx); err == nil {
			for _, a := range accounts {
				if strings.EqualFold(a.HomeAccountID, item.HomeAccountID) {
					account = a
					break
				}
			}
		}
	}
	return &Result{
		AccessToken:   item.Secret,
		TokenType:     item.TokenType,
		ExpiresOn:     item.ExpiresOnTime(),
		GrantedScopes: item.Scopes().Slice(),
		Account:       account,
		FromCache:     true,
		Reason:        reason,
	}
}

func resultFromResponse(resp *oauth.TokenResponse, saved *cache.SaveResult, reason cache.Reason) *Result {
	res := &Result{
		AccessToken:   resp.AccessToken,
		TokenType:     resp.TokenType,
		ExpiresOn:     resp.ExpiresOn,
		GrantedScopes: resp.GrantedScopes.Slice(),
		IDToken:       resp.IDToken,
		Reason:        reason,
	}
	if saved != nil {
		res.Account = saved.Account
	}
	return res
}

// samlAssertionForm builds the SAML bearer grant form from a WS-Trust
// exchange result. The assertion travels base64-encoded.
func (e *Executor) samlAssertionForm(req *Request, token *wstrust.SamlTokenInfo) url.Values {
	form := e.userForm(req)
	form.Set("grant_type", token.AssertionType)
	form.Set("assertion", base64.StdEncoding.EncodeToString([]byte(token.Assertion)))
	return form
}

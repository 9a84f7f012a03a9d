// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"

	"github.com/stacklok/authkit/pkg/crypto"
	"github.com/stacklok/authkit/pkg/oauth"
)

// Grant is the closed set of grant-type parameters an Execute call accepts.
// Each variant carries only the inputs specific to its exchange; everything
// shared (client identity, authority, scopes) lives on the executor and the
// per-call Request.
type Grant interface {
	grantName() string
}

// AuthorizationCode exchanges an authorization code, optionally with the
// PKCE verifier that protected the authorization request.
type AuthorizationCode struct {
	Code        string
	RedirectURI string
	PKCE        *crypto.PKCE
}

func (AuthorizationCode) grantName() string { return oauth.GrantAuthorizationCode }

// RefreshToken redeems a refresh token. Mostly used internally by the silent
// path, but callers migrating token material may supply one directly.
type RefreshToken struct {
	RefreshToken string
}

func (RefreshToken) grantName() string { return oauth.GrantRefreshToken }

// ClientCredentials acquires an app-only token using the executor's client
// secret or signing credential.
type ClientCredentials struct{}

func (ClientCredentials) grantName() string { return oauth.GrantClientCredentials }

// OnBehalfOf exchanges an incoming user assertion for a downstream token.
type OnBehalfOf struct {
	UserAssertion string
}

func (OnBehalfOf) grantName() string { return oauth.GrantJWTBearer }

// UsernamePassword acquires a token from a username and password, bridging
// through WS-Trust when realm discovery classifies the account as federated.
type UsernamePassword struct {
	Username string
	Password string
}

func (UsernamePassword) grantName() string { return oauth.GrantPassword }

// IntegratedWindows acquires a token for the given user via the federation
// provider's windows-transport binding; the transport carries the credential.
type IntegratedWindows struct {
	Username string
}

func (IntegratedWindows) grantName() string { return "integrated_windows" }

// DeviceCode runs the device authorization flow. Prompt is invoked once with
// the user code and verification URI; the flow then polls until the user
// completes, declines, or the code expires.
type DeviceCode struct {
	Prompt func(ctx context.Context, result *oauth.DeviceCodeResult) error
}

func (DeviceCode) grantName() string { return oauth.GrantDeviceCode }

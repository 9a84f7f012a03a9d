// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Grant type values sent in the grant_type form field.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantSAML1Bearer       = "urn:ietf:params:oauth:grant-type:saml1_1-bearer"
	GrantSAML2Bearer       = "urn:ietf:params:oauth:grant-type:saml2-bearer"
)

// Client assertion type for private_key_jwt authentication.
const ClientAssertionTypeJWT = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Token types.
const (
	TokenTypeBearer = "Bearer"
	TokenTypePoP    = "pop"
)

// OAuth error codes returned by the device authorization endpoint while the
// user has not yet completed (or has declined) the flow.
const (
	ErrAuthorizationPending  = "authorization_pending"
	ErrAuthorizationDeclined = "authorization_declined"
	ErrAccessDenied          = "access_denied"
	ErrSlowDown              = "slow_down"
	ErrExpiredToken          = "expired_token"
)

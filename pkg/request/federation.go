// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"

	"github.com/stacklok/authkit/pkg/cache"
	autherrors "github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/logger"
	"github.com/stacklok/authkit/pkg/oauth"
	"github.com/stacklok/authkit/pkg/oauth/wstrust"
)

// executeUserCredentials handles the non-interactive user flows: classify
// the account's realm, then either issue a direct password grant (managed)
// or bridge the credential through WS-Trust into a SAML assertion grant
// (federated). An unclassifiable realm is terminal.
func (e *Executor) executeUserCredentials(ctx context.Context, rc *requestContext, req *Request, username, password string, binding wstrust.EndpointType) (*Result, error) {
	if username == "" {
		return nil, autherrors.NewMissingInputError("username is required")
	}

	realm, err := e.oauth.UserRealm(ctx, rc.info.Host, username)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Realm for user %s classified as %s", logger.PII(username), realm.Classify())

	switch realm.Classify() {
	case oauth.AccountManaged:
		if binding == wstrust.EndpointWindowsTransport {
			return nil, autherrors.NewUnsupportedError("integrated authentication requires a federated account")
		}
		if password == "" {
			return nil, autherrors.NewMissingInputError("password is required for a managed account")
		}
		form := e.userForm(req)
		form.Set("grant_type", oauth.GrantPassword)
		form.Set("username", username)
		form.Set("password", password)
		result, err := e.executeForm(ctx, rc, req, form, cache.ReasonNotApplicable)
		return result, wrapUIRequired(err)

	case oauth.AccountFederated:
		token, err := e.federatedAssertion(ctx, realm, username, password, binding)
		if err != nil {
			return nil, err
		}
		return e.executeForm(ctx, rc, req, e.samlAssertionForm(req, token), cache.ReasonNotApplicable)

	default:
		return nil, autherrors.NewUnsupportedError("user realm could not be classified as managed or federated")
	}
}

// federatedAssertion walks the federation chain: MEX discovery, endpoint
// selection for the credential binding, then the WS-Trust exchange.
func (e *Executor) federatedAssertion(ctx context.Context, realm *oauth.UserRealm, username, password string, binding wstrust.EndpointType) (*wstrust.SamlTokenInfo, error) {
	if realm.FederationMetadataURL == "" {
		return nil, autherrors.NewUnsupportedError("federated realm discovery returned no metadata URL")
	}

	mex, err := e.wstrust.Mex(ctx, realm.FederationMetadataURL)
	if err != nil {
		return nil, err
	}

	endpoint, err := mex.EndpointFor(binding)
	if err != nil {
		return nil, autherrors.NewUnsupportedError("federation provider offers no endpoint for the credential binding")
	}
	logger.Debugf("Using WS-Trust endpoint %s (version %d)", endpoint.URL, endpoint.Version)

	return e.wstrust.RequestToken(ctx, endpoint, realm.CloudAudienceURN, wstrust.Credentials{
		Username: username,
		Password: password,
	})
}

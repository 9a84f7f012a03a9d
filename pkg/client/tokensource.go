// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/stacklok/authkit/pkg/cache"
	"github.com/stacklok/authkit/pkg/request"
)

// tokenSource adapts an acquisition function to oauth2.TokenSource so the
// clients plug into anything built on golang.org/x/oauth2.
type tokenSource struct {
	ctx     context.Context
	acquire func(ctx context.Context) (*request.Result, error)
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	res, err := s.acquire(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Expiry:      res.ExpiresOn,
	}, nil
}

// TokenSource returns an oauth2.TokenSource over app-only tokens. The cache
// already reuses fresh tokens, so every Token call is safe and cheap.
func (c *ConfidentialClient) TokenSource(ctx context.Context, scopes []string) oauth2.TokenSource {
	return &tokenSource{
		ctx: ctx,
		acquire: func(ctx context.Context) (*request.Result, error) {
			return c.AcquireByClientCredentials(ctx, scopes)
		},
	}
}

// TokenSource returns an oauth2.TokenSource over silent user acquisition
// for the given account.
func (c *PublicClient) TokenSource(ctx context.Context, scopes []string, account *cache.Account) oauth2.TokenSource {
	return &tokenSource{
		ctx: ctx,
		acquire: func(ctx context.Context) (*request.Result, error) {
			return c.AcquireSilent(ctx, scopes, account)
		},
	}
}

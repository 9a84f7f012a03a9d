// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package wstrust

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stacklok/authkit/pkg/networking"
	"github.com/stacklok/authkit/pkg/util"
)

// maxDocumentSize bounds MEX and RSTR payloads read into memory.
const maxDocumentSize = 4 * 1024 * 1024

// Client performs MEX discovery and WS-Trust token exchanges.
type Client struct {
	http  networking.HTTPClient
	clock util.Clock
}

// NewClient creates a WS-Trust client over the injected HTTP capability.
func NewClient(httpClient networking.HTTPClient, clock util.Clock) *Client {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Client{http: httpClient, clock: clock}
}

// Mex fetches and parses the federation metadata document.
func (c *Client) Mex(ctx context.Context, federationMetadataURL string) (*MexDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, federationMetadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create MEX request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("MEX fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MEX fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read MEX document: %w", err)
	}
	return ParseMex(body)
}

// Credentials carries the material for the WS-Trust exchange. Password is
// empty for the windows-transport binding.
type Credentials struct {
	Username string
	Password string
}

// RequestToken performs the WS-Trust exchange against the endpoint and
// extracts the SAML assertion.
func (c *Client) RequestToken(ctx context.Context, endpoint *Endpoint, cloudAudienceURN string, creds Credentials) (*SamlTokenInfo, error) {
	var envelope string
	var err error
	switch endpoint.Type {
	case EndpointUsernamePassword:
		envelope, err = BuildUsernamePasswordRST(endpoint, cloudAudienceURN, creds.Username, creds.Password, c.clock.Now())
	case EndpointWindowsTransport:
		envelope, err = BuildWindowsTransportRST(endpoint, cloudAudienceURN)
	default:
		err = fmt.Errorf("unsupported endpoint binding")
	}
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create WS-Trust request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	action := ActionIssue13
	if endpoint.Version == Trust2005 {
		action = ActionIssue2005
	}
	req.Header.Set("SOAPAction", action)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("WS-Trust exchange failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read WS-Trust response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("WS-Trust exchange returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	return ParseResponse(body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

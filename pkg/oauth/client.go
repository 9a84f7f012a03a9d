// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	autherrors "github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/networking"
	"github.com/stacklok/authkit/pkg/util"
)

// correlationIDKey is the context key carrying the request correlation ID.
type correlationIDKey struct{}

// WithCorrelationID attaches a correlation ID to the context; it is sent in
// the client-request-id header on every wire call.
func WithCorrelationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id.String())
}

func correlationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return uuid.NewString()
}

// Client executes token-endpoint and realm-discovery calls over the injected
// HTTP capability.
type Client struct {
	http  networking.HTTPClient
	clock util.Clock
}

// NewClient creates a wire client. A nil clock defaults to wall time.
func NewClient(httpClient networking.HTTPClient, clock util.Clock) *Client {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Client{http: httpClient, clock: clock}
}

// Token posts a form-encoded grant to the token endpoint and parses the
// response. requestedScopes backfill the granted-scope set when the provider
// omits the scope field.
func (c *Client) Token(ctx context.Context, endpoint string, form url.Values, requestedScopes []string) (*TokenResponse, error) {
	result, err := networking.FetchJSONWithForm[TokenResponse](ctx, c.http, endpoint, form,
		networking.WithHeader("client-request-id", correlationIDFrom(ctx)),
		networking.WithHeader("return-client-request-id", "true"),
		networking.WithErrorHandler(classifyErrorResponse),
	)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	resp := result.Data
	if err := resp.resolve(c.clock.Now(), requestedScopes); err != nil {
		return nil, autherrors.NewJSONParseError("invalid token response", err)
	}
	return &resp, nil
}

// DeviceCodeResult is the device authorization endpoint response plus the
// absolute expiry resolved at parse time.
type DeviceCodeResult struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
	Message         string `json:"message"`

	ExpiresOn time.Time `json:"-"`
}

// DeviceCode starts a device authorization flow.
func (c *Client) DeviceCode(ctx context.Context, endpoint string, form url.Values) (*DeviceCodeResult, error) {
	result, err := networking.FetchJSONWithForm[DeviceCodeResult](ctx, c.http, endpoint, form,
		networking.WithHeader("client-request-id", correlationIDFrom(ctx)),
		networking.WithErrorHandler(classifyErrorResponse),
	)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	dc := result.Data
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, autherrors.NewJSONParseError("device authorization response missing codes", nil)
	}
	if dc.Interval <= 0 {
		// RFC 8628 default when the server does not specify one.
		dc.Interval = 5
	}
	dc.ExpiresOn = c.clock.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	return &dc, nil
}

// Account classifications from user-realm discovery.
const (
	AccountManaged   = "Managed"
	AccountFederated = "Federated"
	AccountUnknown   = "Unknown"
)

// UserRealm describes how a user's domain authenticates, discovered from the
// common userrealm endpoint.
type UserRealm struct {
	AccountType           string `json:"account_type"`
	DomainName            string `json:"domain_name"`
	FederationProtocol    string `json:"federation_protocol"`
	FederationMetadataURL string `json:"federation_metadata_url"`
	CloudAudienceURN      string `json:"cloud_audience_urn"`
}

// Classify buckets the realm into Managed, Federated, or Unknown.
func (r *UserRealm) Classify() string {
	switch r.AccountType {
	case AccountManaged, AccountFederated:
		return r.AccountType
	default:
		return AccountUnknown
	}
}

// UserRealm queries realm discovery for the given username against the
// authority host.
func (c *Client) UserRealm(ctx context.Context, host, username string) (*UserRealm, error) {
	endpoint := fmt.Sprintf("https://%s/common/userrealm/%s?api-version=1.0", host, url.PathEscape(username))
	result, err := networking.FetchJSON[UserRealm](ctx, c.http, endpoint,
		networking.WithHeader("client-request-id", correlationIDFrom(ctx)),
	)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	realm := result.Data
	return &realm, nil
}

// classifyErrorResponse turns a non-200 token-endpoint body into a typed
// error. gjson tolerates bodies that are not the exact shape we expect, so a
// provider quirk never hides the underlying error code.
func classifyErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return autherrors.NewTransientError(resp.StatusCode, fmt.Errorf("server error: %s", resp.Status))
	}

	svc := &autherrors.ServiceError{
		StatusCode:    resp.StatusCode,
		Raw:           body,
		CorrelationID: resp.Header.Get("client-request-id"),
	}
	if gjson.ValidBytes(body) {
		svc.Code = gjson.GetBytes(body, "error").String()
		svc.Description = gjson.GetBytes(body, "error_description").String()
		svc.Subcode = gjson.GetBytes(body, "error_subcode").String()
		svc.Claims = gjson.GetBytes(body, "claims").String()
	}
	return svc
}

// classifyTransportError maps connection-level failures to the transient
// bucket while preserving cancellation and already-typed errors.
func classifyTransportError(ctx context.Context, err error) error {
	var svc *autherrors.ServiceError
	var transient *autherrors.TransientError
	if errors.As(err, &svc) || errors.As(err, &transient) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			return autherrors.NewTransientError(httpErr.StatusCode, err)
		}
		return &autherrors.ServiceError{StatusCode: httpErr.StatusCode, Raw: []byte(httpErr.Body)}
	}
	// Timeouts and connection resets land here.
	return autherrors.NewTransientError(0, err)
}

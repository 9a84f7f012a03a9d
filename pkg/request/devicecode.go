// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/stacklok/authkit/pkg/cache"
	autherrors "github.com/stacklok/authkit/pkg/errors"
	"github.com/stacklok/authkit/pkg/logger"
	"github.com/stacklok/authkit/pkg/oauth"
)

// DeviceFlowState tracks where a device-code flow is.
type DeviceFlowState int

// Device-code flow states.
const (
	DeviceStateRequested DeviceFlowState = iota
	DeviceStatePolling
	DeviceStateAuthorized
	DeviceStateExpired
	DeviceStateDenied
)

// String implements fmt.Stringer for diagnostics.
func (s DeviceFlowState) String() string {
	switch s {
	case DeviceStateRequested:
		return "requested"
	case DeviceStatePolling:
		return "polling"
	case DeviceStateAuthorized:
		return "authorized"
	case DeviceStateExpired:
		return "expired"
	case DeviceStateDenied:
		return "denied"
	}
	return "unknown"
}

// slowDownPenalty is added to the polling interval when the provider asks
// the client to back off.
const slowDownPenalty = 5 * time.Second

// executeDeviceCode runs the device authorization flow: request a code,
// surface it to the user, then poll the token endpoint at the
// server-specified interval until the user completes, declines, or the code
// expires. The server's interval is a minimum spacing, never shortened.
func (e *Executor) executeDeviceCode(ctx context.Context, rc *requestContext, req *Request, g DeviceCode) (*Result, error) {
	form := e.userForm(req)
	dc, err := e.oauth.DeviceCode(ctx, rc.endpoints.DeviceCodeEndpoint, form)
	if err != nil {
		return nil, err
	}

	state := DeviceStateRequested
	transition := func(next DeviceFlowState) {
		logger.Debugf("Device flow state %s -> %s", state, next)
		state = next
	}

	if g.Prompt != nil {
		if err := g.Prompt(ctx, dc); err != nil {
			return nil, err
		}
	}

	pollForm := e.userForm(req)
	pollForm.Set("grant_type", oauth.GrantDeviceCode)
	pollForm.Set("device_code", dc.DeviceCode)
	if err := e.applyClientAuth(pollForm, rc.endpoints.TokenEndpoint); err != nil {
		return nil, err
	}

	interval := time.Duration(dc.Interval) * time.Second
	transition(DeviceStatePolling)

	for {
		if !e.clock.Now().Add(interval).Before(dc.ExpiresOn) {
			transition(DeviceStateExpired)
			return nil, autherrors.NewDeviceFlowError("device code expired before the user completed sign-in", nil)
		}
		if err := e.clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}

		resp, err := e.oauth.Token(ctx, rc.endpoints.TokenEndpoint, pollForm, req.Scopes)
		if err == nil {
			transition(DeviceStateAuthorized)
			saved, saveErr := e.cache.SaveResponse(ctx, resp, e.criteriaFor(rc, req))
			if saveErr != nil {
				return nil, saveErr
			}
			return resultFromResponse(resp, saved, cache.ReasonNotApplicable), nil
		}

		var svc *autherrors.ServiceError
		switch {
		case stderrors.As(err, &svc):
			switch svc.Code {
			case oauth.ErrAuthorizationPending:
				continue
			case oauth.ErrSlowDown:
				interval += slowDownPenalty
				continue
			case oauth.ErrAuthorizationDeclined, oauth.ErrAccessDenied:
				transition(DeviceStateDenied)
				return nil, autherrors.NewDeviceFlowError("the user declined the device sign-in", svc)
			case oauth.ErrExpiredToken:
				transition(DeviceStateExpired)
				return nil, autherrors.NewDeviceFlowError("device code expired before the user completed sign-in", svc)
			default:
				return nil, svc
			}
		case autherrors.IsTransient(err):
			// Keep polling through blips; the expiry check bounds the loop.
			logger.Debugf("Transient error while polling device flow, continuing: %v", err)
			continue
		default:
			return nil, err
		}
	}
}

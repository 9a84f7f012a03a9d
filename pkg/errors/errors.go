// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy for authkit.
//
// Four kinds of failures flow out of the library: local client errors,
// provider-returned service errors, the UI-required specialization of a
// service error, and transient network failures that are eligible for retry.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrMissingInput is returned when a required input is absent,
	// e.g. a password for a managed account
	ErrMissingInput = "missing_input"

	// ErrJSONParse is returned when a payload cannot be decoded
	ErrJSONParse = "json_parse"

	// ErrStateMismatch is returned when an authorization response carries
	// a state value that does not match the request
	ErrStateMismatch = "state_mismatch"

	// ErrUnsupported is returned for an unsupported combination of options
	ErrUnsupported = "unsupported"

	// ErrNoCachedCredential is returned when a silent request finds neither
	// an access token nor a refresh token in the cache
	ErrNoCachedCredential = "no_cached_credential"

	// ErrDeviceFlow is returned when a device-code flow ends without a
	// token: the code expired or the user declined
	ErrDeviceFlow = "device_flow"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents a local, non-network failure. It is never retried
// automatically and surfaces immediately to the caller.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewMissingInputError creates a new missing input error
func NewMissingInputError(message string) *Error {
	return NewError(ErrMissingInput, message, nil)
}

// NewJSONParseError creates a new JSON parse error
func NewJSONParseError(message string, cause error) *Error {
	return NewError(ErrJSONParse, message, cause)
}

// NewStateMismatchError creates a new state mismatch error
func NewStateMismatchError(message string) *Error {
	return NewError(ErrStateMismatch, message, nil)
}

// NewUnsupportedError creates a new unsupported option error
func NewUnsupportedError(message string) *Error {
	return NewError(ErrUnsupported, message, nil)
}

// NewNoCachedCredentialError creates a new no cached credential error
func NewNoCachedCredentialError(message string) *Error {
	return NewError(ErrNoCachedCredential, message, nil)
}

// NewDeviceFlowError creates a new device flow error
func NewDeviceFlowError(message string, cause error) *Error {
	return NewError(ErrDeviceFlow, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrInvalidArgument
}

// IsNoCachedCredential checks if the error signals an empty cache for the request
func IsNoCachedCredential(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrNoCachedCredential
}

// OAuth error codes that signal the user must re-authenticate interactively.
var uiRequiredCodes = map[string]struct{}{
	"invalid_grant":        {},
	"interaction_required": {},
	"consent_required":     {},
	"login_required":       {},
	"password_expired":     {},
}

// ServiceError represents an HTTP error response from the identity provider.
// The raw body is preserved so callers can inspect fields the library does
// not model.
type ServiceError struct {
	// Code is the OAuth error code, e.g. "invalid_grant"
	Code string

	// Description is the provider's error_description
	Description string

	// Subcode is the provider's error_subcode, when present
	Subcode string

	// StatusCode is the HTTP status of the response
	StatusCode int

	// Claims carries a claims-challenge payload when the provider returned one
	Claims string

	// CorrelationID identifies the request for provider-side diagnostics
	CorrelationID string

	// Raw is the unmodified response body
	Raw []byte
}

// Error returns the error message
func (e *ServiceError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("service error %q (HTTP %d): %s", e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("service error %q (HTTP %d)", e.Code, e.StatusCode)
}

// IsUIRequiredCode reports whether the OAuth error code means silent
// acquisition cannot proceed and interactive auth is needed.
func IsUIRequiredCode(code string) bool {
	_, ok := uiRequiredCodes[code]
	return ok
}

// UIRequiredError signals that silent acquisition failed and the caller must
// fall back to interactive or assertion-based authentication. It is the
// expected, non-fatal outcome of a cache miss plus a failed refresh.
type UIRequiredError struct {
	*ServiceError
}

// Error returns the error message
func (e *UIRequiredError) Error() string {
	return fmt.Sprintf("interaction required: %s", e.ServiceError.Error())
}

// Unwrap returns the underlying service error
func (e *UIRequiredError) Unwrap() error {
	return e.ServiceError
}

// NewUIRequiredError wraps a service error whose code demands re-authentication.
func NewUIRequiredError(svc *ServiceError) *UIRequiredError {
	return &UIRequiredError{ServiceError: svc}
}

// IsUIRequired checks whether the error (anywhere in its chain) signals that
// interactive re-authentication is required.
func IsUIRequired(err error) bool {
	var ui *UIRequiredError
	if errors.As(err, &ui) {
		return true
	}
	var svc *ServiceError
	return errors.As(err, &svc) && IsUIRequiredCode(svc.Code)
}

// TransientError represents a timeout, connection failure, or 5xx response.
// It is eligible for bounded retry with backoff at the request layer.
type TransientError struct {
	// StatusCode is the HTTP status, or zero for connection-level failures
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient network error (HTTP %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transient network error: %v", e.Cause)
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new transient network error
func NewTransientError(statusCode int, cause error) *TransientError {
	return &TransientError{StatusCode: statusCode, Cause: cause}
}

// IsTransient checks whether the error is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("boom")
	err := NewInvalidArgumentError("scopes must not be empty", base)
	assert.Contains(t, err.Error(), "invalid_argument")
	assert.Contains(t, err.Error(), "scopes must not be empty")
	assert.ErrorIs(t, err, base)
	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsNoCachedCredential(err))
}

func TestUIRequiredClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     string
		expected bool
	}{
		{"invalid_grant", true},
		{"interaction_required", true},
		{"consent_required", true},
		{"login_required", true},
		{"password_expired", true},
		{"invalid_client", false},
		{"server_error", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsUIRequiredCode(tt.code))
		})
	}
}

func TestIsUIRequiredUnwrapsChain(t *testing.T) {
	t.Parallel()

	svc := &ServiceError{Code: "interaction_required", StatusCode: 400}
	wrapped := fmt.Errorf("silent acquisition failed: %w", NewUIRequiredError(svc))
	assert.True(t, IsUIRequired(wrapped))

	// A bare service error with a UI-required code classifies the same way.
	assert.True(t, IsUIRequired(fmt.Errorf("refresh: %w", svc)))

	// Non-UI codes do not.
	assert.False(t, IsUIRequired(&ServiceError{Code: "invalid_client", StatusCode: 401}))
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := NewTransientError(503, cause)
	require.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "503")

	wrapped := fmt.Errorf("token endpoint: %w", err)
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(cause))
}

func TestServiceErrorMessage(t *testing.T) {
	t.Parallel()

	svc := &ServiceError{Code: "invalid_grant", Description: "AADSTS70008: expired", StatusCode: 400}
	assert.Contains(t, svc.Error(), "invalid_grant")
	assert.Contains(t, svc.Error(), "AADSTS70008")
	assert.Contains(t, svc.Error(), "400")
}

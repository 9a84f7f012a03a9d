// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"context"
	"time"
)

// Clock is the injected time capability. Production code uses RealClock;
// tests substitute a fake to drive expiry and polling deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for the duration or until the context is cancelled,
	// returning the context error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall-clock implementation of Clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

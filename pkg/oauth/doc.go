// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the token-endpoint wire protocol: grant
// constants, form-encoded token requests, token response parsing, device
// authorization, and user-realm discovery. It knows nothing about caching
// or request orchestration; those live in pkg/cache and pkg/request.
package oauth

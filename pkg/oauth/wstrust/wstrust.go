// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package wstrust bridges federated username/password and Windows-integrated
// credentials into SAML assertions via the WS-Trust and MEX legacy
// federation protocols. The resulting assertion feeds the OAuth2 SAML
// bearer grant.
package wstrust

// XML namespace URIs and action constants for WS-Trust exchanges.
const (
	// NsSoap is the SOAP 1.2 envelope namespace.
	NsSoap = "http://www.w3.org/2003/05/soap-envelope"

	// NsAddressing is the WS-Addressing 1.0 namespace.
	NsAddressing = "http://www.w3.org/2005/08/addressing"

	// NsSecurity is the WS-Security extensions namespace.
	NsSecurity = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"

	// NsUtility is the WS-Security utility namespace.
	NsUtility = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
)

// Trust protocol versions, distinguished by the RST Issue action advertised
// in the MEX binding.
const (
	ActionIssue13   = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue"
	ActionIssue2005 = "http://schemas.xmlsoap.org/ws/2005/02/trust/RST/Issue"
)

// Version identifies which WS-Trust revision an endpoint speaks.
type Version int

// Supported WS-Trust versions.
const (
	TrustUnknown Version = iota
	Trust2005
	Trust13
)

// EndpointType classifies the credential binding an endpoint accepts.
type EndpointType int

// Endpoint credential bindings.
const (
	EndpointUnknown EndpointType = iota
	EndpointUsernamePassword
	EndpointWindowsTransport
)

// Endpoint is a WS-Trust endpoint discovered from a MEX document.
type Endpoint struct {
	URL     string
	Version Version
	Type    EndpointType
}

// SAML token type URIs returned in RequestedSecurityTokenResponse.
const (
	SAMLTokenType1 = "urn:oasis:names:tc:SAML:1.0:assertion"
	SAMLTokenType2 = "urn:oasis:names:tc:SAML:2.0:assertion"
)

// SamlTokenInfo carries the extracted assertion and the OAuth grant type it
// maps to. Token-type detection compares against the SAML 1 constant and
// defaults to SAML 2 otherwise.
type SamlTokenInfo struct {
	// AssertionType is the OAuth grant_type for the assertion exchange.
	AssertionType string

	// Assertion is the raw SAML XML, exchanged base64-encoded.
	Assertion string
}

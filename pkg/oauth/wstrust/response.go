// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package wstrust

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/stacklok/authkit/pkg/oauth"
)

// rstrEnvelope captures the pieces of a RequestSecurityTokenResponse we
// need: the declared token type and the raw assertion XML.
type rstrEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    rstrBody `xml:"Body"`
}

type rstrBody struct {
	Responses []rstrResponse `xml:"RequestSecurityTokenResponseCollection>RequestSecurityTokenResponse"`
	Response  *rstrResponse  `xml:"RequestSecurityTokenResponse"`
	Fault     *soapFaultInfo `xml:"Fault"`
}

type rstrResponse struct {
	TokenType string    `xml:"TokenType"`
	Token     rstrToken `xml:"RequestedSecurityToken"`
}

type rstrToken struct {
	Inner string `xml:",innerxml"`
}

type soapFaultInfo struct {
	Reason string `xml:"Reason>Text"`
	Code   string `xml:"Code>Value"`
}

// ParseResponse extracts the SAML assertion from a WS-Trust response.
// Token-type detection is by equality against the SAML 1 constant; anything
// else is treated as SAML 2.
func ParseResponse(data []byte) (*SamlTokenInfo, error) {
	var env rstrEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse WS-Trust response: %w", err)
	}

	if f := env.Body.Fault; f != nil && (f.Reason != "" || f.Code != "") {
		return nil, fmt.Errorf("WS-Trust fault %s: %s", f.Code, f.Reason)
	}

	resp := env.Body.Response
	if len(env.Body.Responses) > 0 {
		resp = &env.Body.Responses[0]
	}
	if resp == nil {
		return nil, fmt.Errorf("WS-Trust response contains no security token response")
	}

	assertion := strings.TrimSpace(resp.Token.Inner)
	if assertion == "" {
		return nil, fmt.Errorf("WS-Trust response contains no security token")
	}

	grant := oauth.GrantSAML2Bearer
	if strings.TrimSpace(resp.TokenType) == SAMLTokenType1 {
		grant = oauth.GrantSAML1Bearer
	}
	return &SamlTokenInfo{AssertionType: grant, Assertion: assertion}, nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package wstrust

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// messageLifetime bounds the validity window stamped into the security header.
const messageLifetime = 10 * time.Minute

// trustNamespace returns the WS-Trust namespace for the endpoint's version.
func trustNamespace(v Version) (string, string, error) {
	switch v {
	case Trust13:
		return "http://docs.oasis-open.org/ws-sx/ws-trust/200512", ActionIssue13, nil
	case Trust2005:
		return "http://schemas.xmlsoap.org/ws/2005/02/trust", ActionIssue2005, nil
	default:
		return "", "", fmt.Errorf("unsupported WS-Trust version")
	}
}

// keyTypeURI returns the bearer key type URI for the version.
func keyTypeURI(v Version) string {
	if v == Trust13 {
		return "http://docs.oasis-open.org/ws-sx/ws-trust/200512/Bearer"
	}
	return "http://schemas.xmlsoap.org/ws/2005/05/identity/NoProofKey"
}

// escape XML-escapes credential material before it is embedded in the
// envelope body.
func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// BuildUsernamePasswordRST builds a request-security-token envelope carrying
// a WS-Security username token.
func BuildUsernamePasswordRST(endpoint *Endpoint, cloudAudienceURN, username, password string, now time.Time) (string, error) {
	trustNS, action, err := trustNamespace(endpoint.Version)
	if err != nil {
		return "", err
	}

	created := now.UTC().Format(time.RFC3339)
	expires := now.Add(messageLifetime).UTC().Format(time.RFC3339)
	messageID := "urn:uuid:" + uuid.NewString()
	tokenID := "UsernameToken-" + uuid.NewString()

	envelope := fmt.Sprintf(`<s:Envelope xmlns:s=%q xmlns:a=%q xmlns:u=%q>`+
		`<s:Header>`+
		`<a:Action s:mustUnderstand="1">%s</a:Action>`+
		`<a:MessageID>%s</a:MessageID>`+
		`<a:ReplyTo><a:Address>http://www.w3.org/2005/08/addressing/anonymous</a:Address></a:ReplyTo>`+
		`<a:To s:mustUnderstand="1">%s</a:To>`+
		`<o:Security s:mustUnderstand="1" xmlns:o=%q>`+
		`<u:Timestamp u:Id="_0"><u:Created>%s</u:Created><u:Expires>%s</u:Expires></u:Timestamp>`+
		`<o:UsernameToken u:Id=%q>`+
		`<o:Username>%s</o:Username>`+
		`<o:Password>%s</o:Password>`+
		`</o:UsernameToken>`+
		`</o:Security>`+
		`</s:Header>`+
		`<s:Body>`+
		`<trust:RequestSecurityToken xmlns:trust=%q>`+
		`<wsp:AppliesTo xmlns:wsp="http://schemas.xmlsoap.org/ws/2004/09/policy">`+
		`<a:EndpointReference><a:Address>%s</a:Address></a:EndpointReference>`+
		`</wsp:AppliesTo>`+
		`<trust:KeyType>%s</trust:KeyType>`+
		`<trust:RequestType>%s/Issue</trust:RequestType>`+
		`</trust:RequestSecurityToken>`+
		`</s:Body>`+
		`</s:Envelope>`,
		NsSoap, NsAddressing, NsUtility,
		action, messageID, escape(endpoint.URL),
		NsSecurity, created, expires, tokenID,
		escape(username), escape(password),
		trustNS, escape(cloudAudienceURN), keyTypeURI(endpoint.Version), trustNS)

	return envelope, nil
}

// BuildWindowsTransportRST builds a request-security-token envelope for the
// windows-transport binding, where the caller's transport-level integrated
// auth carries the credential and the body names only the audience.
func BuildWindowsTransportRST(endpoint *Endpoint, cloudAudienceURN string) (string, error) {
	trustNS, action, err := trustNamespace(endpoint.Version)
	if err != nil {
		return "", err
	}

	messageID := "urn:uuid:" + uuid.NewString()
	envelope := fmt.Sprintf(`<s:Envelope xmlns:s=%q xmlns:a=%q>`+
		`<s:Header>`+
		`<a:Action s:mustUnderstand="1">%s</a:Action>`+
		`<a:MessageID>%s</a:MessageID>`+
		`<a:ReplyTo><a:Address>http://www.w3.org/2005/08/addressing/anonymous</a:Address></a:ReplyTo>`+
		`<a:To s:mustUnderstand="1">%s</a:To>`+
		`</s:Header>`+
		`<s:Body>`+
		`<trust:RequestSecurityToken xmlns:trust=%q>`+
		`<wsp:AppliesTo xmlns:wsp="http://schemas.xmlsoap.org/ws/2004/09/policy">`+
		`<a:EndpointReference><a:Address>%s</a:Address></a:EndpointReference>`+
		`</wsp:AppliesTo>`+
		`<trust:KeyType>%s</trust:KeyType>`+
		`<trust:RequestType>%s/Issue</trust:RequestType>`+
		`</trust:RequestSecurityToken>`+
		`</s:Body>`+
		`</s:Envelope>`,
		NsSoap, NsAddressing,
		action, messageID, escape(endpoint.URL),
		trustNS, escape(cloudAudienceURN), keyTypeURI(endpoint.Version), trustNS)

	return envelope, nil
}

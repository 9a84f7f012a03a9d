// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const federatedRealmBody = `{
	"account_type": "Federated",
	"domain_name": "example.com",
	"federation_protocol": "WSTrust",
	"federation_metadata_url": "https://fs.example.com/adfs/services/trust/mex",
	"cloud_audience_urn": "urn:federation:MicrosoftOnline"
}`

const mexBody = `<wsdl:definitions xmlns:wsdl="http://schemas.xmlsoap.org/wsdl/" xmlns:wsp="http://schemas.xmlsoap.org/ws/2004/09/policy" xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd" xmlns:soap12="http://schemas.xmlsoap.org/wsdl/soap12/" xmlns:wsa10="http://www.w3.org/2005/08/addressing" xmlns:tns="http://tempuri.org/">
  <wsp:Policy wsu:Id="UserNameWSTrustBinding_policy">
    <wsp:ExactlyOne><wsp:All><sp:SignedEncryptedSupportingTokens xmlns:sp="http://docs.oasis-open.org/ws-sx/ws-securitypolicy/200702"><wsp:Policy><sp:UsernameToken/></wsp:Policy></sp:SignedEncryptedSupportingTokens></wsp:All></wsp:ExactlyOne>
  </wsp:Policy>
  <wsp:Policy wsu:Id="WindowsTransportBinding_policy">
    <wsp:ExactlyOne><wsp:All><sp:SpnegoContextToken xmlns:sp="http://docs.oasis-open.org/ws-sx/ws-securitypolicy/200702"/></wsp:All></wsp:ExactlyOne>
  </wsp:Policy>
  <wsdl:binding name="UserNameWSTrustBinding" type="tns:IWSTrust13Sync">
    <wsp:PolicyReference URI="#UserNameWSTrustBinding_policy"/>
    <wsdl:operation name="Trust13Issue">
      <soap12:operation soapAction="http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue" style="document"/>
    </wsdl:operation>
  </wsdl:binding>
  <wsdl:binding name="WindowsTransportBinding" type="tns:IWSTrust13Sync">
    <wsp:PolicyReference URI="#WindowsTransportBinding_policy"/>
    <wsdl:operation name="Trust13Issue">
      <soap12:operation soapAction="http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue" style="document"/>
    </wsdl:operation>
  </wsdl:binding>
  <wsdl:service name="SecurityTokenService">
    <wsdl:port name="UserNameWSTrustBinding_IWSTrust13Sync" binding="tns:UserNameWSTrustBinding">
      <soap12:address location="https://fs.example.com/adfs/services/trust/13/usernamemixed"/>
      <wsa10:EndpointReference><wsa10:Address>https://fs.example.com/adfs/services/trust/13/usernamemixed</wsa10:Address></wsa10:EndpointReference>
    </wsdl:port>
    <wsdl:port name="WindowsTransportBinding_IWSTrust13Sync" binding="tns:WindowsTransportBinding">
      <soap12:address location="https://fs.example.com/adfs/services/trust/13/windowstransport"/>
      <wsa10:EndpointReference><wsa10:Address>https://fs.example.com/adfs/services/trust/13/windowstransport</wsa10:Address></wsa10:EndpointReference>
    </wsdl:port>
  </wsdl:service>
</wsdl:definitions>`

const rstrBody = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <trust:RequestSecurityTokenResponseCollection xmlns:trust="http://docs.oasis-open.org/ws-sx/ws-trust/200512">
      <trust:RequestSecurityTokenResponse>
        <trust:TokenType>urn:oasis:names:tc:SAML:2.0:assertion</trust:TokenType>
        <trust:RequestedSecurityToken><saml:Assertion xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_abc123">assertion-content</saml:Assertion></trust:RequestedSecurityToken>
      </trust:RequestSecurityTokenResponse>
    </trust:RequestSecurityTokenResponseCollection>
  </s:Body>
</s:Envelope>`

func xmlResponse(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/soap+xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestUsernamePasswordManagedAccount(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/common/userrealm/"):
			return jsonResponse(http.StatusOK, `{"account_type":"Managed","domain_name":"example.com"}`)
		case strings.HasSuffix(req.URL.Path, "/token"):
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "password", req.PostForm.Get("grant_type"))
			assert.Equal(t, "user@example.com", req.PostForm.Get("username"))
			assert.Equal(t, "hunter2", req.PostForm.Get("password"))
			return jsonResponse(http.StatusOK, tokenBody("managed-token", "rt", ""))
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	res, err := exec.Execute(context.Background(), UsernamePassword{Username: "user@example.com", Password: "hunter2"}, &Request{Scopes: []string{"scope.read"}})
	require.NoError(t, err)
	assert.Equal(t, "managed-token", res.AccessToken)
}

func TestUsernamePasswordManagedRequiresPassword(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "/common/userrealm/") {
			return jsonResponse(http.StatusOK, `{"account_type":"Managed"}`)
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	_, err := exec.Execute(context.Background(), UsernamePassword{Username: "user@example.com"}, &Request{Scopes: []string{"scope.read"}})
	require.Error(t, err)
}

func TestUsernamePasswordFederatedAccount(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/common/userrealm/"):
			return jsonResponse(http.StatusOK, federatedRealmBody)
		case strings.HasSuffix(req.URL.Path, "/trust/mex"):
			return xmlResponse(http.StatusOK, mexBody)
		case strings.HasSuffix(req.URL.Path, "/usernamemixed"):
			// The RST envelope must carry the user's credentials.
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), "user@example.com")
			assert.Contains(t, string(body), "hunter2")
			return xmlResponse(http.StatusOK, rstrBody)
		case strings.HasSuffix(req.URL.Path, "/token"):
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:saml2-bearer", req.PostForm.Get("grant_type"))
			decoded, err := base64.StdEncoding.DecodeString(req.PostForm.Get("assertion"))
			require.NoError(t, err)
			assert.Contains(t, string(decoded), "saml:Assertion")
			return jsonResponse(http.StatusOK, tokenBody("federated-token", "rt", ""))
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	res, err := exec.Execute(context.Background(), UsernamePassword{Username: "user@example.com", Password: "hunter2"}, &Request{Scopes: []string{"scope.read"}})
	require.NoError(t, err)
	assert.Equal(t, "federated-token", res.AccessToken)
}

func TestIntegratedWindowsUsesWindowsTransport(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/common/userrealm/"):
			return jsonResponse(http.StatusOK, federatedRealmBody)
		case strings.HasSuffix(req.URL.Path, "/trust/mex"):
			return xmlResponse(http.StatusOK, mexBody)
		case strings.HasSuffix(req.URL.Path, "/windowstransport"):
			return xmlResponse(http.StatusOK, rstrBody)
		case strings.HasSuffix(req.URL.Path, "/token"):
			return jsonResponse(http.StatusOK, tokenBody("iwa-token", "rt", ""))
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	res, err := exec.Execute(context.Background(), IntegratedWindows{Username: "user@example.com"}, &Request{Scopes: []string{"scope.read"}})
	require.NoError(t, err)
	assert.Equal(t, "iwa-token", res.AccessToken)
}

func TestIntegratedWindowsRejectsManagedAccount(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "/common/userrealm/") {
			return jsonResponse(http.StatusOK, `{"account_type":"Managed"}`)
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	_, err := exec.Execute(context.Background(), IntegratedWindows{Username: "user@example.com"}, &Request{Scopes: []string{"scope.read"}})
	require.Error(t, err)
}

func TestUsernamePasswordUnknownRealmIsTerminal(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	httpClient := newFakeHTTP(routeDefaults(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "/common/userrealm/") {
			return jsonResponse(http.StatusOK, `{"account_type":"Unknown"}`)
		}
		return jsonResponse(http.StatusNotFound, `{}`)
	}))
	exec := newTestExecutor(t, clock, httpClient)

	_, err := exec.Execute(context.Background(), UsernamePassword{Username: "user@example.com", Password: "pw"}, &Request{Scopes: []string{"scope.read"}})
	require.Error(t, err)
}

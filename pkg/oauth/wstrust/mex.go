// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package wstrust

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// MexDocument is the parsed metadata-exchange document of a federation
// provider: the set of WS-Trust endpoints keyed by credential binding.
type MexDocument struct {
	UsernamePasswordEndpoint *Endpoint
	WindowsTransportEndpoint *Endpoint
}

// EndpointFor picks the endpoint for the requested binding.
func (d *MexDocument) EndpointFor(t EndpointType) (*Endpoint, error) {
	switch t {
	case EndpointUsernamePassword:
		if d.UsernamePasswordEndpoint != nil {
			return d.UsernamePasswordEndpoint, nil
		}
	case EndpointWindowsTransport:
		if d.WindowsTransportEndpoint != nil {
			return d.WindowsTransportEndpoint, nil
		}
	}
	return nil, fmt.Errorf("MEX document has no endpoint for the requested binding")
}

// Intermediate shapes for the WSDL scan. Element names are matched by local
// name only; federation providers vary their namespace prefixes.
type mexDefinitions struct {
	XMLName  xml.Name     `xml:"definitions"`
	Policies []mexPolicy  `xml:"Policy"`
	Bindings []mexBinding `xml:"binding"`
	Services []mexService `xml:"service"`
}

type mexPolicy struct {
	ID    string `xml:"Id,attr"`
	Inner string `xml:",innerxml"`
}

type mexBinding struct {
	Name       string                `xml:"name,attr"`
	PolicyRefs []mexPolicyRef        `xml:"PolicyReference"`
	Operations []mexBindingOperation `xml:"operation"`
}

type mexPolicyRef struct {
	URI string `xml:"URI,attr"`
}

type mexBindingOperation struct {
	SoapOperations []mexSoapOperation `xml:"operation"`
}

type mexSoapOperation struct {
	SoapAction string `xml:"soapAction,attr"`
}

type mexService struct {
	Ports []mexPort `xml:"port"`
}

type mexPort struct {
	Binding   string           `xml:"binding,attr"`
	Endpoints []mexEndpointRef `xml:"EndpointReference"`
}

type mexEndpointRef struct {
	Address string `xml:"Address"`
}

// ParseMex scans a MEX document for WS-Trust endpoints. The document links
// policy (credential binding) to binding (trust version via soapAction) to
// port (endpoint URL); we join the three and keep the first match per
// binding type, preferring WS-Trust 1.3 over 2005.
func ParseMex(data []byte) (*MexDocument, error) {
	var defs mexDefinitions
	if err := xml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse MEX document: %w", err)
	}

	policyTypes := make(map[string]EndpointType, len(defs.Policies))
	for _, p := range defs.Policies {
		if p.ID == "" {
			continue
		}
		switch {
		case strings.Contains(p.Inner, "UsernameToken"):
			policyTypes[p.ID] = EndpointUsernamePassword
		case strings.Contains(p.Inner, "NegotiateAuthentication") || strings.Contains(p.Inner, "SpnegoContextToken"):
			policyTypes[p.ID] = EndpointWindowsTransport
		}
	}

	type bindingInfo struct {
		endpointType EndpointType
		version      Version
	}
	bindings := make(map[string]bindingInfo, len(defs.Bindings))
	for _, b := range defs.Bindings {
		var et EndpointType
		for _, ref := range b.PolicyRefs {
			if t, ok := policyTypes[strings.TrimPrefix(ref.URI, "#")]; ok {
				et = t
				break
			}
		}
		if et == EndpointUnknown {
			continue
		}

		version := TrustUnknown
		for _, op := range b.Operations {
			for _, soap := range op.SoapOperations {
				switch soap.SoapAction {
				case ActionIssue13:
					version = Trust13
				case ActionIssue2005:
					version = Trust2005
				}
			}
		}
		if version == TrustUnknown {
			continue
		}
		bindings[b.Name] = bindingInfo{endpointType: et, version: version}
	}

	doc := &MexDocument{}
	for _, svc := range defs.Services {
		for _, port := range svc.Ports {
			// Port binding references are prefixed (q:name); match on local name.
			name := port.Binding
			if idx := strings.Index(name, ":"); idx != -1 {
				name = name[idx+1:]
			}
			info, ok := bindings[name]
			if !ok || len(port.Endpoints) == 0 {
				continue
			}
			address := strings.TrimSpace(port.Endpoints[0].Address)
			if address == "" {
				continue
			}
			ep := &Endpoint{URL: address, Version: info.version, Type: info.endpointType}

			switch info.endpointType {
			case EndpointUsernamePassword:
				if better(doc.UsernamePasswordEndpoint, ep) {
					doc.UsernamePasswordEndpoint = ep
				}
			case EndpointWindowsTransport:
				if better(doc.WindowsTransportEndpoint, ep) {
					doc.WindowsTransportEndpoint = ep
				}
			}
		}
	}

	if doc.UsernamePasswordEndpoint == nil && doc.WindowsTransportEndpoint == nil {
		return nil, fmt.Errorf("MEX document contains no usable WS-Trust endpoints")
	}
	return doc, nil
}

// better prefers the newer trust version when both bindings are offered.
func better(current, candidate *Endpoint) bool {
	return current == nil || candidate.Version > current.Version
}

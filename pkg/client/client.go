// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the OAuth Client registry (spec.md §3's Client
// data model): registered clients, redirect URI matching, and the dev-only
// loopback matching bypass.
package client

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ory/fosite"
)

const schemeHTTP = "http"

// ApplicationType distinguishes a browser-based client from a native one,
// which matters only for which redirect URI rules apply.
type ApplicationType string

// Application types recognized by the data model.
const (
	ApplicationWeb    ApplicationType = "web"
	ApplicationNative ApplicationType = "native"
)

// Client is the Client data-model record. It embeds *fosite.DefaultClient
// so it satisfies fosite.Client without restating GetID/GetGrantTypes/etc.,
// and overrides only the redirect-URI matching methods to add the dev
// bypass spec.md §3 describes ("every redirect URI ... must exactly equal a
// registered one unless a dev-only bypass is configured").
type Client struct {
	*fosite.DefaultClient

	ApplicationType ApplicationType
	// SessionExpiration overrides the server-default session TTL when set.
	SessionExpiration time.Duration
	// AuthorizeURI is an optional alias clients may present instead of the
	// canonical /openidconnect/authorize path.
	AuthorizeURI string
	// DevBypass relaxes redirect URI matching to RFC 8252 §7.3 loopback
	// rules (any port on 127.0.0.1/[::1]/localhost over http), for local
	// development clients only. Never set in production configuration.
	DevBypass bool
}

// New builds a Client. hashedSecret is the bcrypt digest of the client
// secret (nil for a public client).
func New(id string, hashedSecret []byte, redirectURIs, responseTypes, grantTypes, scopes []string, appType ApplicationType) *Client {
	return &Client{
		DefaultClient: &fosite.DefaultClient{
			ID:            id,
			Secret:        hashedSecret,
			RedirectURIs:  redirectURIs,
			ResponseTypes: responseTypes,
			GrantTypes:    grantTypes,
			Scopes:        scopes,
			Public:        len(hashedSecret) == 0,
		},
		ApplicationType: appType,
	}
}

// MatchRedirectURI reports whether requested is an acceptable redirect URI
// for this client: an exact match against a registered URI always works;
// when DevBypass is set, a loopback-pattern match (same scheme/host/path/
// query, any port) also works.
func (c *Client) MatchRedirectURI(requested string) bool {
	for _, registered := range c.GetRedirectURIs() {
		if requested == registered {
			return true
		}
		if c.DevBypass && loopbackEquivalent(requested, registered) {
			return true
		}
	}
	return false
}

// GetMatchingRedirectURI returns the registered redirect URI that requested
// matches, or the requested URI itself (to preserve its dynamic port) for a
// loopback bypass match. Returns "" if nothing matches.
func (c *Client) GetMatchingRedirectURI(requested string) string {
	for _, registered := range c.GetRedirectURIs() {
		if requested == registered {
			return registered
		}
		if c.DevBypass && loopbackEquivalent(requested, registered) {
			return requested
		}
	}
	return ""
}

// loopbackEquivalent reports whether requested and registered are the same
// redirect URI up to the port number, per RFC 8252 §7.3: both must use the
// "http" scheme, resolve to the same loopback host class, and match exactly
// on path and query.
func loopbackEquivalent(requested, registered string) bool {
	req, err := url.Parse(requested)
	if err != nil {
		return false
	}
	reg, err := url.Parse(registered)
	if err != nil {
		return false
	}
	if req.Scheme != schemeHTTP || reg.Scheme != schemeHTTP {
		return false
	}
	if !isLoopbackHost(req.Hostname()) || !isLoopbackHost(reg.Hostname()) {
		return false
	}
	if !sameLoopbackHost(req.Hostname(), reg.Hostname()) {
		return false
	}
	return req.Path == reg.Path && req.RawQuery == reg.RawQuery
}

// isLoopbackHost reports whether hostname is "localhost" or a loopback IP
// literal (127.0.0.1, ::1).
func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// sameLoopbackHost requires the hostnames to denote the same loopback
// identity: "localhost" only matches "localhost" (case-insensitively), and
// an IP literal must match the same IP literal — a client registered
// against 127.0.0.1 does not accept a request to localhost or vice versa.
func sameLoopbackHost(requested, registered string) bool {
	if strings.EqualFold(requested, "localhost") || strings.EqualFold(registered, "localhost") {
		return strings.EqualFold(requested, "localhost") && strings.EqualFold(registered, "localhost")
	}
	return requested == registered
}

var _ fosite.Client = (*Client)(nil)

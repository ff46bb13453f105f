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

// Package session implements the Session Store and Session Builder
// components: the server-side session record, its lifecycle, and the
// ordered-builder assembly used by the authorize and refresh flows.
package session

import "time"

// Type enumerates the kinds of session the data model supports.
type Type string

// Session types.
const (
	TypeRoot           Type = "root"
	TypeOpenIDConnect  Type = "openidconnect"
	TypeM2M            Type = "m2m"
	TypeAnonymous      Type = "anonymous"
)

// Credentials mirrors the `credentials` sub-object of the data model.
type Credentials struct {
	ID         string
	Username   string
	Email      string
	Phone      string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
	Custom     map[string]any
}

// Authentication mirrors the `authentication` sub-object.
type Authentication struct {
	LoginDescriptor           string
	LoginFactors              []string
	AvailableFactors          []string
	ExternalLoginOptions      map[string]string
	ImpersonatorSessionID     string
	ImpersonatorCredentialsID string
}

// Authorization mirrors the `authorization` sub-object: the effective
// resource grants computed by the Tenant/Authz Resolver.
type Authorization struct {
	AssignedTenants []string
	// Authz maps a tenant name (or "*" for global) to its resource set.
	Authz map[string][]string
}

// OAuth2 mirrors the `oauth2` sub-object.
type OAuth2 struct {
	ClientID    string
	Scope       []string
	Nonce       string
	RedirectURI string
	// AccessToken caches the most recently minted access token bound to
	// this session, so the cookie-introspect path (§4.9) can hand it out
	// without a full OAuth2 token exchange. See DESIGN.md for why this
	// lives on the session rather than being re-derived per request.
	AccessToken string
}

// Cookie mirrors the `cookie` sub-object.
type Cookie struct {
	SessionCookieID []byte // 32 random bytes, set only on root sessions
}

// Batman mirrors the `batman` sub-object (HTTP Basic bridging for legacy
// consumers of the "batman" scope).
type Batman struct {
	BasicToken []byte
}

// Session is the full data-model Session record (spec.md §3).
type Session struct {
	SessionID        string
	Type             Type
	ParentSessionID   string
	CreatedAt        time.Time
	ModifiedAt       time.Time
	ExpiresAt        time.Time

	Credentials    Credentials
	Authentication Authentication
	Authorization  Authorization
	OAuth2         OAuth2
	Cookie         Cookie
	Batman         Batman

	TrackID []byte // 16 bytes
}

// IsAnonymous reports whether the session represents an anonymous (algorithmic) user.
func (s *Session) IsAnonymous() bool { return s.Type == TypeAnonymous }

// IsAlgorithmic reports whether the session is carried entirely inside an
// authenticated-encrypted token rather than persisted (anonymous sessions,
// by convention in this implementation).
func (s *Session) IsAlgorithmic() bool { return s.Type == TypeAnonymous }

// IsImpersonated reports whether the session was created on behalf of an
// impersonator, per the data-model invariant that such sessions must never
// carry authz:superuser or authz:impersonate.
func (s *Session) IsImpersonated() bool {
	return s.Authentication.ImpersonatorSessionID != ""
}

// HasResourceAccess reports whether the session's authz map grants `resource`
// either globally ("*") or for the given tenant.
func (s *Session) HasResourceAccess(tenant, resource string) bool {
	if s.Authorization.Authz == nil {
		return false
	}
	for _, r := range s.Authorization.Authz["*"] {
		if r == resource {
			return true
		}
	}
	if tenant == "" {
		return false
	}
	for _, r := range s.Authorization.Authz[tenant] {
		if r == resource {
			return true
		}
	}
	return false
}

// CanAccessAllTenants reports "has access to all tenants": the session's
// global authz set contains authz:superuser or authz:tenant:access.
func (s *Session) CanAccessAllTenants() bool {
	return s.HasResourceAccess("", "authz:superuser") || s.HasResourceAccess("", "authz:tenant:access")
}

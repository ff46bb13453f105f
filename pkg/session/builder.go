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

package session

// Builder mutates a Session in place. Builders are applied in order by
// Apply; because later builders may read fields set by earlier ones (e.g. an
// authz builder reading Credentials.ID), order matters and is preserved by
// callers assembling a []Builder slice.
type Builder func(*Session) error

// Apply runs each builder against s in order, stopping at the first error.
func Apply(s *Session, builders ...Builder) error {
	for _, b := range builders {
		if b == nil {
			continue
		}
		if err := b(s); err != nil {
			return err
		}
	}
	return nil
}

// CredentialsBuilder copies a resolved Credentials value onto the session.
func CredentialsBuilder(creds Credentials) Builder {
	return func(s *Session) error {
		s.Credentials = creds
		return nil
	}
}

// AuthzBuilder sets the session's tenant assignments and effective resource
// map, as computed by the Tenant/Authz Resolver.
func AuthzBuilder(assignedTenants []string, authz map[string][]string) Builder {
	return func(s *Session) error {
		s.Authorization.AssignedTenants = assignedTenants
		s.Authorization.Authz = authz
		return nil
	}
}

// AuthenticationBuilder sets the login descriptor/factors carried over from
// the root session's interactive authentication.
func AuthenticationBuilder(descriptor string, loginFactors, availableFactors []string, externalLogins map[string]string) Builder {
	return func(s *Session) error {
		s.Authentication.LoginDescriptor = descriptor
		s.Authentication.LoginFactors = loginFactors
		s.Authentication.AvailableFactors = availableFactors
		s.Authentication.ExternalLoginOptions = externalLogins
		return nil
	}
}

// OAuth2Builder sets the client/scope/nonce/redirect_uri for an OIDC child session.
func OAuth2Builder(clientID string, scope []string, nonce, redirectURI string) Builder {
	return func(s *Session) error {
		s.OAuth2.ClientID = clientID
		s.OAuth2.Scope = scope
		s.OAuth2.Nonce = nonce
		s.OAuth2.RedirectURI = redirectURI
		return nil
	}
}

// ScopeBuilder overwrites only the granted scope, used by the refresh flow
// which narrows scope without touching client_id/nonce/redirect_uri.
func ScopeBuilder(scope []string) Builder {
	return func(s *Session) error {
		s.OAuth2.Scope = scope
		return nil
	}
}

// TrackIDBuilder propagates the root session's track id to a child session.
func TrackIDBuilder(trackID []byte) Builder {
	return func(s *Session) error {
		s.TrackID = trackID
		return nil
	}
}

// ImpersonationBuilder transfers impersonation metadata from a root session
// to a child session, and relies on the caller having already subtracted
// authz:superuser/authz:impersonate from the resources passed to
// AuthzBuilder (the invariant is enforced by the tenant resolver, not here).
func ImpersonationBuilder(impersonatorSessionID, impersonatorCredentialsID string) Builder {
	return func(s *Session) error {
		s.Authentication.ImpersonatorSessionID = impersonatorSessionID
		s.Authentication.ImpersonatorCredentialsID = impersonatorCredentialsID
		return nil
	}
}

// AccessTokenCacheBuilder caches a minted access token value on the session,
// consumed by the cookie-introspect exchange (§4.9).
func AccessTokenCacheBuilder(accessToken string) Builder {
	return func(s *Session) error {
		s.OAuth2.AccessToken = accessToken
		return nil
	}
}

// CookieBuilder sets the session-cookie id, only ever used on root sessions.
func CookieBuilder(sessionCookieID []byte) Builder {
	return func(s *Session) error {
		s.Cookie.SessionCookieID = sessionCookieID
		return nil
	}
}

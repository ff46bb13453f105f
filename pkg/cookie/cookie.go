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

// Package cookie implements the Cookie Service (spec.md §4.5): parsing and
// emitting the domain-prefixed session cookie, and the reverse-proxy
// introspection exchange built on top of it.
package cookie

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// ApplicationDomain describes one configured application domain: the cookie
// domain attribute to emit and the redirect URI used once /cookie/entry has
// exchanged a code for a session.
type ApplicationDomain struct {
	Domain      string
	RedirectURI string
}

// Config configures the Cookie Service.
type Config struct {
	// CookieName is shared by the root domain and every application domain;
	// only the cookie *value*'s domain prefix distinguishes them.
	CookieName string
	// RootDomain is used when no domain_id is given (the SSO portal itself).
	RootDomain string
	// Applications maps a domain_id (path segment of /cookie/entry/{domain_id})
	// to its ApplicationDomain.
	Applications map[string]ApplicationDomain
}

func validDomain(d string) bool {
	if d == "" {
		return false
	}
	for i := 0; i < len(d); i++ {
		if d[i] > 127 {
			return false
		}
	}
	return true
}

// Service is the Cookie Service component.
type Service struct {
	cfg      Config
	sessions session.Store
	tokens   tokenstore.Store
}

// NewService validates cfg and constructs a Service.
func NewService(cfg Config, sessions session.Store, tokens tokenstore.Store) (*Service, error) {
	if cfg.CookieName == "" {
		return nil, fmt.Errorf("cookie: CookieName is required")
	}
	if !validDomain(cfg.RootDomain) {
		return nil, fmt.Errorf("cookie: invalid root domain %q", cfg.RootDomain)
	}
	for id, app := range cfg.Applications {
		if !validDomain(app.Domain) {
			return nil, fmt.Errorf("cookie: invalid domain for application %q", id)
		}
	}
	return &Service{cfg: cfg, sessions: sessions, tokens: tokens}, nil
}

// knownDomain reports whether domain equals the root domain or any
// registered application domain.
func (s *Service) knownDomain(domain string) bool {
	if domain == s.cfg.RootDomain {
		return true
	}
	for _, app := range s.cfg.Applications {
		if app.Domain == domain {
			return true
		}
	}
	return false
}

// CookieDomain resolves a domain_id (the path segment of /cookie/entry/{domain_id})
// to its configured cookie domain. An empty domainID means the root domain.
func (s *Service) CookieDomain(domainID string) (string, error) {
	if domainID == "" {
		return s.cfg.RootDomain, nil
	}
	app, ok := s.cfg.Applications[domainID]
	if !ok {
		return "", ssoerrors.New(ssoerrors.KindInvalidRequest, domainID, fmt.Errorf("unknown domain_id %q", domainID)).WithCode("invalid_domain")
	}
	return app.Domain, nil
}

// RedirectURI resolves a domain_id to its configured post-exchange redirect
// URI. Empty domainID (the root/SSO portal) has no redirect URI of its own.
func (s *Service) RedirectURI(domainID string) (string, error) {
	app, ok := s.cfg.Applications[domainID]
	if !ok {
		return "", ssoerrors.New(ssoerrors.KindInvalidRequest, domainID, fmt.Errorf("unknown domain_id %q", domainID)).WithCode("invalid_domain")
	}
	return app.RedirectURI, nil
}

// encodeCookieValue builds the "<domain>:<urlsafe_b64(id)>" cookie value.
func encodeCookieValue(domain string, sessionCookieID []byte) string {
	return domain + ":" + base64.RawURLEncoding.EncodeToString(sessionCookieID)
}

// decodeCookieValue splits a raw cookie value into its domain prefix and
// decoded session cookie id. It fails if there is no ":" separator or the id
// doesn't decode as base64url.
func decodeCookieValue(value string) (domain string, sessionCookieID []byte, err error) {
	domain, encoded, found := strings.Cut(value, ":")
	if !found {
		return "", nil, fmt.Errorf("cookie: malformed value, missing domain separator")
	}
	id, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate padded encodings too, since some clients / proxies may
		// round-trip cookies through components that add padding back.
		if id, err = base64.URLEncoding.DecodeString(encoded); err != nil {
			return "", nil, fmt.Errorf("cookie: malformed id encoding: %w", err)
		}
	}
	return domain, id, nil
}

// splitCookieHeader manually splits a raw Cookie header into "name=value"
// pairs. net/http's cookie parsing collapses repeated cookie names from
// different domains into a single value; this keeps every occurrence so
// ResolveSessionCookieID can consider them all.
func splitCookieHeader(header string) []struct{ name, value string } {
	var out []struct{ name, value string }
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		out = append(out, struct{ name, value string }{strings.TrimSpace(name), value})
	}
	return out
}

// ResolveSessionCookieID scans header for cookies named s.cfg.CookieName,
// returning the first one whose domain prefix is known (the root domain or
// a configured application domain). First match wins, per spec.md §4.5.
func (s *Service) ResolveSessionCookieID(header string) (sessionCookieID []byte, err error) {
	for _, pair := range splitCookieHeader(header) {
		if pair.name != s.cfg.CookieName {
			continue
		}
		domain, id, derr := decodeCookieValue(pair.value)
		if derr != nil {
			continue
		}
		if !s.knownDomain(domain) {
			continue
		}
		return id, nil
	}
	return nil, ssoerrors.New(ssoerrors.KindNotFound, "", fmt.Errorf("no valid session cookie present"))
}

// GetSessionBySCI resolves the root session bound to a session cookie id.
func (s *Service) GetSessionBySCI(ctx context.Context, sessionCookieID []byte) (*session.Session, error) {
	return s.sessions.GetBy(ctx, session.ByCookieSessionID, sessionCookieID)
}

// GetSessionByRequestCookie is the composition of ResolveSessionCookieID and
// GetSessionBySCI, the common path for both the Authorize endpoint's cookie
// check and the Introspect endpoint.
func (s *Service) GetSessionByRequestCookie(ctx context.Context, cookieHeader string) (*session.Session, error) {
	id, err := s.ResolveSessionCookieID(cookieHeader)
	if err != nil {
		return nil, err
	}
	return s.GetSessionBySCI(ctx, id)
}

// GetSessionByAuthorizationCode consumes an oac token bound to the cookie
// scope (minted by the Authorize endpoint when `cookie` is in scope) and
// resolves the session it references. Single-use: the code is deleted
// atomically as part of the lookup.
func (s *Service) GetSessionByAuthorizationCode(ctx context.Context, code []byte) (*session.Session, error) {
	record, err := s.tokens.Consume(ctx, code, tokenstore.TypeAuthorizationCode)
	if err != nil {
		return nil, err
	}
	return s.sessions.Get(ctx, record.SessionID)
}

// SetCookie attaches a Set-Cookie header binding the given session cookie id
// to domainID's cookie domain.
func (s *Service) SetCookie(w http.ResponseWriter, domainID string, sessionCookieID []byte) error {
	domain, err := s.CookieDomain(domainID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    encodeCookieValue(domain, sessionCookieID),
		Domain:   domain,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// DeleteCookie attaches a past-dated Set-Cookie header that clears the
// session cookie on domainID's cookie domain.
func (s *Service) DeleteCookie(w http.ResponseWriter, domainID string) error {
	domain, err := s.CookieDomain(domainID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Domain:   domain,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	return nil
}

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

package cookie

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// stripCookiePattern matches exactly one occurrence of "name=value" within a
// Cookie header, whether it's the leading, a middle, the trailing, or the
// only pair. Built once per Handler since the cookie name is fixed at
// construction.
func stripCookiePattern(name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return regexp.MustCompile(`^` + quoted + `=[^;]*(?:; ?|$)|; ?` + quoted + `=[^;]*`)
}

// stripOne removes the first match of pattern from header, preserving the
// remainder verbatim. Returns header unchanged if there is no match.
func stripOne(pattern *regexp.Regexp, header string) string {
	loc := pattern.FindStringIndex(header)
	if loc == nil {
		return header
	}
	return header[:loc[0]] + header[loc[1]:]
}

// headerWhitelist maps the `add=<field>` query values accepted by the
// Introspect endpoint to a projector over a resolved session's credentials,
// per spec.md §4.9's "whitelist of fields only".
var headerWhitelist = map[string]func(*headerSession) string{
	"sub":      func(s *headerSession) string { return s.CredentialsID },
	"username": func(s *headerSession) string { return s.Username },
	"email":    func(s *headerSession) string { return s.Email },
	"phone":    func(s *headerSession) string { return s.Phone },
	"tenants":  func(s *headerSession) string { return strings.Join(s.Tenants, ",") },
}

type headerSession struct {
	CredentialsID string
	Username      string
	Email         string
	Phone         string
	Tenants       []string
}

// Handler exposes the Cookie Service over HTTP: the nginx auth_request
// introspection endpoint and the per-domain authorization-code exchange.
type Handler struct {
	svc            *Service
	strip          *regexp.Regexp
	forwardHeaders []string
}

// NewHandler builds a Handler over svc. forwardHeaders, if non-nil,
// restricts which X-Headers the nginx endpoint will ever emit regardless of
// what the caller requests via `add=`; a nil slice means no restriction
// beyond headerWhitelist itself.
func NewHandler(svc *Service, forwardHeaders []string) *Handler {
	return &Handler{
		svc:            svc,
		strip:          stripCookiePattern(svc.cfg.CookieName),
		forwardHeaders: forwardHeaders,
	}
}

func (h *Handler) allowed(field string) bool {
	if h.forwardHeaders == nil {
		return true
	}
	for _, f := range h.forwardHeaders {
		if f == field {
			return true
		}
	}
	return false
}

// ServeNginx implements POST /cookie/nginx: the reverse-proxy auth_request
// introspection exchange (spec.md §4.9).
func (h *Handler) ServeNginx(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cookieHeader := r.Header.Get("Cookie")

	sess, err := h.svc.GetSessionByRequestCookie(ctx, cookieHeader)
	if err != nil {
		if derr := h.svc.DeleteCookie(w, ""); derr != nil {
			logger.Warnw("cookie: failed clearing cookie on introspect miss", "error", derr)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err = h.svc.sessions.Touch(ctx, sess.SessionID, 0)
	if err != nil {
		logger.Errorw("cookie: touch failed", "session_id", sess.SessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+sess.OAuth2.AccessToken)

	if r.URL.Query().Get("keepcookie") == "" {
		w.Header().Set("Cookie", stripOne(h.strip, cookieHeader))
	} else {
		w.Header().Set("Cookie", cookieHeader)
	}

	hs := &headerSession{
		CredentialsID: sess.Credentials.ID,
		Username:      sess.Credentials.Username,
		Email:         sess.Credentials.Email,
		Phone:         sess.Credentials.Phone,
		Tenants:       sess.Authorization.AssignedTenants,
	}
	for _, field := range r.URL.Query()["add"] {
		projector, ok := headerWhitelist[field]
		if !ok || !h.allowed(field) {
			continue
		}
		if v := projector(hs); v != "" {
			w.Header().Set("X-"+headerCase(field), v)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// headerCase titlecases the first rune of field so "username" becomes
// "Username", matching conventional canonical HTTP header casing.
func headerCase(field string) string {
	if field == "" {
		return field
	}
	return strings.ToUpper(field[:1]) + field[1:]
}

// ServeEntry implements GET /cookie/entry/{domain_id}: exchanges an
// authorization code for a session and sets the application-domain cookie,
// then redirects the browser back to the application (spec.md §4.5, §6.1).
//
// domainID is the {domain_id} path segment, extracted by the caller's
// router (net/http's ServeMux PathValue or an equivalent).
func (h *Handler) ServeEntry(w http.ResponseWriter, r *http.Request, domainID string) {
	ctx := r.Context()
	q := r.URL.Query()

	if grantType := q.Get("grant_type"); grantType != "" && grantType != "authorization_code" {
		writeInvalidRequest(w, "unsupported grant_type")
		return
	}

	rawCode := q.Get("code")
	if rawCode == "" {
		writeInvalidRequest(w, "missing code")
		return
	}
	code, err := tokenstore.Decode(rawCode)
	if err != nil {
		writeInvalidRequest(w, "malformed code")
		return
	}

	redirectURI, err := h.svc.RedirectURI(domainID)
	if err != nil {
		writeInvalidDomain(w, domainID)
		return
	}

	sess, err := h.svc.GetSessionByAuthorizationCode(ctx, code)
	if err != nil {
		writeInvalidRequest(w, "invalid or expired code")
		return
	}
	if len(sess.Cookie.SessionCookieID) == 0 {
		writeInvalidRequest(w, "session has no cookie identity")
		return
	}

	if err := h.svc.SetCookie(w, domainID, sess.Cookie.SessionCookieID); err != nil {
		writeInvalidDomain(w, domainID)
		return
	}

	body := fmt.Sprintf(
		`<html><head><meta http-equiv="refresh" content="0; url=%s"></head><body></body></html>`,
		escapeHTMLAttr(redirectURI),
	)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Refresh", "0; url="+redirectURI)
	w.Header().Set("Location", redirectURI)
	w.WriteHeader(http.StatusFound)
	_, _ = w.Write([]byte(body))
}

func writeInvalidRequest(w http.ResponseWriter, description string) {
	http.Error(w, string(ssoerrors.KindInvalidRequest)+": "+description, http.StatusBadRequest)
}

func writeInvalidDomain(w http.ResponseWriter, domainID string) {
	http.Error(w, fmt.Sprintf("invalid_domain: unknown domain_id %q", domainID), http.StatusBadRequest)
}

func escapeHTMLAttr(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
	return r.String(s)
}

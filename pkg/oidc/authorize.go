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

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/elpablos/seacat-auth/pkg/audit"
	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
	"github.com/elpablos/seacat-auth/pkg/tenant"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// authorizeRequest holds the parsed inputs to the Authorize endpoint
// (spec.md §4.6).
type authorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               []string
	State               string
	Nonce               string
	Prompt              string
	CodeChallenge       string
	CodeChallengeMethod string
}

func splitScope(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Fields(raw)
}

func parseAuthorizeRequest(r *http.Request) (authorizeRequest, error) {
	if err := r.ParseForm(); err != nil {
		return authorizeRequest{}, fmt.Errorf("oidc: parse request: %w", err)
	}
	return authorizeRequest{
		ResponseType:        r.Form.Get("response_type"),
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		Scope:               splitScope(r.Form.Get("scope")),
		State:               r.Form.Get("state"),
		Nonce:               r.Form.Get("nonce"),
		Prompt:              r.Form.Get("prompt"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
	}, nil
}

// ServeAuthorize implements GET/POST /openidconnect/authorize.
func (s *Service) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	req, err := parseAuthorizeRequest(r)
	if err != nil {
		writeInlineError(w, "invalid_request", "malformed request")
		return
	}

	// 1. presence of scope, client_id, response_type, redirect_uri.
	if len(req.Scope) == 0 || req.ClientID == "" || req.ResponseType == "" || req.RedirectURI == "" {
		if req.RedirectURI == "" {
			writeInlineError(w, "invalid_request", "missing required parameter")
			return
		}
		s.redirectError(w, req.RedirectURI, req.State, "invalid_request", "missing required parameter")
		return
	}

	// 2. client lookup and redirect_uri exact match. An unknown client_id
	// is a fatal client-lookup exception and replies with a
	// redirect-bound unauthorized_client (spec.md §9); only a registered
	// client's mismatched redirect_uri replies inline, since redirecting to
	// an unregistered URI would itself be the open-redirect this check
	// exists to prevent.
	c, err := s.Clients.Get(req.ClientID)
	if err != nil {
		s.redirectError(w, req.RedirectURI, req.State, "unauthorized_client", "unknown client_id")
		return
	}
	if err := s.Clients.ValidateRedirectURI(c, req.RedirectURI); err != nil {
		writeInlineError(w, "invalid_redirect_uri", "redirect_uri is not registered for this client")
		return
	}

	// 3. response_type == "code".
	if req.ResponseType != "code" {
		s.redirectError(w, req.RedirectURI, req.State, "unsupported_response_type", "only response_type=code is supported")
		return
	}

	// 4. openid in scope.
	if !scopeContains(req.Scope, "openid") {
		s.redirectError(w, req.RedirectURI, req.State, "invalid_scope", "openid scope is required")
		return
	}

	// 5. prompt validity.
	switch req.Prompt {
	case "", "none", "login", "select_account":
	default:
		s.redirectError(w, req.RedirectURI, req.State, "invalid_request", "unsupported prompt value")
		return
	}

	ctx := r.Context()
	rootSession, rsErr := s.Cookies.GetSessionByRequestCookie(ctx, r.Header.Get("Cookie"))
	hasSession := rsErr == nil

	switch {
	case !hasSession && req.Prompt == "none":
		s.redirectError(w, req.RedirectURI, req.State, "login_required", "")
	case !hasSession:
		s.redirectToLogin(w, r, nil, false)
	case req.Prompt == "login":
		s.redirectToLogin(w, r, rootSession, true)
	case req.Prompt == "select_account":
		// Root session is kept (not deleted): the user is offered the
		// account chooser but may return to the same session.
		s.redirectToLogin(w, r, rootSession, false)
	default:
		s.continueAuthorize(w, r, req, c, rootSession)
	}
}

// redirectToLogin implements spec.md §4.6's "redirect to login": 404 with a
// Location header pointing at the login UI, and the session cookie
// cleared. If deleteSession is set, the root session itself is destroyed
// first (prompt=login forcing re-authentication).
func (s *Service) redirectToLogin(w http.ResponseWriter, r *http.Request, sess *session.Session, deleteSession bool) {
	ctx := r.Context()
	if deleteSession && sess != nil {
		if err := s.Sessions.Delete(ctx, sess.SessionID); err != nil {
			logger.Errorw("oidc: delete session before login redirect", "session_id", sess.SessionID, "error", err)
		}
	}
	if err := s.Cookies.DeleteCookie(w, ""); err != nil {
		logger.Warnw("oidc: clear cookie before login redirect", "error", err)
	}

	loc := s.Config.LoginURL + "?redirect_uri=" + url.QueryEscape(r.URL.RequestURI())
	w.Header().Set("Location", loc)
	w.WriteHeader(http.StatusNotFound)
}

// redirectToFactorSetup implements spec.md §4.7: redirect to the
// factor-setup UI with the missing factors and a return URL that re-enters
// Authorize with prompt=login once setup completes.
func (s *Service) redirectToFactorSetup(w http.ResponseWriter, r *http.Request, factors []string) {
	q := r.URL.Query()
	q.Set("prompt", "login")
	returnURL := r.URL.Path + "?" + q.Encode()

	loc := s.Config.FactorSetupURL + "?setup=" + url.QueryEscape(strings.Join(factors, " ")) +
		"&redirect_uri=" + url.QueryEscape(returnURL)
	w.Header().Set("Location", loc)
	w.WriteHeader(http.StatusFound)
}

// factorsToSetup computes (globallyEnforced ∪ availableFactors) −
// satisfiedFactors, per spec.md §4.7. availableFactors stands in for
// "credential-enforced factors": the set the credential's login
// descriptors make available, which a freshly authenticated root session
// has not necessarily all satisfied yet.
func factorsToSetup(globallyEnforced, availableFactors, satisfiedFactors []string) []string {
	satisfied := make(map[string]struct{}, len(satisfiedFactors))
	for _, f := range satisfiedFactors {
		satisfied[f] = struct{}{}
	}
	required := make(map[string]struct{})
	for _, f := range globallyEnforced {
		required[f] = struct{}{}
	}
	for _, f := range availableFactors {
		required[f] = struct{}{}
	}

	var out []string
	for f := range required {
		if _, ok := satisfied[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) continueAuthorize(w http.ResponseWriter, r *http.Request, req authorizeRequest, c *client.Client, rootSession *session.Session) {
	ctx := r.Context()
	credID := rootSession.Credentials.ID

	var excludeResources []string
	if rootSession.IsImpersonated() {
		excludeResources = []string{tenant.ResourceSuperuser, tenant.ResourceImpersonate}
	}

	resolved, err := s.Tenants.Resolve(ctx, credID, excludeResources)
	if err != nil {
		s.redirectError(w, req.RedirectURI, req.State, "server_error", err.Error())
		return
	}

	tenantsGranted, err := s.Tenants.ResolveScope(ctx, credID, req.Scope, resolved)
	if err != nil {
		code := ssoerrors.CodeOr(err, ssoerrors.KindAccessDenied)
		s.recordAudit(ctx, credID, c.GetID(), "", audit.OutcomeError, code)
		s.redirectError(w, req.RedirectURI, req.State, code, err.Error())
		return
	}

	toSetup := factorsToSetup(s.Config.GloballyEnforcedFactors, rootSession.Authentication.AvailableFactors, rootSession.Authentication.LoginFactors)
	if len(toSetup) > 0 {
		s.redirectToFactorSetup(w, r, toSetup)
		return
	}

	child, err := s.Sessions.Create(ctx, session.TypeOpenIDConnect, rootSession.SessionID, s.Config.SessionTTL,
		session.CredentialsBuilder(rootSession.Credentials),
		session.AuthenticationBuilder(
			rootSession.Authentication.LoginDescriptor,
			rootSession.Authentication.LoginFactors,
			rootSession.Authentication.AvailableFactors,
			rootSession.Authentication.ExternalLoginOptions,
		),
		session.AuthzBuilder(resolved.AssignedTenants, resolved.Authz),
		session.OAuth2Builder(c.GetID(), req.Scope, req.Nonce, req.RedirectURI),
	)
	if err != nil {
		s.redirectError(w, req.RedirectURI, req.State, "server_error", err.Error())
		return
	}

	var auditTenant string
	if len(tenantsGranted) > 0 {
		auditTenant = tenantsGranted[0]
	}
	s.recordAudit(ctx, credID, c.GetID(), auditTenant, audit.OutcomeSuccess, "")

	opts := tokenstore.CreateOptions{}
	if req.CodeChallenge != "" {
		opts.CodeChallenge = req.CodeChallenge
		method := tokenstore.CodeChallengeMethod(req.CodeChallengeMethod)
		if method == "" {
			method = tokenstore.ChallengeS256
		}
		opts.CodeChallengeMethod = method
	}

	code, err := s.Tokens.Create(ctx, tokenstore.TypeAuthorizationCode, s.Config.CodeLength, child.SessionID, s.Config.CodeTTL, opts)
	if err != nil {
		s.redirectError(w, req.RedirectURI, req.State, "server_error", err.Error())
		return
	}

	if scopeContains(req.Scope, "cookie") && len(rootSession.Cookie.SessionCookieID) > 0 {
		if err := s.mintRootAccessToken(ctx, rootSession); err != nil {
			s.redirectError(w, req.RedirectURI, req.State, "server_error", err.Error())
			return
		}
		if err := s.Cookies.SetCookie(w, "", rootSession.Cookie.SessionCookieID); err != nil {
			logger.Warnw("oidc: set session cookie on authorize response", "error", err)
		}
	}

	redirectURI := appendQuery(req.RedirectURI, map[string]string{
		"code":  tokenstore.Encode(code),
		"state": req.State,
	})
	w.Header().Set("Location", redirectURI)
	w.WriteHeader(http.StatusFound)
}

// mintRootAccessToken mints an access token bound to the root session
// itself (as opposed to the child OIDC session the authorization code
// points at) and caches it via session.AccessTokenCacheBuilder, per spec.md
// §4.9: the Cookie Service's nginx introspection endpoint resolves only
// root sessions, so it is the root session's cached OAuth2.AccessToken that
// ServeNginx hands back as the Authorization: Bearer header.
func (s *Service) mintRootAccessToken(ctx context.Context, rootSession *session.Session) error {
	access, err := s.Tokens.Create(ctx, tokenstore.TypeAccessToken, s.Config.AccessTokenLength, rootSession.SessionID, s.Config.AccessTokenTTL, tokenstore.CreateOptions{})
	if err != nil {
		return fmt.Errorf("oidc: mint root session access token: %w", err)
	}
	if _, err := s.Sessions.Update(ctx, rootSession.SessionID, session.AccessTokenCacheBuilder(tokenstore.Encode(access))); err != nil {
		return fmt.Errorf("oidc: cache root session access token: %w", err)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, credID, clientID, tenant string, outcome audit.Outcome, errorCode string) {
	_ = s.Audit.Record(ctx, audit.Event{
		Time:          time.Now(),
		CredentialsID: credID,
		ClientID:      clientID,
		Tenant:        tenant,
		Outcome:       outcome,
		ErrorCode:     errorCode,
	})
}

// redirectError implements spec.md §4.6's error-reply contract: error,
// optional error_description, optional error_uri and echoed state appended
// to redirect_uri, then a 302 to it.
func (s *Service) redirectError(w http.ResponseWriter, redirectURI, state, errorCode, description string) {
	params := map[string]string{"error": errorCode}
	if description != "" {
		params["error_description"] = description
	}
	if state != "" {
		params["state"] = state
	}
	w.Header().Set("Location", appendQuery(redirectURI, params))
	w.WriteHeader(http.StatusFound)
}

// writeInlineError implements the "invalid redirect URI" / "missing
// redirect URI" branch of spec.md §4.6: rendered inline, never redirected.
func writeInlineError(w http.ResponseWriter, errorCode, description string) {
	http.Error(w, fmt.Sprintf("%s: %s", errorCode, description), http.StatusBadRequest)
}

func appendQuery(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

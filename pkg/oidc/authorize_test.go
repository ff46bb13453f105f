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
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elpablos/seacat-auth/pkg/cookie"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// newAuthenticatedRootSession builds a root session bound to credential
// "builtin:1" (the one newTokenTestFixture's tenant store grants "acme"
// membership to) and a session cookie, so continueAuthorize's tenant
// resolution path has something to resolve.
func newAuthenticatedRootSession(t *testing.T, sessions session.Store) *session.Session {
	t.Helper()
	root, err := sessions.Create(context.Background(), session.TypeRoot, "", time.Hour,
		session.CredentialsBuilder(session.Credentials{ID: "builtin:1", Username: "alice", Email: "alice@example.test"}),
		func(s *session.Session) error {
			s.Cookie.SessionCookieID = []byte("cccccccccccccccccccccccccccccccc")[:32]
			return nil
		},
	)
	require.NoError(t, err)
	return root
}

func authorizeRequestURL(extra map[string]string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "webapp")
	q.Set("redirect_uri", "https://app.example.test/cb")
	q.Set("scope", "openid profile")
	q.Set("state", "xyz")
	for k, v := range extra {
		if v == "" {
			q.Del(k)
			continue
		}
		q.Set(k, v)
	}
	return "/openidconnect/authorize?" + q.Encode()
}

func TestServeAuthorizeMissingRedirectURIIsInline(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", "/openidconnect/authorize?response_type=code&client_id=webapp&scope=openid", nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestServeAuthorizeMissingScopeRedirectsWithError(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"scope": ""}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
}

func TestServeAuthorizeUnknownClientRedirectsUnauthorizedClient(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"client_id": "nope"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	require.Equal(t, 302, rec.Code, "a client-lookup failure is fatal and redirect-bound, not inline")
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "unauthorized_client", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestServeAuthorizeUnregisteredRedirectURIIsInline(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"redirect_uri": "https://evil.example/cb"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_redirect_uri")
}

func TestServeAuthorizeUnsupportedResponseTypeRedirects(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"response_type": "token"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "unsupported_response_type", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestServeAuthorizeRequiresOpenIDScope(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"scope": "profile"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
}

func TestServeAuthorizeRejectsUnsupportedPrompt(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"prompt": "consent"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
}

func TestServeAuthorizeNoSessionAndPromptNoneIsLoginRequired(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"prompt": "none"}), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login_required", loc.Query().Get("error"))
}

func TestServeAuthorizeNoSessionRedirectsToLogin(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", authorizeRequestURL(nil), nil)
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), svc.Config.LoginURL)
}

func TestServeAuthorizePromptLoginDeletesSessionAndRedirects(t *testing.T) {
	t.Parallel()
	svc, sessions, _, _ := newTokenTestFixture(t)
	root := newAuthenticatedRootSession(t, sessions)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"prompt": "login"}), nil)
	req.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), svc.Config.LoginURL)
	_, err := sessions.Get(context.Background(), root.SessionID)
	assert.Error(t, err, "prompt=login must destroy the root session")
}

func TestServeAuthorizeSelectAccountPreservesSession(t *testing.T) {
	t.Parallel()
	svc, sessions, _, _ := newTokenTestFixture(t)
	root := newAuthenticatedRootSession(t, sessions)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"prompt": "select_account"}), nil)
	req.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 404, rec.Code)
	_, err := sessions.Get(context.Background(), root.SessionID)
	assert.NoError(t, err, "prompt=select_account must preserve the root session")
}

func TestServeAuthorizeWithSessionIssuesCodeAndRedirects(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens, _ := newTokenTestFixture(t)
	root := newAuthenticatedRootSession(t, sessions)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"scope": "openid profile tenant:acme"}), nil)
	req.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	require.Equal(t, 302, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	decoded, err := tokenstore.Decode(code)
	require.NoError(t, err)
	record, err := tokens.Get(context.Background(), decoded, tokenstore.TypeAuthorizationCode)
	require.NoError(t, err)

	child, err := sessions.Get(context.Background(), record.SessionID)
	require.NoError(t, err)
	assert.Equal(t, root.SessionID, child.ParentSessionID)
	assert.Contains(t, child.Authorization.AssignedTenants, "acme")
}

func TestServeAuthorizeFactorSetupGateRedirects(t *testing.T) {
	t.Parallel()
	svc, sessions, _, _ := newTokenTestFixture(t)
	svc.Config.GloballyEnforcedFactors = []string{"totp"}
	root := newAuthenticatedRootSession(t, sessions)

	req := httptest.NewRequest("GET", authorizeRequestURL(nil), nil)
	req.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	assert.Equal(t, 302, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), svc.Config.FactorSetupURL)
	assert.Contains(t, rec.Header().Get("Location"), "setup=totp")
}

func TestServeAuthorizeSetsCookieWhenCookieScopeRequested(t *testing.T) {
	t.Parallel()
	svc, sessions, _, _ := newTokenTestFixture(t)
	root := newAuthenticatedRootSession(t, sessions)

	req := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"scope": "openid cookie"}), nil)
	req.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	rec := httptest.NewRecorder()

	svc.ServeAuthorize(rec, req)

	require.Equal(t, 302, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))

	updated, err := sessions.Get(context.Background(), root.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.OAuth2.AccessToken, "cookie scope must mint and cache an access token on the root session")
}

// TestServeAuthorizeCookieScopeIsUsableByNginxIntrospection exercises the
// real Authorize -> /cookie/nginx path end to end: it drives Authorize with
// scope=cookie through the SSO cookie it sets, then hands that same cookie
// to the Cookie Service's nginx introspection handler and asserts the
// Authorization: Bearer header it returns is a real, resolvable access
// token bound to the root session (spec.md §8 E2E scenario 4).
func TestServeAuthorizeCookieScopeIsUsableByNginxIntrospection(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens, _ := newTokenTestFixture(t)
	root := newAuthenticatedRootSession(t, sessions)

	authReq := httptest.NewRequest("GET", authorizeRequestURL(map[string]string{"scope": "openid cookie"}), nil)
	authReq.Header.Set("Cookie", cookieHeaderFor(t, svc, root.Cookie.SessionCookieID))
	authRec := httptest.NewRecorder()
	svc.ServeAuthorize(authRec, authReq)
	require.Equal(t, 302, authRec.Code)

	ssoCookie := authRec.Result().Cookies()
	require.NotEmpty(t, ssoCookie)

	nginxReq := httptest.NewRequest("POST", "/cookie/nginx", nil)
	nginxReq.Header.Set("Cookie", ssoCookie[0].Name+"="+ssoCookie[0].Value)
	nginxRec := httptest.NewRecorder()

	cookie.NewHandler(svc.Cookies, nil).ServeNginx(nginxRec, nginxReq)

	require.Equal(t, 200, nginxRec.Code)
	authz := nginxRec.Header().Get("Authorization")
	require.True(t, strings.HasPrefix(authz, "Bearer "))

	accessToken := strings.TrimPrefix(authz, "Bearer ")
	require.NotEmpty(t, accessToken)
	decoded, err := tokenstore.Decode(accessToken)
	require.NoError(t, err)
	record, err := tokens.Get(context.Background(), decoded, tokenstore.TypeAccessToken)
	require.NoError(t, err)
	assert.Equal(t, root.SessionID, record.SessionID)
}

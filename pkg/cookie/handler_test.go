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
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

func TestStripOneRemovesLeadingCookie(t *testing.T) {
	t.Parallel()
	p := stripCookiePattern("SeaCatSCI")
	got := stripOne(p, "SeaCatSCI=abc; other=1")
	assert.Equal(t, "other=1", got)
}

func TestStripOneRemovesMiddleCookie(t *testing.T) {
	t.Parallel()
	p := stripCookiePattern("SeaCatSCI")
	got := stripOne(p, "a=1; SeaCatSCI=abc; b=2")
	assert.Equal(t, "a=1; b=2", got)
}

func TestStripOneRemovesTrailingCookie(t *testing.T) {
	t.Parallel()
	p := stripCookiePattern("SeaCatSCI")
	got := stripOne(p, "a=1; SeaCatSCI=abc")
	assert.Equal(t, "a=1", got)
}

func TestStripOneLeavesHeaderUntouchedWhenAbsent(t *testing.T) {
	t.Parallel()
	p := stripCookiePattern("SeaCatSCI")
	got := stripOne(p, "a=1; b=2")
	assert.Equal(t, "a=1; b=2", got)
}

func TestStripOneSoleCookie(t *testing.T) {
	t.Parallel()
	p := stripCookiePattern("SeaCatSCI")
	got := stripOne(p, "SeaCatSCI=abc")
	assert.Equal(t, "", got)
}

func newHandlerTestFixture(t *testing.T) (*Handler, session.Store, tokenstore.Store) {
	t.Helper()
	svc, sessions, tokens := newTestService(t)
	return NewHandler(svc, nil), sessions, tokens
}

func TestServeNginxUnauthorizedOnMissingCookie(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandlerTestFixture(t)

	req := httptest.NewRequest("POST", "/cookie/nginx", nil)
	rec := httptest.NewRecorder()
	h.ServeNginx(rec, req)

	assert.Equal(t, 401, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
}

func TestServeNginxSuccessSetsHeaders(t *testing.T) {
	t.Parallel()
	h, sessions, _ := newHandlerTestFixture(t)
	ctx := context.Background()

	cookieID := []byte("eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")[:32]
	root, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, func(s *session.Session) error {
		s.Cookie.SessionCookieID = cookieID
		s.OAuth2.AccessToken = "access-token-xyz"
		s.Credentials.ID = "builtin:1"
		s.Credentials.Username = "alice"
		return nil
	})
	require.NoError(t, err)
	_ = root

	value := encodeCookieValue("auth.example.test", cookieID)
	req := httptest.NewRequest("POST", "/cookie/nginx?add=username&add=sub", nil)
	req.Header.Set("Cookie", "SeaCatSCI="+value+"; other=1")
	rec := httptest.NewRecorder()

	h.ServeNginx(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "Bearer access-token-xyz", rec.Header().Get("Authorization"))
	assert.Equal(t, "other=1", rec.Header().Get("Cookie"))
	assert.Equal(t, "alice", rec.Header().Get("X-Username"))
	assert.Equal(t, "builtin:1", rec.Header().Get("X-Sub"))
}

func TestServeNginxKeepsCookieWhenRequested(t *testing.T) {
	t.Parallel()
	h, sessions, _ := newHandlerTestFixture(t)
	ctx := context.Background()

	cookieID := []byte("ffffffffffffffffffffffffffffffff")[:32]
	_, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, func(s *session.Session) error {
		s.Cookie.SessionCookieID = cookieID
		s.OAuth2.AccessToken = "tok"
		return nil
	})
	require.NoError(t, err)

	value := encodeCookieValue("auth.example.test", cookieID)
	raw := "SeaCatSCI=" + value + "; other=1"
	req := httptest.NewRequest("POST", "/cookie/nginx?keepcookie=1", nil)
	req.Header.Set("Cookie", raw)
	rec := httptest.NewRecorder()

	h.ServeNginx(rec, req)

	assert.Equal(t, raw, rec.Header().Get("Cookie"))
}

func TestServeEntryExchangesCodeAndRedirects(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens := newTestService(t)
	h := NewHandler(svc, nil)
	ctx := context.Background()

	cookieID := []byte("11111111111111111111111111111111")[:32]
	root, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, func(s *session.Session) error {
		s.Cookie.SessionCookieID = cookieID
		return nil
	})
	require.NoError(t, err)

	code, err := tokens.Create(ctx, tokenstore.TypeAuthorizationCode, 16, root.SessionID, time.Minute, tokenstore.CreateOptions{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/cookie/entry/app1?code="+tokenstore.Encode(code), nil)
	rec := httptest.NewRecorder()
	h.ServeEntry(rec, req, "app1")

	assert.Equal(t, 302, rec.Code)
	assert.Equal(t, "https://app1.example.test/landing", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
}

func TestServeEntryRejectsUnknownDomain(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens := newTestService(t)
	h := NewHandler(svc, nil)
	ctx := context.Background()

	root, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, nil)
	require.NoError(t, err)
	code, err := tokens.Create(ctx, tokenstore.TypeAuthorizationCode, 16, root.SessionID, time.Minute, tokenstore.CreateOptions{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/cookie/entry/ghost?code="+tokenstore.Encode(code), nil)
	rec := httptest.NewRecorder()
	h.ServeEntry(rec, req, "ghost")

	assert.Equal(t, 400, rec.Code)
}

func TestServeEntryRejectsMissingCode(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	h := NewHandler(svc, nil)

	req := httptest.NewRequest("GET", "/cookie/entry/app1", nil)
	rec := httptest.NewRecorder()
	h.ServeEntry(rec, req, "app1")

	assert.Equal(t, 400, rec.Code)
}

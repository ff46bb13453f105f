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

func newTestService(t *testing.T) (*Service, session.Store, tokenstore.Store) {
	t.Helper()
	tokens := tokenstore.NewMemory()
	sessions := session.NewMemory(func(ctx context.Context, id string) {
		_ = tokens.DeleteBySession(ctx, id)
	})
	svc, err := NewService(Config{
		CookieName: "SeaCatSCI",
		RootDomain: "auth.example.test",
		Applications: map[string]ApplicationDomain{
			"app1": {Domain: "app1.example.test", RedirectURI: "https://app1.example.test/landing"},
		},
	}, sessions, tokens)
	require.NoError(t, err)
	return svc, sessions, tokens
}

func TestNewServiceRejectsInvalidDomains(t *testing.T) {
	t.Parallel()
	_, err := NewService(Config{CookieName: "c", RootDomain: ""}, nil, nil)
	assert.Error(t, err)

	_, err = NewService(Config{CookieName: "c", RootDomain: "exämple.test"}, nil, nil)
	assert.Error(t, err)
}

func TestEncodeDecodeCookieValueRoundTrip(t *testing.T) {
	t.Parallel()
	id := []byte("0123456789012345678901234567890X")
	value := encodeCookieValue("auth.example.test", id)
	domain, decoded, err := decodeCookieValue(value)
	require.NoError(t, err)
	assert.Equal(t, "auth.example.test", domain)
	assert.Equal(t, id, decoded)
}

func TestResolveSessionCookieIDFirstMatchWins(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	idA := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	idB := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	header := "SeaCatSCI=" + encodeCookieValue("auth.example.test", idA) +
		"; SeaCatSCI=" + encodeCookieValue("app1.example.test", idB)

	got, err := svc.ResolveSessionCookieID(header)
	require.NoError(t, err)
	assert.Equal(t, idA, got)
}

func TestResolveSessionCookieIDSkipsUnknownDomain(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	idA := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	idB := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	header := "SeaCatSCI=" + encodeCookieValue("rogue.example.test", idA) +
		"; SeaCatSCI=" + encodeCookieValue("app1.example.test", idB)

	got, err := svc.ResolveSessionCookieID(header)
	require.NoError(t, err)
	assert.Equal(t, idB, got)
}

func TestResolveSessionCookieIDNoMatchErrors(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	_, err := svc.ResolveSessionCookieID("other=1; unrelated=2")
	assert.Error(t, err)
}

func TestGetSessionBySCIFindsRootSession(t *testing.T) {
	t.Parallel()
	svc, sessions, _ := newTestService(t)
	ctx := context.Background()

	cookieID := []byte("cccccccccccccccccccccccccccccccc")[:32]
	root, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, func(s *session.Session) error {
		s.Cookie.SessionCookieID = cookieID
		return nil
	})
	require.NoError(t, err)

	got, err := svc.GetSessionBySCI(ctx, cookieID)
	require.NoError(t, err)
	assert.Equal(t, root.SessionID, got.SessionID)
}

func TestCookieDomainRootAndApplication(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	d, err := svc.CookieDomain("")
	require.NoError(t, err)
	assert.Equal(t, "auth.example.test", d)

	d, err = svc.CookieDomain("app1")
	require.NoError(t, err)
	assert.Equal(t, "app1.example.test", d)

	_, err = svc.CookieDomain("no-such-app")
	assert.Error(t, err)
}

func TestSetAndDeleteCookieAttributes(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	id := []byte("dddddddddddddddddddddddddddddddd")[:32]

	rec := httptest.NewRecorder()
	require.NoError(t, svc.SetCookie(rec, "app1", id))
	set := rec.Header().Get("Set-Cookie")
	assert.Contains(t, set, "HttpOnly")
	assert.Contains(t, set, "Secure")
	assert.Contains(t, set, "SameSite=Lax")
	assert.Contains(t, set, "Domain=app1.example.test")
	assert.Contains(t, set, "Path=/")

	rec2 := httptest.NewRecorder()
	require.NoError(t, svc.DeleteCookie(rec2, "app1"))
	del := rec2.Header().Get("Set-Cookie")
	assert.Contains(t, del, "Domain=app1.example.test")
	assert.Contains(t, del, "Max-Age=0")
}

func TestGetSessionByAuthorizationCodeIsSingleUse(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens := newTestService(t)
	ctx := context.Background()

	root, err := sessions.Create(ctx, session.TypeRoot, "", time.Hour, nil)
	require.NoError(t, err)

	code, err := tokens.Create(ctx, tokenstore.TypeAuthorizationCode, 16, root.SessionID, time.Minute, tokenstore.CreateOptions{})
	require.NoError(t, err)

	got, err := svc.GetSessionByAuthorizationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, root.SessionID, got.SessionID)

	_, err = svc.GetSessionByAuthorizationCode(ctx, code)
	assert.Error(t, err)
}

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
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

type fakeOTP struct{ activated bool }

func (f fakeOTP) HasActivatedTOTP(context.Context, string) (bool, error) {
	return f.activated, nil
}

func TestServeUserInfoProjectsClaimSet(t *testing.T) {
	t.Parallel()
	svc, sessions, tokens, c := newTokenTestFixture(t)
	svc.OTP = fakeOTP{activated: true}
	ctx := context.Background()

	root := newRootSession(t, sessions)
	sess, err := sessions.Create(ctx, session.TypeOpenIDConnect, root.SessionID, time.Hour,
		session.CredentialsBuilder(session.Credentials{ID: "builtin:1", Username: "alice", Email: "alice@example.test"}),
		session.OAuth2Builder(c.GetID(), []string{"openid", "tenant:acme"}, "nonce-5", "https://app.example.test/cb"),
		session.AuthzBuilder([]string{"acme"}, map[string][]string{"acme": {"read"}}),
	)
	require.NoError(t, err)

	access, err := tokens.Create(ctx, tokenstore.TypeAccessToken, svc.Config.AccessTokenLength, sess.SessionID, svc.Config.AccessTokenTTL, tokenstore.CreateOptions{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/openidconnect/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+tokenstore.Encode(access))
	rec := httptest.NewRecorder()

	svc.ServeUserInfo(rec, req)

	require.Equal(t, 200, rec.Code)
	var info userInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "builtin:1", info.Subject)
	assert.Equal(t, "alice", info.PreferredUsername)
	assert.Equal(t, root.SessionID, info.Psid)
	assert.Equal(t, c.GetID(), info.Aud)
	assert.True(t, info.TotpSet)
	assert.Equal(t, []string{"acme"}, info.Tenants)
	assert.ElementsMatch(t, []string{"read"}, info.Resources["acme"])
}

func TestServeUserInfoRejectsMissingBearer(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", "/openidconnect/userinfo", nil)
	rec := httptest.NewRecorder()

	svc.ServeUserInfo(rec, req)

	assert.Equal(t, 401, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestServeUserInfoRejectsUnknownAccessToken(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTokenTestFixture(t)

	req := httptest.NewRequest("GET", "/openidconnect/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+tokenstore.Encode([]byte("not-a-real-token-not-a-real-token")))
	rec := httptest.NewRecorder()

	svc.ServeUserInfo(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestFormatTrackID(t *testing.T) {
	t.Parallel()
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(i)
	}
	got := formatTrackID(b)
	assert.Equal(t, "00010203-0405-0607-0809-0a0b0c0d0e0f", got)
}

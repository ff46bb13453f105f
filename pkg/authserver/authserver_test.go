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

package authserver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elpablos/seacat-auth/pkg/client"
)

func testConfig() Config {
	return Config{
		Issuer:        "https://auth.example.test",
		LoginURL:      "https://auth.example.test/login",
		CookieName:    "SeaCatSCI",
		RootDomain:    "auth.example.test",
		SweepInterval: 10 * time.Millisecond,
		Clients: []ClientConfig{
			{
				ID:              "webapp",
				Secret:          "s3cr3t",
				RedirectURIs:    []string{"https://app.example.test/cb"},
				ResponseTypes:   []string{"code"},
				GrantTypes:      []string{"authorization_code", "refresh_token"},
				Scopes:          []string{"openid", "profile"},
				ApplicationType: client.ApplicationWeb,
			},
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewBuildsServerAndMountsHandlers(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)
	defer srv.Close()

	require.NotNil(t, srv.Mux)
	c, err := srv.Clients.Get("webapp")
	require.NoError(t, err)
	assert.Equal(t, "webapp", c.GetID())
}

func TestServerServesAuthorizeEndpoint(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)
	defer srv.Close()

	req := httptest.NewRequest("GET", "/openidconnect/authorize?response_type=code&client_id=webapp&redirect_uri=https://app.example.test/cb&scope=openid", nil)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, req)

	// No session cookie present: the Authorize endpoint redirects to login.
	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "https://auth.example.test/login")
}

func TestServerServesJWKSEndpoint(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)
	defer srv.Close()

	req := httptest.NewRequest("GET", "/openidconnect/public_keys", nil)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServerServesCookieNginxEndpoint(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)
	defer srv.Close()

	req := httptest.NewRequest("POST", "/cookie/nginx", nil)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code, "no session cookie present")
}

func TestServerServesMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)
	defer srv.Close()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestServerCloseStopsSweepers(t *testing.T) {
	t.Parallel()
	srv, err := New(testConfig())
	require.NoError(t, err)

	srv.Close()
	// Calling Close twice must not panic or block.
	srv.Close()
}

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
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/idtoken"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tenant"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ServeToken implements POST /openidconnect/token (spec.md §4.8).
func (s *Service) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed request")
		return
	}

	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.Form.Get("client_id")
		clientSecret = r.Form.Get("client_secret")
	}
	c, err := s.authenticateClient(clientID, clientSecret)
	if err != nil {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		s.exchangeAuthorizationCode(w, r, c)
	case "refresh_token":
		s.exchangeRefreshToken(w, r, c)
	default:
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (s *Service) authenticateClient(clientID, secret string) (*client.Client, error) {
	c, err := s.Clients.Get(clientID)
	if err != nil {
		return nil, err
	}
	if len(c.GetHashedSecret()) == 0 {
		return c, nil
	}
	return s.Clients.Authenticate(clientID, secret)
}

func (s *Service) exchangeAuthorizationCode(w http.ResponseWriter, r *http.Request, c *client.Client) {
	ctx := r.Context()

	codeBytes, err := tokenstore.Decode(r.Form.Get("code"))
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "malformed code")
		return
	}

	record, err := s.Tokens.Consume(ctx, codeBytes, tokenstore.TypeAuthorizationCode)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired code")
		return
	}

	if err := verifyPKCE(record.CodeChallengeMethod, record.CodeChallenge, r.Form.Get("code_verifier")); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	sess, err := s.loadSession(ctx, record)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "session no longer exists")
		return
	}
	if sess.OAuth2.ClientID != c.GetID() {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "code was not issued to this client")
		return
	}

	access, err := s.Tokens.Create(ctx, tokenstore.TypeAccessToken, s.Config.AccessTokenLength, sess.SessionID, s.Config.AccessTokenTTL, tokenstore.CreateOptions{})
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	var refresh []byte
	if !record.SessionIsAlgorithmic {
		refresh, err = s.Tokens.Create(ctx, tokenstore.TypeRefreshToken, s.Config.RefreshTokenLength, sess.SessionID, s.Config.RefreshTokenTTL, tokenstore.CreateOptions{})
		if err != nil {
			writeTokenError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
	}

	sess, err = s.Sessions.Update(ctx, sess.SessionID, session.AccessTokenCacheBuilder(tokenstore.Encode(access)))
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	resp := tokenResponse{
		AccessToken: tokenstore.Encode(access),
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.Config.AccessTokenTTL.Seconds()),
		Scope:       joinScope(sess.OAuth2.Scope),
	}
	if refresh != nil {
		resp.RefreshToken = tokenstore.Encode(refresh)
	}
	if scopeContains(sess.OAuth2.Scope, "openid") {
		idToken, err := s.mintIDToken(ctx, sess, access)
		if err != nil {
			writeTokenError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		resp.IDToken = idToken
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) exchangeRefreshToken(w http.ResponseWriter, r *http.Request, c *client.Client) {
	ctx := r.Context()

	tokenBytes, err := tokenstore.Decode(r.Form.Get("refresh_token"))
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "malformed refresh_token")
		return
	}

	record, err := s.Tokens.Get(ctx, tokenBytes, tokenstore.TypeRefreshToken)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired refresh_token")
		return
	}

	sess, err := s.Sessions.Get(ctx, record.SessionID)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "session no longer exists")
		return
	}
	if sess.OAuth2.ClientID != c.GetID() {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "refresh_token was not issued to this client")
		return
	}

	requestedScope := splitScope(r.Form.Get("scope"))
	if requestedScope == nil {
		requestedScope = sess.OAuth2.Scope
	}
	if !scopeSubset(requestedScope, sess.OAuth2.Scope) {
		writeTokenError(w, http.StatusBadRequest, "invalid_scope", "requested scope exceeds originally granted scope")
		return
	}

	var excludeResources []string
	if sess.IsImpersonated() {
		excludeResources = []string{tenant.ResourceSuperuser, tenant.ResourceImpersonate}
	}
	resolved, err := s.Tenants.Resolve(ctx, sess.Credentials.ID, excludeResources)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	sess, err = s.Sessions.Update(ctx, sess.SessionID,
		session.AuthzBuilder(resolved.AssignedTenants, resolved.Authz),
		session.ScopeBuilder(requestedScope),
	)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	access, err := s.Tokens.Create(ctx, tokenstore.TypeAccessToken, s.Config.AccessTokenLength, sess.SessionID, s.Config.AccessTokenTTL, tokenstore.CreateOptions{})
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	if err := s.Tokens.Delete(ctx, tokenBytes); err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	newRefresh, err := s.Tokens.Create(ctx, tokenstore.TypeRefreshToken, s.Config.RefreshTokenLength, sess.SessionID, s.Config.RefreshTokenTTL, tokenstore.CreateOptions{})
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	sess, err = s.Sessions.Update(ctx, sess.SessionID, session.AccessTokenCacheBuilder(tokenstore.Encode(access)))
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	resp := tokenResponse{
		AccessToken:  tokenstore.Encode(access),
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Config.AccessTokenTTL.Seconds()),
		RefreshToken: tokenstore.Encode(newRefresh),
		Scope:        joinScope(sess.OAuth2.Scope),
	}
	if scopeContains(sess.OAuth2.Scope, "openid") {
		idToken, err := s.mintIDToken(ctx, sess, access)
		if err != nil {
			writeTokenError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		resp.IDToken = idToken
	}

	writeJSON(w, http.StatusOK, resp)
}

// loadSession resolves the session a token record refers to, deserializing
// an algorithmic (self-contained, never-persisted) session when the record
// says so (spec.md §4.8: "possibly deserializing an algorithmic one").
func (s *Service) loadSession(ctx context.Context, record *tokenstore.Record) (*session.Session, error) {
	if !record.SessionIsAlgorithmic {
		return s.Sessions.Get(ctx, record.SessionID)
	}
	if s.Algorithmic == nil {
		return nil, fmt.Errorf("oidc: no algorithmic session codec configured")
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(record.SessionID)
	if err != nil {
		return nil, fmt.Errorf("oidc: malformed algorithmic session blob: %w", err)
	}
	return s.Algorithmic.Deserialize(ciphertext)
}

// mintIDToken builds the ID Token claim set and signs it, computing at_hash
// per the OIDC Core spec (left half of the access token's hash, base64url).
func (s *Service) mintIDToken(ctx context.Context, sess *session.Session, accessToken []byte) (string, error) {
	sum := sha256.Sum256(accessToken)
	atHash := base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])

	claims := idtoken.Claims{
		Subject:         sess.Credentials.ID,
		Audience:        sess.OAuth2.ClientID,
		Nonce:           sess.OAuth2.Nonce,
		AuthTime:        sess.CreatedAt,
		AccessTokenHash: atHash,
		Extra: map[string]any{
			"sid":  sess.SessionID,
			"psid": sess.ParentSessionID,
		},
	}
	return s.Signer.Sign(ctx, claims)
}

func joinScope(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTokenError(w http.ResponseWriter, status int, errorCode, description string) {
	writeJSON(w, status, tokenErrorResponse{Error: errorCode, ErrorDescription: description})
}

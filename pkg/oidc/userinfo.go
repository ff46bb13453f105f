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
	"strings"

	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// OTPChecker is the OTP service collaborator named by spec.md §6.5: it
// tells the UserInfo projector whether a credential has an activated TOTP
// factor. Nil in deployments without a configured OTP backend.
type OTPChecker interface {
	HasActivatedTOTP(ctx context.Context, credentialsID string) (bool, error)
}

// userInfo is the claim set returned by the UserInfo endpoint (spec.md
// §6.2); the ID token is built separately by mintIDToken. Datetimes are
// Unix seconds.
type userInfo struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Sid      string `json:"sid"`

	Exp  int64  `json:"exp,omitempty"`
	Psid string `json:"psid,omitempty"`
	Aud  string `json:"aud,omitempty"`
	Azp  string `json:"azp,omitempty"`

	Scope string `json:"scope,omitempty"`
	Nonce string `json:"nonce,omitempty"`

	PreferredUsername string         `json:"preferred_username,omitempty"`
	Email             string         `json:"email,omitempty"`
	PhoneNumber       string         `json:"phone_number,omitempty"`
	Custom            map[string]any `json:"custom,omitempty"`
	UpdatedAt         int64          `json:"updated_at,omitempty"`
	CreatedAt         int64          `json:"created_at,omitempty"`

	Anonymous bool   `json:"anonymous,omitempty"`
	TrackID   string `json:"track_id,omitempty"`

	ImpersonatorSid string `json:"impersonator_sid,omitempty"`
	ImpersonatorCid string `json:"impersonator_cid,omitempty"`

	TotpSet              bool                `json:"totp_set,omitempty"`
	AvailableFactors     []string            `json:"available_factors,omitempty"`
	Ldid                 string              `json:"ldid,omitempty"`
	Factors              []string            `json:"factors,omitempty"`
	ExternalLoginEnabled bool                `json:"external_login_enabled,omitempty"`
	Resources            map[string][]string `json:"resources,omitempty"`
	Tenants              []string            `json:"tenants,omitempty"`
}

// ServeUserInfo implements GET /openidconnect/userinfo (spec.md §4.10).
func (s *Service) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawToken, ok := bearerToken(r)
	if !ok {
		writeWWWAuthenticate(w, "missing bearer token")
		return
	}
	tokenBytes, err := tokenstore.Decode(rawToken)
	if err != nil {
		writeWWWAuthenticate(w, "malformed bearer token")
		return
	}

	record, err := s.Tokens.Get(ctx, tokenBytes, tokenstore.TypeAccessToken)
	if err != nil {
		writeWWWAuthenticate(w, "invalid or expired access token")
		return
	}
	sess, err := s.loadSession(ctx, record)
	if err != nil {
		writeWWWAuthenticate(w, "session no longer exists")
		return
	}

	info := s.projectUserInfo(ctx, sess, record)
	writeJSON(w, http.StatusOK, info)
}

// projectUserInfo builds the §6.2 claim set for sess. record supplies the
// token's own expiry for the conditional exp claim.
func (s *Service) projectUserInfo(ctx context.Context, sess *session.Session, record *tokenstore.Record) userInfo {
	info := userInfo{
		Issuer:   s.Config.Issuer,
		Subject:  sess.Credentials.ID,
		IssuedAt: sess.CreatedAt.Unix(),
		Sid:      sess.SessionID,

		Psid:  sess.ParentSessionID,
		Aud:   sess.OAuth2.ClientID,
		Azp:   sess.OAuth2.ClientID,
		Scope: joinScope(sess.OAuth2.Scope),
		Nonce: sess.OAuth2.Nonce,

		PreferredUsername: sess.Credentials.Username,
		Email:             sess.Credentials.Email,
		PhoneNumber:       sess.Credentials.Phone,
		Custom:            sess.Credentials.Custom,

		Anonymous: sess.IsAnonymous(),

		ImpersonatorSid: sess.Authentication.ImpersonatorSessionID,
		ImpersonatorCid: sess.Authentication.ImpersonatorCredentialsID,

		AvailableFactors:     sess.Authentication.AvailableFactors,
		Ldid:                 sess.Authentication.LoginDescriptor,
		Factors:              sess.Authentication.LoginFactors,
		ExternalLoginEnabled: len(sess.Authentication.ExternalLoginOptions) > 0,
		Resources:            sess.Authorization.Authz,
		Tenants:              sess.Authorization.AssignedTenants,
	}

	if !record.ExpiresAt.IsZero() {
		info.Exp = record.ExpiresAt.Unix()
	}
	if sess.Credentials.CreatedAt != nil {
		info.CreatedAt = sess.Credentials.CreatedAt.Unix()
	}
	if sess.Credentials.ModifiedAt != nil {
		info.UpdatedAt = sess.Credentials.ModifiedAt.Unix()
	}
	if len(sess.TrackID) == 16 {
		info.TrackID = formatTrackID(sess.TrackID)
	}
	if s.OTP != nil {
		activated, err := s.OTP.HasActivatedTOTP(ctx, sess.Credentials.ID)
		if err != nil {
			logger.Warnw("oidc: totp lookup failed", "credentials_id", sess.Credentials.ID, "error", err)
		} else {
			info.TotpSet = activated
		}
	}

	return info
}

// formatTrackID renders 16 raw bytes as the canonical 8-4-4-4-12 hex form.
func formatTrackID(b []byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeWWWAuthenticate(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, description))
	w.WriteHeader(http.StatusUnauthorized)
}

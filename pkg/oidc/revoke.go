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
	"net/http"

	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// ServeRevoke implements POST /openidconnect/token/revoke (spec.md §6.1:
// "Revoke access token (session destroyed)"). The token is always consumed
// from the store even when the session lookup below fails, per RFC 7009's
// requirement that revocation of an unknown token still succeeds.
func (s *Service) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed request")
		return
	}
	ctx := r.Context()

	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.Form.Get("client_id")
		clientSecret = r.Form.Get("client_secret")
	}
	if _, err := s.authenticateClient(clientID, clientSecret); err != nil {
		writeTokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	tokenBytes, err := tokenstore.Decode(r.Form.Get("token"))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	record, err := s.Tokens.Get(ctx, tokenBytes, tokenstore.TypeAccessToken)
	if err == nil {
		if derr := s.Sessions.Delete(ctx, record.SessionID); derr != nil {
			logger.Warnw("oidc: revoke failed to destroy session", "session_id", record.SessionID, "error", derr)
		}
	}
	if derr := s.Tokens.Delete(ctx, tokenBytes); derr != nil {
		logger.Warnw("oidc: revoke failed to delete token", "error", derr)
	}

	w.WriteHeader(http.StatusOK)
}

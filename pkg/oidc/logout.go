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
)

// ServeLogout implements GET /openidconnect/logout (spec.md §6.1's
// "End-session"): deletes the root session reachable from the request's
// cookie, which cascades to every child OIDC session and their tokens, and
// clears the cookie.
func (s *Service) ServeLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.Cookies.GetSessionByRequestCookie(ctx, r.Header.Get("Cookie"))
	if err == nil {
		if derr := s.Sessions.Delete(ctx, sess.SessionID); derr != nil {
			logger.Warnw("oidc: logout failed to delete session", "session_id", sess.SessionID, "error", derr)
		}
	}
	if derr := s.Cookies.DeleteCookie(w, ""); derr != nil {
		logger.Warnw("oidc: logout failed to clear cookie", "error", derr)
	}

	redirectURI := r.URL.Query().Get("post_logout_redirect_uri")
	if redirectURI == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, redirectURI, http.StatusFound)
}

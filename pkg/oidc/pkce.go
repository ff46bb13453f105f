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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// verifyPKCE checks a presented code_verifier against the challenge bound
// to an authorization code at mint time (RFC 7636). An unbound code (no
// challenge recorded) accepts any verifier, including none, per spec.md
// §4.1 ("binding PKCE if provided").
func verifyPKCE(method tokenstore.CodeChallengeMethod, challenge, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("oidc: missing code_verifier for PKCE-bound code")
	}

	var computed string
	switch method {
	case tokenstore.ChallengeS256, "":
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case tokenstore.ChallengePlain:
		computed = verifier
	default:
		return fmt.Errorf("oidc: unsupported code_challenge_method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("oidc: code_verifier does not match code_challenge")
	}
	return nil
}

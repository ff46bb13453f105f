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

// Package tokenstore mints, looks up, revokes and expires the opaque token
// family: authorization codes, access tokens, refresh tokens and session
// cookie ids. Token bytes are never persisted in plaintext; only a SHA-256
// digest is stored, and the plaintext is returned to the caller exactly once
// at creation time.
package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/elpablos/seacat-auth/pkg/ssoerrors"
)

// Type enumerates the four opaque token kinds described by the data model.
type Type string

// Token types.
const (
	TypeAuthorizationCode Type = "oac"
	TypeAccessToken       Type = "oat"
	TypeRefreshToken      Type = "ort"
	TypeSessionCookieID   Type = "sci"
)

// CodeChallengeMethod enumerates the PKCE transformation applied to a code
// verifier before comparison against an authorization code's code_challenge.
type CodeChallengeMethod string

// Supported code challenge methods (RFC 7636).
const (
	ChallengePlain CodeChallengeMethod = "plain"
	ChallengeS256  CodeChallengeMethod = "S256"
)

// Record is the metadata stored alongside a token's hash.
type Record struct {
	Type                 Type
	SessionID            string
	ExpiresAt            time.Time
	CodeChallenge        string
	CodeChallengeMethod  CodeChallengeMethod
	SessionIsAlgorithmic bool
}

// Expired reports whether the record's expiry has passed as of now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// CreateOptions carries the optional fields accepted by Store.Create.
type CreateOptions struct {
	CodeChallenge        string
	CodeChallengeMethod  CodeChallengeMethod
	SessionIsAlgorithmic bool
}

// Store is the Token Store component from the specification (§4.1).
type Store interface {
	// Create mints `length` cryptographically random bytes, persists a
	// digest of them bound to sessionID with the given Type and ttl, and
	// returns the plaintext bytes. The plaintext is never retrievable again.
	Create(ctx context.Context, typ Type, length int, sessionID string, ttl time.Duration, opts CreateOptions) ([]byte, error)

	// Get looks up a token by its plaintext bytes. It fails with a
	// ssoerrors.NotFound-kind error if the token is absent, expired, or
	// typed differently than requested. Get does not delete the token.
	Get(ctx context.Context, tokenBytes []byte, expected Type) (*Record, error)

	// Consume performs an atomic get-and-delete, used for authorization
	// codes to guarantee single use (spec.md §9 hardening option, adopted
	// here as the implementation).
	Consume(ctx context.Context, tokenBytes []byte, expected Type) (*Record, error)

	// Delete removes a token unconditionally. Deleting an absent token is
	// not an error.
	Delete(ctx context.Context, tokenBytes []byte) error

	// DeleteBySession removes every token (of any type) bound to sessionID.
	// Called when a session is deleted, cascading token cleanup.
	DeleteBySession(ctx context.Context, sessionID string) error

	// SweepExpired removes expired records in bounded batches, returning the
	// number removed. Memory deletes expired tokens; Redis leaves token keys
	// to their own TTL and prunes stale session-index entries, returning the
	// number of entries pruned. Safe to call repeatedly; idempotent.
	SweepExpired(ctx context.Context, batchSize int) (int, error)
}

// digest returns the one-way hash of token bytes used as the storage key.
// SHA-256 is the stdlib primitive here: the value is a fixed-length content
// digest used purely as a lookup key (not a MAC, no secret key material
// involved), and none of the example repos' dependency set offers a
// general-purpose hashing library that would serve this better than the
// standard library — see DESIGN.md.
func digest(tokenBytes []byte) [32]byte {
	return sha256.Sum256(tokenBytes)
}

func digestHex(tokenBytes []byte) string {
	d := digest(tokenBytes)
	return fmt.Sprintf("%x", d)
}

// randomBytes returns length cryptographically random bytes.
func randomBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("tokenstore: invalid token length %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("tokenstore: generate random bytes: %w", err)
	}
	return b, nil
}

// Encode renders token bytes as the URL-safe string transmitted in
// query parameters, form bodies and JSON token responses.
func Encode(tokenBytes []byte) string {
	return base64.RawURLEncoding.EncodeToString(tokenBytes)
}

// Decode parses a wire-format token string back into its raw bytes.
func Decode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: malformed token encoding: %w", err)
	}
	return b, nil
}

// errNotFound builds the standard not-found error for this package.
func errNotFound(typ Type) error {
	return ssoerrors.New(ssoerrors.KindNotFound, string(typ), fmt.Errorf("token not found"))
}

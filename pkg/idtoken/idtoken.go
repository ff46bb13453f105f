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

// Package idtoken signs OIDC ID Tokens and publishes the signing keys as a
// JWKS document, per spec.md §4.6.
package idtoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/elpablos/seacat-auth/pkg/logger"
)

// Claims are the claims the caller wants minted into an ID Token. Sign always
// adds iss, sub, aud, exp and iat, and adds auth_time, nonce and at_hash only
// when the corresponding field is set.
type Claims struct {
	Subject         string
	Audience        string
	Nonce           string
	AuthTime        time.Time
	AccessTokenHash string
	Extra           map[string]any
}

// Signer signs ID Tokens with ES256 and publishes the corresponding public
// keys as a JWKS. It holds at most two private keys at a time (current and
// previous), so a rotation doesn't immediately invalidate tokens a verifier
// is still validating against a cached JWKS.
type Signer struct {
	mu       sync.RWMutex
	issuer   string
	ttl      time.Duration
	keys     []jwk.Key // keys[0] is current; private keys
	keyOrder []string  // matching kids, same order as keys
}

// NewSigner generates an initial ES256 signing key and returns a Signer for
// the given issuer. ttl bounds how long a minted ID Token is valid for.
func NewSigner(issuer string, ttl time.Duration) (*Signer, error) {
	s := &Signer{issuer: issuer, ttl: ttl}
	if err := s.Rotate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rotate generates a fresh ES256 key pair, makes it current, and retains the
// previous current key (if any) so JWKS consumers can still verify tokens
// signed just before the rotation.
func (s *Signer) Rotate() error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("idtoken: generate key: %w", err)
	}
	key, err := jwk.Import(priv)
	if err != nil {
		return fmt.Errorf("idtoken: import key: %w", err)
	}
	kid := uuid.NewString()
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return fmt.Errorf("idtoken: set kid: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256()); err != nil {
		return fmt.Errorf("idtoken: set alg: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append([]jwk.Key{key}, s.keys...)
	s.keyOrder = append([]string{kid}, s.keyOrder...)
	if len(s.keys) > 2 {
		s.keys = s.keys[:2]
		s.keyOrder = s.keyOrder[:2]
	}
	logger.Infow("id token signing key rotated", "kid", kid)
	return nil
}

// Sign mints and signs a compact-serialized ID Token JWT under the current key.
func (s *Signer) Sign(_ context.Context, claims Claims) (string, error) {
	s.mu.RLock()
	key := s.keys[0]
	kid := s.keyOrder[0]
	s.mu.RUnlock()

	now := time.Now()
	builder := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(claims.Subject).
		Audience([]string{claims.Audience}).
		IssuedAt(now).
		Expiration(now.Add(s.ttl))

	if !claims.AuthTime.IsZero() {
		if err := builder.Claim("auth_time", claims.AuthTime.Unix()); err != nil {
			return "", fmt.Errorf("idtoken: set auth_time: %w", err)
		}
	}
	if claims.Nonce != "" {
		if err := builder.Claim("nonce", claims.Nonce); err != nil {
			return "", fmt.Errorf("idtoken: set nonce: %w", err)
		}
	}
	if claims.AccessTokenHash != "" {
		if err := builder.Claim("at_hash", claims.AccessTokenHash); err != nil {
			return "", fmt.Errorf("idtoken: set at_hash: %w", err)
		}
	}
	for k, v := range claims.Extra {
		if err := builder.Claim(k, v); err != nil {
			return "", fmt.Errorf("idtoken: set claim %q: %w", k, err)
		}
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("idtoken: build token: %w", err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, kid); err != nil {
		return "", fmt.Errorf("idtoken: set header kid: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("idtoken: sign: %w", err)
	}
	return string(signed), nil
}

// JWKS returns a public JWK Set containing every key the Signer currently
// trusts (current plus the previous generation, if any), suitable for
// serving directly at the jwks_uri endpoint (spec.md §6.1).
func (s *Signer) JWKS() (jwk.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := jwk.NewSet()
	for _, priv := range s.keys {
		pub, err := jwk.PublicKeyOf(priv)
		if err != nil {
			return nil, fmt.Errorf("idtoken: derive public key: %w", err)
		}
		if err := set.AddKey(pub); err != nil {
			return nil, fmt.Errorf("idtoken: add key to set: %w", err)
		}
	}
	return set, nil
}

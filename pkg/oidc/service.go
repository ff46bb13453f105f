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

// Package oidc implements the OIDC Authorization Code Flow endpoints:
// authorize, token, revoke, userinfo, jwks and logout (spec.md §4.6-§4.10,
// §6.1).
package oidc

import (
	"time"

	"github.com/elpablos/seacat-auth/pkg/audit"
	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/cookie"
	"github.com/elpablos/seacat-auth/pkg/credentials"
	"github.com/elpablos/seacat-auth/pkg/idtoken"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/tenant"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// Config carries the Authorize/Token/Introspect endpoints' tunables: URLs
// the spec leaves to deployment configuration, and the lengths/TTLs of the
// opaque token family.
type Config struct {
	Issuer string

	// LoginURL is the interactive login UI's base URL (spec.md §4.6's
	// "redirect to login").
	LoginURL string
	// FactorSetupURL is the factor-setup UI's base URL (spec.md §4.7).
	FactorSetupURL string

	// GloballyEnforcedFactors are required of every credential regardless
	// of provider-specific policy (spec.md §4.7).
	GloballyEnforcedFactors []string

	CodeLength         int
	AccessTokenLength  int
	RefreshTokenLength int

	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CodeLength == 0 {
		c.CodeLength = 32
	}
	if c.AccessTokenLength == 0 {
		c.AccessTokenLength = 32
	}
	if c.RefreshTokenLength == 0 {
		c.RefreshTokenLength = 32
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = 60 * time.Second
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 5 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 12 * time.Hour
	}
	return c
}

// Service bundles every collaborator the OIDC endpoints depend on.
type Service struct {
	Config Config

	Sessions    session.Store
	Tokens      tokenstore.Store
	Clients     *client.Registry
	Tenants     *tenant.Resolver
	Credentials *credentials.Facade
	Cookies     *cookie.Service
	Signer      *idtoken.Signer
	Audit       audit.Sink

	// Algorithmic deserializes algorithmic (self-contained, never-persisted)
	// sessions referenced by a token record's SessionIsAlgorithmic flag. Nil
	// in deployments that never mint such sessions.
	Algorithmic *session.Algorithmic

	// OTP backs the UserInfo projector's totp_set claim. Nil disables it.
	OTP OTPChecker
}

// NewService builds a Service, applying Config defaults for any zero-valued
// tunable.
func NewService(cfg Config, sessions session.Store, tokens tokenstore.Store, clients *client.Registry, tenants *tenant.Resolver, creds *credentials.Facade, cookies *cookie.Service, signer *idtoken.Signer, auditSink audit.Sink, algorithmic *session.Algorithmic) *Service {
	return &Service{
		Config:      cfg.withDefaults(),
		Sessions:    sessions,
		Tokens:      tokens,
		Clients:     clients,
		Tenants:     tenants,
		Credentials: creds,
		Cookies:     cookies,
		Signer:      signer,
		Audit:       auditSink,
		Algorithmic: algorithmic,
	}
}

// scopeContains reports whether scope contains entry exactly.
func scopeContains(scope []string, entry string) bool {
	for _, s := range scope {
		if s == entry {
			return true
		}
	}
	return false
}

// scopeSubset reports whether every entry of subset appears in superset.
func scopeSubset(subset, superset []string) bool {
	allowed := make(map[string]struct{}, len(superset))
	for _, s := range superset {
		allowed[s] = struct{}{}
	}
	for _, s := range subset {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/cookie"
	"github.com/elpablos/seacat-auth/pkg/credentials/ldap"
	"github.com/elpablos/seacat-auth/pkg/logger"
)

// Config is the pure, fully-resolved configuration for the authorization
// server. No file/env parsing happens here or anywhere else in library
// code; cmd/seacatauthd is the only place that touches flags/env.
type Config struct {
	// Issuer is the `iss` claim value and the base URL for every endpoint
	// named in spec.md §6.1.
	Issuer string

	// LoginURL is the interactive login UI's base URL (spec.md §4.6).
	LoginURL string
	// FactorSetupURL is the factor-setup UI's base URL (spec.md §4.7).
	FactorSetupURL string
	// GloballyEnforcedFactors are required of every credential regardless
	// of provider-specific policy (spec.md §4.7).
	GloballyEnforcedFactors []string

	// CookieName, RootDomain and Applications configure the Cookie Service
	// (spec.md §4.5).
	CookieName   string
	RootDomain   string
	Applications map[string]cookie.ApplicationDomain

	// Clients is the list of pre-registered OAuth clients.
	Clients []ClientConfig

	// LDAP optionally configures an LDAP-backed credentials provider
	// alongside the always-registered builtin provider. Nil disables it.
	LDAP *ldap.Config

	// Redis, if non-nil, backs the session and token stores with
	// pkg/session.Redis / pkg/tokenstore.Redis instead of their in-memory
	// counterparts, for multi-instance deployments.
	Redis *redis.Client

	// SessionTTL bounds a root or OIDC session's lifetime absent renewal.
	SessionTTL time.Duration
	// CodeTTL, AccessTokenTTL and RefreshTokenTTL bound the opaque token
	// family (spec.md §3's Token data model).
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// IDTokenTTL bounds a minted ID Token's validity. Defaults to
	// AccessTokenTTL if zero.
	IDTokenTTL time.Duration

	// CodeLength, AccessTokenLength and RefreshTokenLength set the opaque
	// token family's random byte lengths.
	CodeLength         int
	AccessTokenLength  int
	RefreshTokenLength int

	// SweepInterval is how often each background sweeper runs. Defaults to
	// pkg/sweep.DefaultInterval.
	SweepInterval time.Duration
	// AuditCapacity bounds the in-process audit sink's retained event
	// count. Zero means unbounded.
	AuditCapacity int
}

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	// ID is the client_id.
	ID string
	// Secret is the plaintext client secret. Hashed with bcrypt before
	// being stored in the registry. Empty for public clients.
	Secret string

	RedirectURIs  []string
	ResponseTypes []string
	GrantTypes    []string
	Scopes        []string

	ApplicationType client.ApplicationType
	// DevBypass lets this client skip exact redirect_uri matching, per
	// spec.md §9's `_disable_redirect_uri_validation` resolution. Never
	// set this for a production client.
	DevBypass bool
}

// Validate checks that the ClientConfig is well-formed.
func (c *ClientConfig) Validate() error {
	logger.Debugw("validating client config", "client_id", c.ID)

	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("client %q: at least one redirect_uri is required", c.ID)
	}
	if len(c.ResponseTypes) == 0 {
		return fmt.Errorf("client %q: at least one response_type is required", c.ID)
	}
	if len(c.GrantTypes) == 0 {
		return fmt.Errorf("client %q: at least one grant_type is required", c.ID)
	}
	return nil
}

// applyDefaults fills in every zero-valued tunable with its default.
func (c *Config) applyDefaults() {
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
	if c.IDTokenTTL == 0 {
		c.IDTokenTTL = c.AccessTokenTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// Validate checks that Config is internally consistent, logging each stage
// the way the teacher's authserver.Config.Validate does.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("cookie name is required")
	}
	if c.RootDomain == "" {
		return fmt.Errorf("root domain is required")
	}
	if c.LoginURL == "" {
		return fmt.Errorf("login URL is required")
	}

	for i := range c.Clients {
		if err := c.Clients[i].Validate(); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
	}

	logger.Debugw("authserver config validation passed",
		"issuer", c.Issuer,
		"client_count", len(c.Clients),
		"ldap_enabled", c.LDAP != nil,
		"redis_backed", c.Redis != nil,
	)
	return nil
}

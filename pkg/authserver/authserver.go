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

// Package authserver wires every component package into a runnable
// authorization server: it builds the session/token stores, the client
// registry, the credentials façade, the tenant resolver, and the Cookie and
// OIDC services, then mounts their HTTP handlers on a net/http.ServeMux.
//
// # Usage
//
//	srv, err := authserver.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	http.ListenAndServe(":8080", srv.Mux)
package authserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/elpablos/seacat-auth/pkg/audit"
	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/cookie"
	"github.com/elpablos/seacat-auth/pkg/credentials"
	"github.com/elpablos/seacat-auth/pkg/credentials/ldap"
	"github.com/elpablos/seacat-auth/pkg/idtoken"
	"github.com/elpablos/seacat-auth/pkg/logger"
	"github.com/elpablos/seacat-auth/pkg/metrics"
	"github.com/elpablos/seacat-auth/pkg/oidc"
	"github.com/elpablos/seacat-auth/pkg/session"
	"github.com/elpablos/seacat-auth/pkg/sweep"
	"github.com/elpablos/seacat-auth/pkg/tenant"
	"github.com/elpablos/seacat-auth/pkg/tokenstore"
)

// Server bundles the fully wired component graph and the HTTP mux it is
// mounted on.
type Server struct {
	Mux *http.ServeMux

	Sessions    session.Store
	Tokens      tokenstore.Store
	Clients     *client.Registry
	Tenants     *tenant.Resolver
	TenantStore tenant.Store
	Credentials *credentials.Facade
	Cookies     *cookie.Service
	OIDC        *oidc.Service
	Audit       audit.Sink
	Metrics     *metrics.Registry

	sweepers []*sweep.Sweeper
}

// New validates cfg, builds every collaborator, mounts the HTTP surface
// named in spec.md §6.1 on a ServeMux, and starts the background sweepers.
// Call Close when done to stop the sweepers.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authserver: invalid config: %w", err)
	}

	tokens, sessions := buildStores(cfg)

	registry, err := buildClientRegistry(cfg.Clients)
	if err != nil {
		return nil, fmt.Errorf("authserver: build client registry: %w", err)
	}

	creds := credentials.NewFacade()
	if err := creds.Register(credentials.NewBuiltinProvider()); err != nil {
		return nil, fmt.Errorf("authserver: register builtin credentials provider: %w", err)
	}
	if cfg.LDAP != nil {
		if err := creds.Register(ldap.NewProvider(*cfg.LDAP)); err != nil {
			return nil, fmt.Errorf("authserver: register LDAP credentials provider: %w", err)
		}
	}

	auditSink := audit.NewMemory(cfg.AuditCapacity)
	tenantStore := tenant.NewMemory()
	tenantResolver := tenant.NewResolver(tenantStore, auditSink)

	cookieSvc, err := cookie.NewService(cookie.Config{
		CookieName:   cfg.CookieName,
		RootDomain:   cfg.RootDomain,
		Applications: cfg.Applications,
	}, sessions, tokens)
	if err != nil {
		return nil, fmt.Errorf("authserver: build cookie service: %w", err)
	}

	signer, err := idtoken.NewSigner(cfg.Issuer, cfg.IDTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("authserver: build id token signer: %w", err)
	}

	metricsReg := metrics.NewRegistry()

	oidcSvc := oidc.NewService(oidc.Config{
		Issuer:                  cfg.Issuer,
		LoginURL:                cfg.LoginURL,
		FactorSetupURL:          cfg.FactorSetupURL,
		GloballyEnforcedFactors: cfg.GloballyEnforcedFactors,
		CodeLength:              cfg.CodeLength,
		AccessTokenLength:       cfg.AccessTokenLength,
		RefreshTokenLength:      cfg.RefreshTokenLength,
		CodeTTL:                 cfg.CodeTTL,
		AccessTokenTTL:          cfg.AccessTokenTTL,
		RefreshTokenTTL:         cfg.RefreshTokenTTL,
		SessionTTL:              cfg.SessionTTL,
	}, sessions, tokens, registry, tenantResolver, creds, cookieSvc, signer, auditSink, nil)

	s := &Server{
		Mux:         http.NewServeMux(),
		Sessions:    sessions,
		Tokens:      tokens,
		Clients:     registry,
		Tenants:     tenantResolver,
		TenantStore: tenantStore,
		Credentials: creds,
		Cookies:     cookieSvc,
		OIDC:        oidcSvc,
		Audit:       auditSink,
		Metrics:     metricsReg,
	}

	s.mountHandlers()
	s.startSweepers(cfg, sessions, tokens)

	return s, nil
}

func buildStores(cfg Config) (tokenstore.Store, session.Store) {
	if cfg.Redis != nil {
		tokens := tokenstore.NewRedis(cfg.Redis)
		sessions := session.NewRedis(cfg.Redis, func(ctx context.Context, sessionID string) {
			if err := tokens.DeleteBySession(ctx, sessionID); err != nil {
				logger.Warnw("authserver: cascade token cleanup failed", "session_id", sessionID, "error", err)
			}
		})
		return tokens, sessions
	}

	tokens := tokenstore.NewMemory()
	sessions := session.NewMemory(func(ctx context.Context, sessionID string) {
		if err := tokens.DeleteBySession(ctx, sessionID); err != nil {
			logger.Warnw("authserver: cascade token cleanup failed", "session_id", sessionID, "error", err)
		}
	})
	return tokens, sessions
}

func buildClientRegistry(clients []ClientConfig) (*client.Registry, error) {
	registry := client.NewRegistry()
	for _, cc := range clients {
		var hashed []byte
		if cc.Secret != "" {
			h, err := client.HashSecret(cc.Secret)
			if err != nil {
				return nil, fmt.Errorf("hash secret for client %q: %w", cc.ID, err)
			}
			hashed = h
		}
		c := client.New(cc.ID, hashed, cc.RedirectURIs, cc.ResponseTypes, cc.GrantTypes, cc.Scopes, cc.ApplicationType)
		c.DevBypass = cc.DevBypass
		registry.Register(c)
	}
	return registry, nil
}

// mountHandlers wires every endpoint named in spec.md §6.1 onto s.Mux.
func (s *Server) mountHandlers() {
	s.Mux.HandleFunc("GET /openidconnect/authorize", s.OIDC.ServeAuthorize)
	s.Mux.HandleFunc("POST /openidconnect/authorize", s.OIDC.ServeAuthorize)
	s.Mux.HandleFunc("POST /openidconnect/token", s.OIDC.ServeToken)
	s.Mux.HandleFunc("POST /openidconnect/token/revoke", s.OIDC.ServeRevoke)
	s.Mux.HandleFunc("GET /openidconnect/userinfo", s.OIDC.ServeUserInfo)
	s.Mux.HandleFunc("GET /openidconnect/public_keys", s.OIDC.ServeJWKS)
	s.Mux.HandleFunc("GET /openidconnect/logout", s.OIDC.ServeLogout)

	cookieHandler := cookie.NewHandler(s.Cookies, nil)
	s.Mux.HandleFunc("POST /cookie/nginx", cookieHandler.ServeNginx)
	s.Mux.HandleFunc("GET /cookie/entry/{domain_id}", func(w http.ResponseWriter, r *http.Request) {
		cookieHandler.ServeEntry(w, r, r.PathValue("domain_id"))
	})

	s.Mux.Handle("GET /metrics", s.Metrics.Handler())
}

// startSweepers launches one sweep.Sweeper per store, per spec.md §5's
// "one ticker per store" resolution.
func (s *Server) startSweepers(cfg Config, sessions session.Store, tokens tokenstore.Store) {
	sessionSweeper := sweep.NewSweeper("sessions", sessions, sweep.WithInterval(cfg.SweepInterval), sweep.WithRecorder(s.Metrics))
	tokenSweeper := sweep.NewSweeper("tokens", tokens, sweep.WithInterval(cfg.SweepInterval), sweep.WithRecorder(s.Metrics))

	ctx := context.Background()
	sessionSweeper.Start(ctx)
	tokenSweeper.Start(ctx)

	s.sweepers = []*sweep.Sweeper{sessionSweeper, tokenSweeper}
}

// Close stops every background sweeper. The HTTP mux and its listener are
// the caller's responsibility.
func (s *Server) Close() {
	for _, sw := range s.sweepers {
		sw.Close()
	}
}

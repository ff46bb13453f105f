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

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elpablos/seacat-auth/pkg/authserver"
	"github.com/elpablos/seacat-auth/pkg/client"
	"github.com/elpablos/seacat-auth/pkg/cookie"
	"github.com/elpablos/seacat-auth/pkg/credentials/ldap"
	"github.com/elpablos/seacat-auth/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the authorization server, mounting the OpenID Connect and cookie
endpoints on --address and serving them until an interrupt or SIGTERM is
received.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "address to listen on")
	serveCmd.Flags().String("issuer", "", "issuer URL, used as the iss claim and endpoint base (required)")
	serveCmd.Flags().String("login-url", "", "interactive login UI base URL (required)")
	serveCmd.Flags().String("factor-setup-url", "", "factor-setup UI base URL")
	serveCmd.Flags().String("cookie-name", "SeaCatSCI", "shared SSO cookie name")
	serveCmd.Flags().String("root-domain", "", "root domain for the SSO portal's own cookie (required)")
	serveCmd.Flags().String("redis-addr", "", "Redis address; empty uses in-memory stores")

	for _, f := range []string{"address", "issuer", "login-url", "factor-setup-url", "cookie-name", "root-domain", "redis-addr"} {
		if err := viper.BindPFlag(f, serveCmd.Flags().Lookup(f)); err != nil {
			logger.Errorw("failed to bind flag", "flag", f, "error", err)
		}
	}
}

// fileClient mirrors authserver.ClientConfig for JSON decoding; the
// application-type enum is carried as a plain string and mapped in
// buildConfig.
type fileClient struct {
	ID              string   `json:"id"`
	Secret          string   `json:"secret"`
	RedirectURIs    []string `json:"redirect_uris"`
	ResponseTypes   []string `json:"response_types"`
	GrantTypes      []string `json:"grant_types"`
	Scopes          []string `json:"scopes"`
	ApplicationType string   `json:"application_type"` // "web" or "native"
	DevBypass       bool     `json:"dev_bypass"`
}

type fileApplicationDomain struct {
	Domain      string `json:"domain"`
	RedirectURI string `json:"redirect_uri"`
}

type fileLDAP struct {
	URI            string `json:"uri"`
	BindDN         string `json:"bind_dn"`
	BindPassword   string `json:"bind_password"`
	BaseDN         string `json:"base_dn"`
	Filter         string `json:"filter"`
	UsernameAttr   string `json:"username_attr"`
	NetworkTimeout string `json:"network_timeout"`
	WorkerPoolSize int    `json:"worker_pool_size"`
}

// fileConfig is the on-disk shape of --config. Every duration is a
// time.ParseDuration string (e.g. "5m"); everything else maps directly onto
// authserver.Config.
type fileConfig struct {
	GloballyEnforcedFactors []string                         `json:"globally_enforced_factors"`
	Applications            map[string]fileApplicationDomain `json:"applications"`
	Clients                 []fileClient                     `json:"clients"`
	LDAP                    *fileLDAP                        `json:"ldap"`

	SessionTTL      string `json:"session_ttl"`
	CodeTTL         string `json:"code_ttl"`
	AccessTokenTTL  string `json:"access_token_ttl"`
	RefreshTokenTTL string `json:"refresh_token_ttl"`
	IDTokenTTL      string `json:"id_token_ttl"`
	SweepInterval   string `json:"sweep_interval"`
	AuditCapacity   int    `json:"audit_capacity"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func buildConfig(fc fileConfig) (authserver.Config, error) {
	cfg := authserver.Config{
		Issuer:                  viper.GetString("issuer"),
		LoginURL:                viper.GetString("login-url"),
		FactorSetupURL:          viper.GetString("factor-setup-url"),
		CookieName:              viper.GetString("cookie-name"),
		RootDomain:              viper.GetString("root-domain"),
		GloballyEnforcedFactors: fc.GloballyEnforcedFactors,
		AuditCapacity:           fc.AuditCapacity,
	}

	var err error
	if cfg.SessionTTL, err = parseDuration(fc.SessionTTL, 0); err != nil {
		return cfg, fmt.Errorf("session_ttl: %w", err)
	}
	if cfg.CodeTTL, err = parseDuration(fc.CodeTTL, 0); err != nil {
		return cfg, fmt.Errorf("code_ttl: %w", err)
	}
	if cfg.AccessTokenTTL, err = parseDuration(fc.AccessTokenTTL, 0); err != nil {
		return cfg, fmt.Errorf("access_token_ttl: %w", err)
	}
	if cfg.RefreshTokenTTL, err = parseDuration(fc.RefreshTokenTTL, 0); err != nil {
		return cfg, fmt.Errorf("refresh_token_ttl: %w", err)
	}
	if cfg.IDTokenTTL, err = parseDuration(fc.IDTokenTTL, 0); err != nil {
		return cfg, fmt.Errorf("id_token_ttl: %w", err)
	}
	if cfg.SweepInterval, err = parseDuration(fc.SweepInterval, 0); err != nil {
		return cfg, fmt.Errorf("sweep_interval: %w", err)
	}

	if len(fc.Applications) > 0 {
		cfg.Applications = make(map[string]cookie.ApplicationDomain, len(fc.Applications))
		for domainID, a := range fc.Applications {
			cfg.Applications[domainID] = cookie.ApplicationDomain{Domain: a.Domain, RedirectURI: a.RedirectURI}
		}
	}

	for _, fcl := range fc.Clients {
		appType := client.ApplicationWeb
		if fcl.ApplicationType == "native" {
			appType = client.ApplicationNative
		}
		cfg.Clients = append(cfg.Clients, authserver.ClientConfig{
			ID:              fcl.ID,
			Secret:          fcl.Secret,
			RedirectURIs:    fcl.RedirectURIs,
			ResponseTypes:   fcl.ResponseTypes,
			GrantTypes:      fcl.GrantTypes,
			Scopes:          fcl.Scopes,
			ApplicationType: appType,
			DevBypass:       fcl.DevBypass,
		})
	}

	if fc.LDAP != nil {
		timeout, err := parseDuration(fc.LDAP.NetworkTimeout, 0)
		if err != nil {
			return cfg, fmt.Errorf("ldap.network_timeout: %w", err)
		}
		cfg.LDAP = &ldap.Config{
			URI:            fc.LDAP.URI,
			BindDN:         fc.LDAP.BindDN,
			BindPassword:   fc.LDAP.BindPassword,
			BaseDN:         fc.LDAP.BaseDN,
			Filter:         fc.LDAP.Filter,
			UsernameAttr:   fc.LDAP.UsernameAttr,
			NetworkTimeout: timeout,
			WorkerPoolSize: fc.LDAP.WorkerPoolSize,
		}
	}

	if addr := viper.GetString("redis-addr"); addr != "" {
		cfg.Redis = redis.NewClient(&redis.Options{Addr: addr})
	}

	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	fc, err := loadFileConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	cfg, err := buildConfig(fc)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	srv, err := authserver.New(cfg)
	if err != nil {
		return fmt.Errorf("build authorization server: %w", err)
	}
	defer srv.Close()

	address := viper.GetString("address")
	httpServer := &http.Server{
		Addr:         address,
		Handler:      srv.Mux,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("seacatauthd: listening", "address", address, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	logger.Info("seacatauthd: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return err
	}

	logger.Info("seacatauthd: shutdown complete")
	return nil
}

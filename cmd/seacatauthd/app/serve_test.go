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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elpablos/seacat-auth/pkg/client"
)

func resetFlagViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.Set("issuer", "https://auth.example.test")
	viper.Set("login-url", "https://auth.example.test/login")
	viper.Set("cookie-name", "SeaCatSCI")
	viper.Set("root-domain", "auth.example.test")
	t.Cleanup(viper.Reset)
}

func TestLoadFileConfigEmptyPathReturnsZeroValue(t *testing.T) {
	t.Parallel()
	fc, err := loadFileConfig("")
	require.NoError(t, err)
	assert.Empty(t, fc.Clients)
}

func TestLoadFileConfigParsesClientsAndDurations(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"globally_enforced_factors": ["totp"],
		"clients": [{
			"id": "webapp",
			"secret": "s3cr3t",
			"redirect_uris": ["https://app.example.test/cb"],
			"response_types": ["code"],
			"grant_types": ["authorization_code", "refresh_token"],
			"scopes": ["openid", "profile"],
			"application_type": "native",
			"dev_bypass": true
		}],
		"access_token_ttl": "5m",
		"sweep_interval": "30s"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	fc, err := loadFileConfig(path)
	require.NoError(t, err)
	require.Len(t, fc.Clients, 1)
	assert.Equal(t, "webapp", fc.Clients[0].ID)
	assert.Equal(t, "native", fc.Clients[0].ApplicationType)
	assert.Equal(t, "5m", fc.AccessTokenTTL)
	assert.Equal(t, []string{"totp"}, fc.GloballyEnforcedFactors)
}

func TestLoadFileConfigRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := loadFileConfig(path)
	assert.Error(t, err)
}

func TestBuildConfigAppliesFlagsAndFileClients(t *testing.T) {
	resetFlagViper(t)

	fc := fileConfig{
		Clients: []fileClient{{
			ID:              "webapp",
			Secret:          "s3cr3t",
			RedirectURIs:    []string{"https://app.example.test/cb"},
			ResponseTypes:   []string{"code"},
			GrantTypes:      []string{"authorization_code"},
			Scopes:          []string{"openid"},
			ApplicationType: "web",
		}},
		AccessTokenTTL: "5m",
	}

	cfg, err := buildConfig(fc)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.test", cfg.Issuer)
	assert.Equal(t, "auth.example.test", cfg.RootDomain)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, client.ApplicationWeb, cfg.Clients[0].ApplicationType)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Nil(t, cfg.Redis)
}

func TestBuildConfigNativeApplicationType(t *testing.T) {
	resetFlagViper(t)

	fc := fileConfig{Clients: []fileClient{{ID: "cli", ApplicationType: "native"}}}
	cfg, err := buildConfig(fc)
	require.NoError(t, err)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, client.ApplicationNative, cfg.Clients[0].ApplicationType)
}

func TestBuildConfigRejectsInvalidDuration(t *testing.T) {
	resetFlagViper(t)

	fc := fileConfig{AccessTokenTTL: "not-a-duration"}
	_, err := buildConfig(fc)
	assert.Error(t, err)
}

func TestBuildConfigWiresRedisWhenAddrSet(t *testing.T) {
	resetFlagViper(t)
	viper.Set("redis-addr", "127.0.0.1:6379")

	cfg, err := buildConfig(fileConfig{})
	require.NoError(t, err)
	assert.NotNil(t, cfg.Redis)
}

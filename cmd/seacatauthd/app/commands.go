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

// Package app provides the entry point for the seacatauthd command-line
// application.
package app

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elpablos/seacat-auth/pkg/logger"
)

// NewRootCmd creates the root command for the seacatauthd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "seacatauthd",
		DisableAutoGenTag: true,
		Short:             "seacatauthd is an OpenID Connect 1.0 authorization server",
		Long: `seacatauthd runs the authorize, token, userinfo, introspection and
cookie-exchange endpoints of an OpenID Connect 1.0 Authorization Code Flow
identity provider, backed by either in-memory or Redis-backed session and
token stores.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			initLogger()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	rootCmd.PersistentFlags().String("config", "", "path to a JSON server config file")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorw("error binding flag", "flag", "debug", "error", err)
	}
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorw("error binding flag", "flag", "config", "error", err)
	}

	viper.SetEnvPrefix("seacatauthd")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	rootCmd.SilenceUsage = true

	return rootCmd
}

// initLogger swaps pkg/logger's singleton for one honoring --debug.
func initLogger() {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("debug") {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	logger.SetLogger(l.Sugar())
}

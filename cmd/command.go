// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/zaptus/pkg/env"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zaptus",
	Short: "zaptus - a tus resumable upload server",
	Long: `zaptus implements the server side of the tus 1.0.0 resumable upload protocol.
Uploads can be created, resumed after disconnects, verified with checksums,
concatenated from parallel parts and expired automatically.`,
	PersistentPreRun: initializeEnv,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", "", "Directory searched first for zaptus.{toml,yaml,json}")
}

func initializeEnv(cmd *cobra.Command, args []string) {
	file, err := utils.LoadConfiguration("zaptus", false)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	current, err := env.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring ENV")
	}
	if current == env.Local {
		logger.SetConsole()
	}

	// LOG_LEVEL is applied at startup; a config file may still override it
	if raw := viper.GetString("log_level"); raw != "" {
		level, err := zerolog.ParseLevel(raw)
		if err != nil {
			logger.Warn().Err(err).Str("log_level", raw).Msg("invalid log level")
		} else {
			logger.SetLevel(level)
		}
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("env", current)
	})

	if file != "" {
		logger.Info().Str("file", file).Msg("loaded configuration")
	}
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

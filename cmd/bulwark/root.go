// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bulwark-dev/bulwark/internal/config"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// NewRootCmd creates the root bulwark command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bulwark",
		Short:         "Bulwark — multi-provider resilience orchestrator",
		Long:          "Bulwark keeps service classes available across redundant providers with circuit breaking, health probing, caching, and offline queueing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags — these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newResetCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return bulwarkerr.Errorf(bulwarkerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover bulwark.yaml from standard locations. No config
		// file is fine, defaults and env vars still apply. Parse or
		// permission errors must surface.
		v.SetConfigName("bulwark")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bulwark")
		v.AddConfigPath("/etc/bulwark")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return bulwarkerr.Errorf(bulwarkerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	// Bind persistent flags to viper keys.
	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return bulwarkerr.Errorf(bulwarkerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return bulwarkerr.Errorf(bulwarkerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

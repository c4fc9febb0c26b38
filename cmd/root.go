// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd implements the CLI surface: run-locally, submit-to-cluster,
// status, steps, run-info, render, fix-problems, and volatilize.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uap-go/uap/internal/build"
)

// sharedFlags mirror the flags every subcommand accepts (spec.md §6
// "shared flags").
type sharedFlags struct {
	configPath    string
	verbose       bool
	debugging     bool
	profiling     bool
	noToolChecks  bool
	evenIfDirty   bool
}

var flags sharedFlags

var rootCmd = &cobra.Command{
	Use:     build.Slug,
	Short:   "Bioinformatics workflow engine: DAGs of steps, runs, and pipelines of OS-piped commands.",
	Version: build.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "pipeline configuration file (required)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.debugging, "debugging", false, "keep timestamped debug copies of bad pings")
	rootCmd.PersistentFlags().BoolVar(&flags.profiling, "profiling", false, "accepted for compatibility; has no effect")
	rootCmd.PersistentFlags().BoolVar(&flags.noToolChecks, "no-tool-checks", false, "skip required-tool resolution against the tools table")
	rootCmd.PersistentFlags().BoolVar(&flags.evenIfDirty, "even-if-dirty", false, "accepted for compatibility; has no effect (no dirty-directory check is made)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(runLocallyCmd())
	rootCmd.AddCommand(submitToClusterCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stepsCmd())
	rootCmd.AddCommand(runInfoCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(fixProblemsCmd())
	rootCmd.AddCommand(volatilizeCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command. Called from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func requireConfigPath() error {
	if flags.configPath == "" {
		return fmt.Errorf("--config is required")
	}
	return nil
}

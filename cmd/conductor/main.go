// Copyright 2025 Tom Barlow
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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcflow/conductor/internal/log"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var configPath string
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:           "conductor",
		Short:         "Conductor orchestrates agent flows against portal-scoped repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "conductor.yaml", "path to the conductor config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	rootCmd.AddCommand(newRunCommand(&configPath, &logLevel, &logFormat))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newJournalCommand(&configPath, &logLevel, &logFormat))
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("conductor %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func buildLogger(level, format string) *slog.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = level
	if format == "text" {
		cfg.Format = log.FormatText
	}
	return log.New(cfg)
}

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
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcflow/conductor/pkg/config"
	"github.com/arcflow/conductor/pkg/journal"
)

func newJournalCommand(configPath, logLevel, logFormat *string) *cobra.Command {
	var traceID string
	var limit int

	journalCmd := &cobra.Command{Use: "journal", Short: "Inspect the activity journal"}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print recent activity journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(*logLevel, *logFormat)

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			j, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Logger: logger})
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Query(context.Background(), traceID, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				b, err := json.Marshal(e)
				if err != nil {
					return err
				}
				fmt.Println(string(b))
			}
			return nil
		},
	}
	tailCmd.Flags().StringVar(&traceID, "trace-id", "", "filter by trace ID")
	tailCmd.Flags().IntVar(&limit, "limit", 50, "max entries to print")

	journalCmd.AddCommand(tailCmd)
	return journalCmd
}

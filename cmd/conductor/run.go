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
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arcflow/conductor/pkg/blueprint"
	"github.com/arcflow/conductor/pkg/config"
	"github.com/arcflow/conductor/pkg/criteria"
	"github.com/arcflow/conductor/pkg/executor"
	"github.com/arcflow/conductor/pkg/flow"
	"github.com/arcflow/conductor/pkg/gate"
	"github.com/arcflow/conductor/pkg/journal"
	"github.com/arcflow/conductor/pkg/judge"
	"github.com/arcflow/conductor/pkg/llm"
	"github.com/arcflow/conductor/pkg/observability"
	"github.com/arcflow/conductor/pkg/router"
)

func newRunCommand(configPath, logLevel, logFormat *string) *cobra.Command {
	var flowID, agentID, portalAlias, request, metricsAddr string
	var trace bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Route and execute a request against a flow or agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(*logLevel, *logFormat)

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Warn("metrics server stopped", "error", err)
					}
				}()
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			j, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Logger: logger})
			if err != nil {
				return err
			}
			defer j.Close()

			portals := cfg.PortalRegistry()
			blueprints := blueprint.NewStore(cfg.BlueprintsDir)

			flows, err := flow.LoadDir(cfg.FlowsDir)
			if err != nil {
				return err
			}

			r := router.New(cfg.DefaultAgent, flows.Exists, j, logger)
			decision, err := r.Route(router.Request{TraceID: uuid.NewString(), FlowID: flowID, AgentID: agentID})
			if err != nil {
				return err
			}

			traceID := uuid.NewString()

			// No concrete provider ships with this module (spec §1); without
			// one configured, executions synthesize their deterministic
			// fallback result rather than calling out to a backend.
			var provider llm.Provider

			ex := executor.New(portals, blueprints, j, provider, logger).WithSecretMasker(cfg.SecretMasker())

			var tp observability.TracerProvider
			if trace {
				tp, err = observability.NewStdoutTracerProvider("conductor")
				if err != nil {
					return err
				}
				defer tp.Shutdown(context.Background())
				ex.WithTracer(tp)
			}

			switch decision.Kind {
			case router.KindAgent:
				result, err := ex.ExecuteStep(context.Background(), executor.Context{
					TraceID:     traceID,
					RequestID:   traceID,
					Portal:      portalAlias,
					AgentID:     decision.AgentID,
					UserRequest: request,
				}, executor.Options{})
				if err != nil {
					return err
				}
				fmt.Printf("branch=%s commit=%s files=%v\n%s\n", result.Branch, result.CommitSHA, result.FilesChanged, result.Description)
				return nil

			case router.KindFlow:
				f := flows.Get(decision.FlowID)
				criteriaRegistry := criteria.NewRegistry()
				j2 := judge.New(provider, logger).WithRateLimit(5, 5)
				g := gate.New(criteriaRegistry, j2, logger)
				runner := flow.New(ex, g, j, logger)
				if tp != nil {
					runner.WithTracer(tp)
				}

				result, err := runner.Run(context.Background(), *f, traceID, portalAlias, request)
				if err != nil {
					return err
				}
				fmt.Println(result.Output)
				if !result.Success {
					return fmt.Errorf("flow %s did not complete successfully", f.ID)
				}
				return nil
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow", "", "flow ID to run")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID to run directly")
	cmd.Flags().StringVar(&portalAlias, "portal", "", "portal alias to execute within")
	cmd.Flags().StringVar(&request, "request", "", "the user request text")
	cmd.Flags().BoolVar(&trace, "trace", false, "export execution spans to stdout via OpenTelemetry")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

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

// Package gate implements the Gate Evaluator: applies a threshold and
// required-criteria policy to a Judge verdict and decides pass, retry,
// halt, or continue-with-warning.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcflow/conductor/pkg/criteria"
	"github.com/arcflow/conductor/pkg/judge"
)

// OnFail is the policy applied when a gate fails.
type OnFail string

const (
	OnFailRetry                  OnFail = "retry"
	OnFailHalt                   OnFail = "halt"
	OnFailContinueWithWarning    OnFail = "continue-with-warning"
)

// Action is the outcome of a single Evaluate call.
type Action string

const (
	ActionPassed                Action = "passed"
	ActionRetry                 Action = "retry"
	ActionHalted                Action = "halted"
	ActionContinuedWithWarning  Action = "continued-with-warning"
)

// Config mirrors the spec's GateConfig.
type Config struct {
	Criteria   []string `yaml:"criteria,omitempty"`
	Threshold  float64  `yaml:"threshold,omitempty"`
	OnFail     OnFail   `yaml:"on_fail,omitempty"`
	MaxRetries int      `yaml:"max_retries,omitempty"`
}

const defaultThreshold = 0.8
const defaultMaxRetries = 1

// Result mirrors the spec's GateResult.
type Result struct {
	Passed     bool
	Score      float64
	Evaluation *judge.EvaluationResult
	Attempts   int
	Action     Action
	DurationMs int64
	Error      error
}

// Evaluator applies gate policy on top of a Judge Evaluator.
type Evaluator struct {
	registry *criteria.Registry
	judge    *judge.Evaluator
	logger   *slog.Logger
}

// New builds an Evaluator.
func New(registry *criteria.Registry, j *judge.Evaluator, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{registry: registry, judge: j, logger: logger}
}

// Evaluate runs content through the judge and applies gate policy. Judge
// provider errors never propagate: they degrade to a zero-score result
// with action halted (or continued-with-warning per policy).
func (e *Evaluator) Evaluate(ctx context.Context, config Config, content string, evalContext string, previousAttempts int) *Result {
	start := time.Now()

	threshold := config.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	onFail := config.OnFail
	if onFail == "" {
		onFail = OnFailHalt
	}

	resolved := e.registry.GetByNames(config.Criteria)

	evaluation, err := e.judge.Evaluate(ctx, content, resolved, evalContext)
	attempts := previousAttempts + 1
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		e.logger.Error("gate judge provider error", "error", err)
		action := ActionHalted
		if onFail == OnFailContinueWithWarning {
			action = ActionContinuedWithWarning
		}
		recordEvaluation(action, durationMs, 0)
		return &Result{
			Passed:     false,
			Score:      0,
			Attempts:   attempts,
			Action:     action,
			DurationMs: durationMs,
			Error:      err,
		}
	}

	scores := make(map[string]float64, len(evaluation.CriteriaScores))
	for name, cr := range evaluation.CriteriaScores {
		scores[name] = cr.Score
	}

	passed := evaluation.OverallScore >= threshold &&
		criteria.CheckRequired(scores, resolved, threshold) &&
		evaluation.Pass

	action := ActionPassed
	if !passed {
		switch {
		case onFail == OnFailRetry && previousAttempts < maxRetries-1:
			action = ActionRetry
		case onFail == OnFailContinueWithWarning:
			action = ActionContinuedWithWarning
		default:
			action = ActionHalted
		}
	}

	recordEvaluation(action, durationMs, evaluation.OverallScore)

	return &Result{
		Passed:     passed,
		Score:      evaluation.OverallScore,
		Evaluation: evaluation,
		Attempts:   attempts,
		Action:     action,
		DurationMs: durationMs,
	}
}

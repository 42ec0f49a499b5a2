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

// Package feedback implements the Feedback Loop (Reflexion pattern): an
// iterative generate-evaluate-improve controller that alternates
// evaluation and improvement until a target score is reached, the
// iteration budget is exhausted, score degrades, or improvement stalls.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arcflow/conductor/pkg/gate"
)

// StopReason is why a Feedback Loop run terminated.
type StopReason string

const (
	StopTargetReached StopReason = "target-reached"
	StopScoreDegraded StopReason = "score-degraded"
	StopNoImprovement StopReason = "no-improvement"
	StopError         StopReason = "error"
	StopMaxIterations StopReason = "max-iterations"
)

// Improver produces improved content from the original request, the
// current content, accumulated feedback, and the iteration number.
type Improver interface {
	Improve(ctx context.Context, originalRequest, currentContent, feedback string, iteration int) (string, error)
}

// IterationResult records one pass through the loop.
type IterationResult struct {
	Iteration  int
	Content    string
	GateResult *gate.Result
	Improvement float64
	Duration   time.Duration
}

// Result is the terminal outcome of a Run call, per spec §13's adopted
// convention: TotalIterations always equals len(History), including the
// iteration that degraded or stalled, on both success and failure paths.
type Result struct {
	Success         bool
	FinalContent    string
	FinalScore      float64
	StopReason      StopReason
	TotalIterations int
	History         []IterationResult
}

// Options configures a Run.
type Options struct {
	TargetScore     float64
	MaxIterations   int
	MinImprovement  float64
	GateConfig      gate.Config
	EvalContext     string
}

// Loop runs the Reflexion controller. Iterations execute strictly
// sequentially (spec §5).
type Loop struct {
	gate     *gate.Evaluator
	improver Improver
	logger   *slog.Logger
}

// New builds a Loop.
func New(gateEvaluator *gate.Evaluator, improver Improver, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{gate: gateEvaluator, improver: improver, logger: logger}
}

// Run executes the loop against originalRequest/initialContent until one
// of the five termination rules fires. After each evaluation rules 1-3 are
// checked, then rule 5 (max iterations); rule 4 (improver error) applies
// only when the improve call runs, so the last iteration never calls it.
func (l *Loop) Run(ctx context.Context, originalRequest, initialContent string, opts Options) *Result {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}

	currentContent := initialContent
	previousScore := 0.0
	previousContent := initialContent
	var history []IterationResult

	opts.GateConfig.Threshold = opts.TargetScore

	for iteration := 1; ; iteration++ {
		start := time.Now()
		gateResult := l.gate.Evaluate(ctx, opts.GateConfig, currentContent, opts.EvalContext, 0)
		improvement := gateResult.Score - previousScore
		duration := time.Since(start)

		iterResult := IterationResult{
			Iteration:   iteration,
			Content:     currentContent,
			GateResult:  gateResult,
			Improvement: improvement,
			Duration:    duration,
		}
		history = append(history, iterResult)

		// Rule 1: passed.
		if gateResult.Passed {
			return &Result{
				Success:         true,
				FinalContent:    currentContent,
				FinalScore:      gateResult.Score,
				StopReason:      StopTargetReached,
				TotalIterations: len(history),
				History:         history,
			}
		}

		// Rule 2: score degraded.
		if iteration > 1 && improvement < 0 {
			return &Result{
				Success:         false,
				FinalContent:    previousContent,
				FinalScore:      previousScore,
				StopReason:      StopScoreDegraded,
				TotalIterations: len(history),
				History:         history,
			}
		}

		// Rule 3: improvement stalled.
		if iteration > 1 && improvement < opts.MinImprovement {
			return &Result{
				Success:         false,
				FinalContent:    currentContent,
				FinalScore:      gateResult.Score,
				StopReason:      StopNoImprovement,
				TotalIterations: len(history),
				History:         history,
			}
		}

		// Rule 5: max iterations (checked before the improve call since
		// there is no point improving content we will not re-evaluate).
		if iteration == opts.MaxIterations {
			return &Result{
				Success:         false,
				FinalContent:    currentContent,
				FinalScore:      gateResult.Score,
				StopReason:      StopMaxIterations,
				TotalIterations: len(history),
				History:         history,
			}
		}

		previousScore = gateResult.Score
		previousContent = currentContent

		feedbackText := composeFeedback(gateResult, opts.TargetScore)
		improved, err := l.improver.Improve(ctx, originalRequest, currentContent, feedbackText, iteration)
		if err != nil {
			// Rule 4: Improvement Agent raised.
			return &Result{
				Success:         false,
				FinalContent:    currentContent,
				FinalScore:      gateResult.Score,
				StopReason:      StopError,
				TotalIterations: len(history),
				History:         history,
			}
		}

		currentContent = improved
	}
}

// composeFeedback builds the human-readable string that is the sole
// channel from judge to improver: current/target scores, a ✓/✗ glyph per
// criterion with its reasoning and issues, and the suggestions list.
func composeFeedback(result *gate.Result, targetScore float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current score: %.2f (target: %.2f)\n\n", result.Score, targetScore)

	if result.Evaluation != nil {
		for name, cr := range result.Evaluation.CriteriaScores {
			glyph := "✗"
			if cr.Passed {
				glyph = "✓"
			}
			fmt.Fprintf(&b, "%s %s: %.2f\n", glyph, name, cr.Score)
			if cr.Reasoning != "" {
				fmt.Fprintf(&b, "  %s\n", cr.Reasoning)
			}
			for _, issue := range cr.Issues {
				fmt.Fprintf(&b, "  - %s\n", issue)
			}
		}

		if len(result.Evaluation.Suggestions) > 0 {
			b.WriteString("\nSuggestions:\n")
			for _, s := range result.Evaluation.Suggestions {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
	}

	return b.String()
}

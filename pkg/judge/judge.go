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

// Package judge implements the Judge Evaluator: it turns a free-text
// judge-agent response into a validated, normalized EvaluationResult.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arcflow/conductor/pkg/criteria"
	"github.com/arcflow/conductor/pkg/llm"
)

// CriterionResult is one criterion's normalized score within an
// EvaluationResult.
type CriterionResult struct {
	Score     float64
	Reasoning string
	Issues    []string
	Passed    bool
}

// EvaluationResult is the judge's validated, normalized verdict.
type EvaluationResult struct {
	OverallScore   float64
	CriteriaScores map[string]CriterionResult
	Pass           bool
	Feedback       string
	Suggestions    []string
	EvaluatedAt    time.Time
}

// defaultPassThreshold is the judge's own notion of pass, independent of
// the Gate Evaluator's threshold/required-criteria policy which always
// recomputes the final verdict.
const defaultPassThreshold = 0.7

// Evaluator prompts a judge agent and parses its structured verdict.
type Evaluator struct {
	provider llm.Provider
	logger   *slog.Logger
	limiter  *rate.Limiter // nil means unlimited
}

// New builds an Evaluator backed by provider.
func New(provider llm.Provider, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{provider: provider, logger: logger}
}

// WithRateLimit caps the rate of judge-agent invocations, so a flow with
// many gate retries doesn't hammer a local model server. ratePerSecond
// is the sustained rate; burst is the largest immediate batch allowed.
func (e *Evaluator) WithRateLimit(ratePerSecond float64, burst int) *Evaluator {
	e.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return e
}

// Evaluate prompts the judge for content against criteria and returns a
// normalized EvaluationResult. It never returns a parse error to the
// caller — malformed judge output degrades through heuristic extraction.
func (e *Evaluator) Evaluate(ctx context.Context, content string, criteriaList []criteria.Criterion, evalContext string) (*EvaluationResult, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	prompt := buildPrompt(content, criteriaList, evalContext)

	raw, err := e.provider.Generate(ctx, prompt, llm.GenerateOptions{})
	if err != nil {
		return nil, err
	}

	parsed, reasoningByName := parseJudgeResponse(raw, criteriaList)
	return normalize(parsed, reasoningByName, criteriaList), nil
}

func buildPrompt(content string, criteriaList []criteria.Criterion, evalContext string) string {
	var b strings.Builder
	b.WriteString("Evaluate the following content against the listed criteria.\n\n")
	b.WriteString("Content to evaluate:\n")
	b.WriteString(content)
	b.WriteString("\n\nCriteria:\n")
	for _, c := range criteriaList {
		fmt.Fprintf(&b, "- %s: %s (weight=%.2f, required=%v)\n", c.Name, c.Description, c.Weight, c.Required)
	}
	if evalContext != "" {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(evalContext)
	}
	b.WriteString("\n\nRespond with a JSON object mapping each criterion name to an object with \"score\" (0-1), \"reasoning\", and \"issues\" (list of strings). Also include \"feedback\" and \"suggestions\" (list of strings) fields.\n")
	return b.String()
}

// parsedVerdict is the loosely-typed shape we accept out of JSON.
type parsedVerdict map[string]interface{}

// parseJudgeResponse implements the three-stage extraction strategy from
// spec §4.5 and §9: fenced block → first-brace span → heuristic regex.
// It never errors; on total failure it returns an empty verdict so
// normalize() fills every criterion with the "not found" default.
func parseJudgeResponse(raw string, criteriaList []criteria.Criterion) (parsedVerdict, map[string]string) {
	candidate := extractFencedJSON(raw)
	if candidate == "" {
		candidate = extractBraceSpan(raw)
	}

	if candidate != "" {
		if v, ok := tryParseJSON(candidate); ok {
			return v, nil
		}
		repaired := repairJSON(candidate)
		if v, ok := tryParseJSON(repaired); ok {
			return v, nil
		}
	}

	return heuristicExtract(raw, criteriaList)
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

func extractFencedJSON(raw string) string {
	m := fencedBlockRe.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractBraceSpan returns the first balanced-ish {...} span: from the
// first '{' to the matching closing '}' counting nesting depth.
func extractBraceSpan(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

var (
	trailingCommaRe  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe    = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	singleQuotedRe   = regexp.MustCompile(`'([^']*)'`)
)

// repairJSON applies the three textual repairs named in spec §4.5 step 2.
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = singleQuotedRe.ReplaceAllString(s, `"$1"`)
	return s
}

// heuristicNameNumberRe matches "name: 0.8", "name - 80%", etc.
func heuristicNameNumberRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `[: -]+([0-9]+(?:\.[0-9]+)?)(%?)`)
}

// reasoningSentenceRe pulls one sentence of reasoning following the name.
func reasoningSentenceRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `[^.]*\.\s*([^.]+\.)`)
}

// heuristicExtract is the last-resort fallback: for each criterion name,
// scan raw for "name[: -]+number" and take the first match, plus a
// best-effort one-sentence reasoning extraction (never used to flip
// Passed — see normalize()).
func heuristicExtract(raw string, criteriaList []criteria.Criterion) (parsedVerdict, map[string]string) {
	verdict := parsedVerdict{}
	reasoning := map[string]string{}

	for _, c := range criteriaList {
		if m := heuristicNameNumberRe(c.Name).FindStringSubmatch(raw); m != nil {
			n, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				if m[2] == "%" && n <= 100 {
					n = n / 100
				}
				verdict[c.Name] = n
			}
		}
		if m := reasoningSentenceRe(c.Name).FindStringSubmatch(raw); m != nil {
			reasoning[c.Name] = strings.TrimSpace(m[1])
		}
	}

	return verdict, reasoning
}

func tryParseJSON(s string) (parsedVerdict, bool) {
	v, err := decodeJSONObject(s)
	if err != nil {
		return nil, false
	}
	return v, true
}

// normalize converts the loosely-typed parsed verdict into the final
// EvaluationResult: numeric >1 treated as a percentage, clamped to
// [0,1]; absent criteria default to score 0 / passed false / a standard
// issue; overall_score is always recomputed as the mean, never trusted
// from the judge's own output.
func normalize(parsed parsedVerdict, heuristicReasoning map[string]string, criteriaList []criteria.Criterion) *EvaluationResult {
	scores := make(map[string]CriterionResult, len(criteriaList))

	var sum float64
	for _, c := range criteriaList {
		raw, present := parsed[c.Name]
		if !present {
			scores[c.Name] = CriterionResult{
				Score:  0,
				Passed: false,
				Issues: []string{"Criterion score not found in response"},
			}
			continue
		}

		score := normalizeValue(raw)
		threshold := c.Threshold
		if threshold <= 0 {
			threshold = 0.7
		}

		result := CriterionResult{Score: score, Passed: score >= threshold}
		if obj, ok := raw.(map[string]interface{}); ok {
			if reasoning, ok := obj["reasoning"].(string); ok {
				result.Reasoning = reasoning
			}
			if issues, ok := obj["issues"].([]interface{}); ok {
				for _, iss := range issues {
					if s, ok := iss.(string); ok {
						result.Issues = append(result.Issues, s)
					}
				}
			}
		}
		if result.Reasoning == "" {
			if r, ok := heuristicReasoning[c.Name]; ok {
				result.Reasoning = r
			}
		}

		scores[c.Name] = result
		sum += score
	}

	var overall float64
	if len(criteriaList) > 0 {
		overall = sum / float64(len(criteriaList))
	}

	feedback, _ := parsed["feedback"].(string)
	var suggestions []string
	if rawSuggestions, ok := parsed["suggestions"].([]interface{}); ok {
		for _, s := range rawSuggestions {
			if str, ok := s.(string); ok {
				suggestions = append(suggestions, str)
			}
		}
	}

	return &EvaluationResult{
		OverallScore:   clamp01(overall),
		CriteriaScores: scores,
		Pass:           overall >= defaultPassThreshold,
		Feedback:       feedback,
		Suggestions:    suggestions,
		EvaluatedAt:    time.Now().UTC(),
	}
}

// normalizeValue implements spec §8: clamp(n>1 ? n/100 : n, 0, 1); a
// criterion's raw value may be the bare number or an object with "score".
func normalizeValue(v interface{}) float64 {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeValue(val["score"])
	case float64:
		return normalizeNumber(val)
	case int:
		return normalizeNumber(float64(val))
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0
		}
		return normalizeNumber(n)
	default:
		return 0
	}
}

func normalizeNumber(n float64) float64 {
	if n > 1 {
		n = n / 100
	}
	return clamp01(n)
}

func clamp01(n float64) float64 {
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

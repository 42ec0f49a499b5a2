package judge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/criteria"
	"github.com/arcflow/conductor/pkg/judge"
	"github.com/arcflow/conductor/pkg/llm"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return f.response, f.err
}

func TestEvaluateFencedJSON(t *testing.T) {
	provider := &fakeProvider{response: "```json\n{\"correctness\": {\"score\": 0.95, \"reasoning\": \"solid\"}}\n```"}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "correctness", Weight: 1}}, "")
	require.NoError(t, err)
	require.InDelta(t, 0.95, result.OverallScore, 0.001)
	require.True(t, result.CriteriaScores["correctness"].Passed)
}

func TestEvaluateRepairsTrailingComma(t *testing.T) {
	provider := &fakeProvider{response: `{"correctness": 90, }`}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "correctness", Weight: 1}}, "")
	require.NoError(t, err)
	require.InDelta(t, 0.9, result.OverallScore, 0.001)
}

func TestEvaluateRepairsUnquotedKeysAndSingleQuotes(t *testing.T) {
	provider := &fakeProvider{response: `{correctness: '0.8'}`}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "correctness", Weight: 1}}, "")
	require.NoError(t, err)
	require.InDelta(t, 0.8, result.OverallScore, 0.001)
}

func TestEvaluateHeuristicFallback(t *testing.T) {
	provider := &fakeProvider{response: "The correctness: 85% rating reflects solid work. Some concerns remain."}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "correctness", Weight: 1}}, "")
	require.NoError(t, err)
	require.InDelta(t, 0.85, result.OverallScore, 0.001)
}

func TestEvaluateMissingCriterionDefaultsToZero(t *testing.T) {
	provider := &fakeProvider{response: `{"other": 1}`}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "correctness", Weight: 1}}, "")
	require.NoError(t, err)
	require.Equal(t, 0.0, result.CriteriaScores["correctness"].Score)
	require.False(t, result.CriteriaScores["correctness"].Passed)
	require.Contains(t, result.CriteriaScores["correctness"].Issues, "Criterion score not found in response")
}

func TestNormalizeScoreClampAndPercentage(t *testing.T) {
	provider := &fakeProvider{response: `{"a": 150, "b": -0.5, "c": 95}`}
	ev := judge.New(provider, nil)

	result, err := ev.Evaluate(context.Background(), "content", []criteria.Criterion{{Name: "a"}, {Name: "b"}, {Name: "c"}}, "")
	require.NoError(t, err)
	require.Equal(t, 1.0, result.CriteriaScores["a"].Score)
	require.Equal(t, 0.0, result.CriteriaScores["b"].Score)
	require.InDelta(t, 0.95, result.CriteriaScores["c"].Score, 0.001)
}

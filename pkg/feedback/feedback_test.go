package feedback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/criteria"
	"github.com/arcflow/conductor/pkg/feedback"
	"github.com/arcflow/conductor/pkg/gate"
	"github.com/arcflow/conductor/pkg/judge"
	"github.com/arcflow/conductor/pkg/llm"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

type scriptedImprover struct {
	calls int
}

func (i *scriptedImprover) Improve(ctx context.Context, originalRequest, currentContent, fb string, iteration int) (string, error) {
	i.calls++
	return "improved-v" + string(rune('0'+iteration)), nil
}

type countingImprover struct{ calls int }

func (c *countingImprover) Improve(ctx context.Context, originalRequest, currentContent, fb string, iteration int) (string, error) {
	c.calls++
	return currentContent, nil
}

func newGate(scores []string) *gate.Evaluator {
	provider := &scriptedProvider{responses: scores}
	registry := criteria.NewRegistry(criteria.Criterion{Name: "quality", Weight: 1})
	j := judge.New(provider, nil)
	return gate.New(registry, j, nil)
}

func TestFeedbackLoopConverges(t *testing.T) {
	g := newGate([]string{`{"quality": 0.7}`, `{"quality": 0.8}`, `{"quality": 0.95}`})
	improver := &scriptedImprover{}
	loop := feedback.New(g, improver, nil)

	result := loop.Run(context.Background(), "request", "v0", feedback.Options{
		TargetScore:   0.9,
		MaxIterations: 5,
		GateConfig:    gate.Config{Criteria: []string{"quality"}},
	})

	require.True(t, result.Success)
	require.Equal(t, feedback.StopTargetReached, result.StopReason)
	require.Equal(t, 3, result.TotalIterations)
}

func TestFeedbackLoopDegrades(t *testing.T) {
	g := newGate([]string{`{"quality": 0.75}`, `{"quality": 0.65}`})
	improver := &scriptedImprover{}
	loop := feedback.New(g, improver, nil)

	result := loop.Run(context.Background(), "request", "v0", feedback.Options{
		TargetScore:    0.9,
		MaxIterations:  5,
		MinImprovement: 0.05,
		GateConfig:     gate.Config{Criteria: []string{"quality"}},
	})

	require.False(t, result.Success)
	require.Equal(t, feedback.StopScoreDegraded, result.StopReason)
	require.Equal(t, "v0", result.FinalContent)
	require.InDelta(t, 0.75, result.FinalScore, 0.001)
}

func TestFeedbackLoopIdempotentOnImmediatePass(t *testing.T) {
	g := newGate([]string{`{"quality": 0.95}`})
	improver := &countingImprover{}
	loop := feedback.New(g, improver, nil)

	result := loop.Run(context.Background(), "request", "v0", feedback.Options{
		TargetScore:   0.9,
		MaxIterations: 5,
		GateConfig:    gate.Config{Criteria: []string{"quality"}},
	})

	require.True(t, result.Success)
	require.Equal(t, 1, result.TotalIterations)
	require.Equal(t, 0, improver.calls)
}

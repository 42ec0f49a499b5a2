package gate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/criteria"
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

func TestGateRetrySequence(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"code": 0.6}`,
		`{"code": 0.7}`,
		`{"code": 0.95}`,
	}}
	registry := criteria.NewRegistry(criteria.Criterion{Name: "code", Weight: 1})
	j := judge.New(provider, nil)
	g := gate.New(registry, j, nil)

	cfg := gate.Config{Criteria: []string{"code"}, Threshold: 0.9, OnFail: gate.OnFailRetry, MaxRetries: 3}

	r1 := g.Evaluate(context.Background(), cfg, "content", "", 0)
	require.Equal(t, gate.ActionRetry, r1.Action)

	r2 := g.Evaluate(context.Background(), cfg, "content", "", r1.Attempts)
	require.Equal(t, gate.ActionRetry, r2.Action)

	r3 := g.Evaluate(context.Background(), cfg, "content", "", r2.Attempts)
	require.Equal(t, gate.ActionPassed, r3.Action)
	require.InDelta(t, 0.95, r3.Score, 0.001)
}

func TestGateProviderErrorHalts(t *testing.T) {
	registry := criteria.NewRegistry(criteria.Criterion{Name: "code", Weight: 1})
	j := judge.New(&erroringProvider{}, nil)
	g := gate.New(registry, j, nil)

	r := g.Evaluate(context.Background(), gate.Config{Criteria: []string{"code"}}, "content", "", 0)
	require.Equal(t, gate.ActionHalted, r.Action)
	require.Error(t, r.Error)
	require.Equal(t, 0.0, r.Score)
}

type erroringProvider struct{}

func (erroringProvider) Name() string { return "erroring" }
func (erroringProvider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "", &llm.ProviderError{Provider: "erroring", Kind: llm.ErrorKindConnection, Message: "boom"}
}

package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/blueprint"
	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/executor"
	"github.com/arcflow/conductor/pkg/journal"
	"github.com/arcflow/conductor/pkg/llm"
	"github.com/arcflow/conductor/pkg/portal"
)

func writeBlueprint(t *testing.T, dir, agentID, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, agentID+".md"), []byte(body), 0o644))
}

const validBlueprint = "---\nmodel: claude-3\nprovider: anthropic\n---\nYou are a reviewer.\n"

func newTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(journal.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

type fixedProvider struct {
	response string
	err      error
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return p.response, p.err
}

func TestExecuteStepPortalNotFound(t *testing.T) {
	dir := t.TempDir()
	writeBlueprint(t, dir, "reviewer", validBlueprint)

	reg := portal.NewRegistry()
	ex := executor.New(reg, blueprint.NewStore(dir), newTestJournal(t), nil, nil)

	_, err := ex.ExecuteStep(context.Background(), executor.Context{Portal: "missing", AgentID: "reviewer"}, executor.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindPortalNotFound, errors.KindOf(err, ""))
}

func TestExecuteStepPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	writeBlueprint(t, dir, "reviewer", validBlueprint)

	reg := portal.NewRegistry(portal.Config{Alias: "repo", Path: dir, AllowedAgents: []string{"other"}})
	ex := executor.New(reg, blueprint.NewStore(dir), newTestJournal(t), nil, nil)

	_, err := ex.ExecuteStep(context.Background(), executor.Context{Portal: "repo", AgentID: "reviewer"}, executor.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindPermissionDenied, errors.KindOf(err, ""))
}

func TestExecuteStepSynthesizesWithNilProvider(t *testing.T) {
	dir := t.TempDir()
	writeBlueprint(t, dir, "reviewer", validBlueprint)

	reg := portal.NewRegistry(portal.Config{Alias: "repo", Path: dir, AllowedAgents: []string{"*"}, Mode: portal.SecurityModeSandboxed})
	ex := executor.New(reg, blueprint.NewStore(dir), newTestJournal(t), nil, nil)

	result, err := ex.ExecuteStep(context.Background(), executor.Context{
		TraceID: "trace-12345678", RequestID: "req-1", Portal: "repo", AgentID: "reviewer",
	}, executor.Options{})
	require.NoError(t, err)
	assert.Contains(t, result.Branch, "agent/")
	assert.Empty(t, result.FilesChanged)
}

func TestExecuteStepParsesFencedProviderResponse(t *testing.T) {
	dir := t.TempDir()
	writeBlueprint(t, dir, "reviewer", validBlueprint)

	reg := portal.NewRegistry(portal.Config{Alias: "repo", Path: dir, AllowedAgents: []string{"*"}, Mode: portal.SecurityModeSandboxed})
	provider := &fixedProvider{response: "```json\n{\"branch\":\"feature/x\",\"commit_sha\":\"abc123\",\"files_changed\":[\"a.go\"],\"description\":\"did it\",\"tool_calls\":2}\n```"}
	ex := executor.New(reg, blueprint.NewStore(dir), newTestJournal(t), provider, nil)

	result, err := ex.ExecuteStep(context.Background(), executor.Context{
		TraceID: "trace-abcdefgh", RequestID: "req-2", Portal: "repo", AgentID: "reviewer",
	}, executor.Options{})
	require.NoError(t, err)
	assert.Equal(t, "feature/x", result.Branch)
	assert.Equal(t, "abc123", result.CommitSHA)
	assert.Equal(t, []string{"a.go"}, result.FilesChanged)
}

func TestExecuteStepProviderErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	writeBlueprint(t, dir, "reviewer", validBlueprint)

	reg := portal.NewRegistry(portal.Config{Alias: "repo", Path: dir, AllowedAgents: []string{"*"}, Mode: portal.SecurityModeSandboxed})
	provider := &fixedProvider{err: &llm.ProviderError{Provider: "fixed", Kind: llm.ErrorKindTimeout, Message: "timed out"}}
	ex := executor.New(reg, blueprint.NewStore(dir), newTestJournal(t), provider, nil)

	_, err := ex.ExecuteStep(context.Background(), executor.Context{
		TraceID: "trace-1", RequestID: "req-3", Portal: "repo", AgentID: "reviewer",
	}, executor.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err, ""))
}

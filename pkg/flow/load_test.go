package flow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/flow"
)

const sampleFlowYAML = `
id: review-flow
name: Review Flow
steps:
  - id: write
    type: agent
    agent: writer
    input:
      source: request
  - id: review
    type: gate
    gate:
      criteria: [quality]
      threshold: 0.8
    depends_on: [write]
    input:
      source: step
      step_id: write
settings:
  max_parallelism: 2
  fail_fast: true
output:
  from: write
  format: markdown
`

func TestParseYAML(t *testing.T) {
	f, err := flow.ParseYAML([]byte(sampleFlowYAML))
	require.NoError(t, err)
	assert.Equal(t, "review-flow", f.ID)
	assert.Len(t, f.Steps, 2)
	assert.Equal(t, flow.StepTypeGate, f.Steps[1].Type)
	assert.Equal(t, 0.8, f.Steps[1].Gate.Threshold)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(sampleFlowYAML), 0o644))

	store, err := flow.LoadDir(dir)
	require.NoError(t, err)
	assert.True(t, store.Exists("review-flow"))
	assert.False(t, store.Exists("missing"))
}

func TestParseYAMLMissingID(t *testing.T) {
	_, err := flow.ParseYAML([]byte("steps: []\n"))
	require.Error(t, err)
}

package journal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/journal"
)

func TestStandardRedactor(t *testing.T) {
	r := journal.NewStandardRedactor()
	out := r.Redact(map[string]interface{}{
		"message": "key is sk-abcdefghijklmnopqrstuvwxyz",
		"token":   "xyz",
		"nested": map[string]interface{}{
			"password": "hunter2",
		},
	})

	require.Equal(t, "key is sk-***REDACTED***", out["message"])
	require.Equal(t, "***REDACTED***", out["token"])
	nested := out["nested"].(map[string]interface{})
	require.Equal(t, "***REDACTED***", nested["password"])
}

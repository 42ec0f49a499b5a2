package llm_test

import (
	"context"

	"github.com/arcflow/conductor/pkg/llm"
)

// fakeProvider is a deterministic in-memory Provider fixture kept in this
// package's test files; tests in other packages define their own fakes.
// It mirrors the teacher's fixture-based mock provider
// convention: canned responses keyed by call order, with no network I/O.
type fakeProvider struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	return f.responses[len(f.responses)-1], nil
}

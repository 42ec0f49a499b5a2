// Package llm provides the provider-agnostic interface for invoking language
// model backends. This package is designed to be embeddable in other Go
// applications: it defines the contract only, never a concrete provider.
package llm

import (
	"context"
	"time"
)

// Provider is the uniform interface every language-model backend
// implements. Concrete providers (HTTP clients, local inference servers)
// are out of scope for this module; only this interface and a test-only
// fake (see fake_test.go) are provided here.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "anthropic", "ollama").
	Name() string

	// Generate sends prompt to the backend and returns the generated text.
	// Implementations MUST enforce opts.Timeout themselves (the context
	// deadline is a backstop, not a substitute).
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions carries the parameters of a single generation request.
type GenerateOptions struct {
	// Temperature controls randomness. Zero value means provider default.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// Timeout bounds how long the provider may take. Zero means no
	// provider-enforced bound beyond the context deadline.
	Timeout time.Duration
}

// ErrorKind is the taxonomy of failures a Provider may report, per the
// Model Provider interface contract.
type ErrorKind string

const (
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindConnection      ErrorKind = "connection"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
	ErrorKindRateLimited     ErrorKind = "rate_limited"
	ErrorKindOther           ErrorKind = "other"
)

// ProviderError is returned by Provider.Generate on failure.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + " " + string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + " " + string(e.Kind) + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

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

package errors

import "fmt"

// Kind is a stable error taxonomy tag used across the orchestrator so
// callers can switch on behavior (retry, halt, skip) without string
// matching on messages.
type Kind string

const (
	KindConfigInvalid        Kind = "config_invalid"
	KindFlowNotFound         Kind = "flow_not_found"
	KindBlueprintMissing     Kind = "blueprint_missing"
	KindBlueprintInvalid     Kind = "blueprint_invalid"
	KindPermissionDenied     Kind = "permission_denied"
	KindConflictingSelectors Kind = "conflicting_selectors"
	KindInvalidDependencies  Kind = "invalid_dependencies"
	KindInvalidInput         Kind = "invalid_input"
	KindTimeout              Kind = "timeout"
	KindConnection           Kind = "connection"
	KindRateLimited          Kind = "rate_limited"
	KindInvalidResponse      Kind = "invalid_response"
	KindGitError             Kind = "git_error"
	KindAgentError           Kind = "agent_error"
	KindPortalNotFound       Kind = "portal_not_found"
)

// transientKinds are the error kinds a step's retry policy may retry.
var transientKinds = map[Kind]bool{
	KindTimeout:         true,
	KindConnection:      true,
	KindRateLimited:     true,
	KindInvalidResponse: true,
}

// IsTransient reports whether kind is eligible for step-level retry.
func IsTransient(kind Kind) bool {
	return transientKinds[kind]
}

// OrchestratorError is the single carrier type for the error taxonomy in
// spec §7. Callers use errors.As to recover it and switch on Kind; Cause
// still chains to the underlying OS/provider error via Unwrap.
type OrchestratorError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// NewKind builds an OrchestratorError with no wrapped cause.
func NewKind(kind Kind, message string) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: message}
}

// WrapKind builds an OrchestratorError wrapping cause.
func WrapKind(kind Kind, message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an
// *OrchestratorError, otherwise returns fallback.
func KindOf(err error, fallback Kind) Kind {
	var oe *OrchestratorError
	if As(err, &oe) {
		return oe.Kind
	}
	return fallback
}

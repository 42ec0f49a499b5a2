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

package flow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/workflow"
)

// transformFunc maps an upstream value (plus the full request/step context,
// for template_fill) to the text fed to the next step.
type transformFunc func(value string, requestText string, stepOutputs map[string]string) (string, error)

var codeFenceRe = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*)\\n?(.*?)```")

var transforms = map[string]transformFunc{
	"passthrough":      passthroughTransform,
	"extract_code":     extractCodeTransform,
	"merge_as_context": mergeAsContextTransform,
	"template_fill":    templateFillTransform,
}

func passthroughTransform(value, _ string, _ map[string]string) (string, error) {
	return value, nil
}

// extractCodeTransform returns the contents of the first fenced code
// block, or the original value if none is present.
func extractCodeTransform(value, _ string, _ map[string]string) (string, error) {
	m := codeFenceRe.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	return strings.TrimSpace(m[1]), nil
}

// mergeAsContextTransform prefixes the upstream value with the original
// request text, so a downstream agent sees both.
func mergeAsContextTransform(value, requestText string, _ map[string]string) (string, error) {
	if requestText == "" {
		return value, nil
	}
	return fmt.Sprintf("Original request:\n%s\n\nUpstream result:\n%s", requestText, value), nil
}

// templateFillTransform resolves value as a Go text/template against the
// step outputs collected so far plus the original request, reusing the
// workflow package's template engine and function map.
func templateFillTransform(value, requestText string, stepOutputs map[string]string) (string, error) {
	tc := workflow.NewTemplateContext()
	tc.SetInput("request", requestText)
	for id, out := range stepOutputs {
		tc.SetStepOutput(id, map[string]interface{}{"output": out})
	}
	return workflow.ResolveTemplate(value, tc)
}

// resolveTransform looks up name, defaulting to passthrough when empty.
func resolveTransform(name string) (transformFunc, error) {
	if name == "" {
		name = "passthrough"
	}
	t, ok := transforms[name]
	if !ok {
		return nil, errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("unknown transform %q", name))
	}
	return t, nil
}

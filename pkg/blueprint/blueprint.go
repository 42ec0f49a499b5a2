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

// Package blueprint loads agent Blueprint files: a `---`-fenced YAML
// frontmatter block followed by a free-text system prompt.
//
// There is no frontmatter-parsing library in the example corpus, so this
// package splits the fences with the standard library and decodes the
// frontmatter map with yaml.v3 (see DESIGN.md for the stdlib
// justification).
package blueprint

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arcflow/conductor/pkg/errors"
)

// Blueprint is an immutable-once-loaded agent descriptor.
type Blueprint struct {
	Model          string
	Provider       string
	Capabilities   []string
	DefaultSkills  []string
	SystemPrompt   string
}

const fence = "---"

// Parse splits raw blueprint file content into frontmatter and system
// prompt, validating required keys.
//
// Fails with blueprint_invalid when the leading fence is missing, the
// closing fence before content is missing, or a required key (model,
// provider) is absent.
func Parse(raw string) (*Blueprint, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != fence {
		return nil, errors.NewKind(errors.KindBlueprintInvalid, "blueprint must begin with a '---' frontmatter fence")
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fence {
			closingIdx = i
			break
		}
	}
	if closingIdx < 0 {
		return nil, errors.NewKind(errors.KindBlueprintInvalid, "blueprint is missing a closing '---' fence")
	}

	frontmatterYAML := strings.Join(lines[1:closingIdx], "\n")
	systemPrompt := strings.TrimLeft(strings.Join(lines[closingIdx+1:], "\n"), "\n")

	var fm map[string]interface{}
	if err := yaml.Unmarshal([]byte(frontmatterYAML), &fm); err != nil {
		return nil, errors.WrapKind(errors.KindBlueprintInvalid, "parsing blueprint frontmatter", err)
	}

	model, _ := fm["model"].(string)
	provider, _ := fm["provider"].(string)
	if model == "" || provider == "" {
		return nil, errors.NewKind(errors.KindBlueprintInvalid, "blueprint frontmatter must set both 'model' and 'provider'")
	}

	return &Blueprint{
		Model:         model,
		Provider:      provider,
		Capabilities:  toStringSlice(fm["capabilities"]),
		DefaultSkills: toStringSlice(fm["default_skills"]),
		SystemPrompt:  systemPrompt,
	}, nil
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

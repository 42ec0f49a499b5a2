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
	"sort"
	"strings"

	"github.com/arcflow/conductor/pkg/errors"
)

// Validate checks the flow's DAG for dangling edges and cycles without
// executing it, returning the topologically sorted steps.
func Validate(f Flow) ([]Step, error) {
	return validate(f)
}

// validate checks the flow's DAG for dangling edges and cycles using
// Kahn's algorithm, and returns the steps in a deterministic topological
// order (ties broken by declaration order, then step ID).
func validate(f Flow) ([]Step, error) {
	if len(f.Steps) == 0 {
		return nil, errors.NewKind(errors.KindInvalidDependencies, "flow has no steps")
	}

	byID := make(map[string]Step, len(f.Steps))
	declOrder := make(map[string]int, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			return nil, errors.NewKind(errors.KindInvalidDependencies, "step at index has empty id")
		}
		if _, dup := byID[s.ID]; dup {
			return nil, errors.NewKind(errors.KindInvalidDependencies, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		byID[s.ID] = s
		declOrder[s.ID] = i
	}

	inDegree := make(map[string]int, len(f.Steps))
	dependents := make(map[string][]string, len(f.Steps))
	for _, s := range f.Steps {
		inDegree[s.ID] = 0
	}
	for _, s := range f.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, errors.NewKind(errors.KindInvalidDependencies, fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep))
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	ready := make([]string, 0, len(f.Steps))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortByDecl := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			if declOrder[ids[i]] != declOrder[ids[j]] {
				return declOrder[ids[i]] < declOrder[ids[j]]
			}
			return ids[i] < ids[j]
		})
	}
	sortByDecl(ready)

	order := make([]Step, 0, len(f.Steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		next := append([]string(nil), dependents[id]...)
		sortByDecl(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
				sortByDecl(ready)
			}
		}
	}

	if len(order) != len(f.Steps) {
		remaining := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, errors.NewKind(errors.KindInvalidDependencies, fmt.Sprintf("cycle detected among steps: %s", strings.Join(remaining, ", ")))
	}

	return order, nil
}

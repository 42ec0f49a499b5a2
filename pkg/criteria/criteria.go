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

// Package criteria implements the Evaluation Criteria registry: named
// rubric items with weights, thresholds, and a required flag, used by the
// Judge and Gate evaluators.
package criteria

// Criterion is a single named rubric item.
type Criterion struct {
	Name        string
	Description string
	Weight      float64
	Required    bool
	// Threshold is the per-criterion pass bar. Defaults to 0.7 when unset.
	Threshold float64
}

const defaultThreshold = 0.7

// Registry maps names to Criterion values. It is constructed explicitly
// and passed to components rather than used as a process-wide singleton,
// to keep the system embeddable and avoid test-ordering hazards.
type Registry struct {
	byName map[string]Criterion
}

// NewRegistry builds a Registry from the given criteria, filling in the
// default per-criterion threshold where unset.
func NewRegistry(criteria ...Criterion) *Registry {
	r := &Registry{byName: make(map[string]Criterion, len(criteria))}
	for _, c := range criteria {
		if c.Threshold <= 0 {
			c.Threshold = defaultThreshold
		}
		r.byName[c.Name] = c
	}
	return r
}

// Register adds or replaces a criterion in the registry.
func (r *Registry) Register(c Criterion) {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	r.byName[c.Name] = c
}

// GetByNames resolves a list of names to Criterion values. Unknown names
// are dropped silently; callers compare len(resolved) to len(names) to
// detect and report the drop themselves.
func (r *Registry) GetByNames(names []string) []Criterion {
	resolved := make([]Criterion, 0, len(names))
	for _, name := range names {
		if c, ok := r.byName[name]; ok {
			resolved = append(resolved, c)
		}
	}
	return resolved
}

// WeightedScore computes Σ(score_i · w_i) / Σ(w_i) over the given scores
// keyed by criterion name. When no criterion carries a positive weight,
// all criteria are treated as uniformly weighted.
func WeightedScore(criteria []Criterion, scores map[string]float64) float64 {
	if len(criteria) == 0 {
		return 0
	}

	var totalWeight float64
	for _, c := range criteria {
		totalWeight += c.Weight
	}

	if totalWeight <= 0 {
		uniform := 1.0 / float64(len(criteria))
		var sum float64
		for _, c := range criteria {
			sum += scores[c.Name] * uniform
		}
		return sum
	}

	var sum float64
	for _, c := range criteria {
		sum += scores[c.Name] * c.Weight
	}
	return sum / totalWeight
}

// CheckRequired returns false if any required criterion scores below its
// per-criterion threshold, falling back to gateThreshold when the
// criterion carries no threshold of its own.
func CheckRequired(scores map[string]float64, criteria []Criterion, gateThreshold float64) bool {
	for _, c := range criteria {
		if !c.Required {
			continue
		}
		threshold := c.Threshold
		if threshold <= 0 {
			threshold = gateThreshold
		}
		if scores[c.Name] < threshold {
			return false
		}
	}
	return true
}

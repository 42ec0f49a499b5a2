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
	"github.com/arcflow/conductor/pkg/workflow/expression"
)

// conditionEvaluator compiles and caches step "when" expressions.
var conditionEvaluator = expression.New()

// evalWhen evaluates s.When against the current outcomes. An empty
// expression always runs the step.
func evalWhen(when string, requestText string, outcomes map[string]*StepOutcome) (bool, error) {
	if when == "" {
		return true, nil
	}

	steps := make(map[string]interface{}, len(outcomes))
	for id, o := range outcomes {
		steps[id] = map[string]interface{}{
			"output":    o.Content,
			"skipped":   o.Skipped,
			"failed":    o.Err != nil,
			"cancelled": o.Cancelled,
		}
	}

	ctx := expression.BuildContextFromInputsAndSteps(
		map[string]interface{}{"request": requestText},
		steps,
	)
	return conditionEvaluator.Evaluate(when, ctx)
}

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

// Package flow implements the Flow Runner: a DAG scheduler over agent and
// gate steps with bounded concurrency, per-step retry/backoff, and
// fail-fast or skip-successors failure handling.
package flow

import (
	"github.com/arcflow/conductor/pkg/gate"
)

// StepType distinguishes the two kinds of steps a flow can run.
type StepType string

const (
	StepTypeAgent StepType = "agent"
	StepTypeGate  StepType = "gate"
)

// InputSource names where a step's input value comes from.
type InputSource string

const (
	InputSourceRequest InputSource = "request"
	InputSourceStep    InputSource = "step"
	InputSourceLiteral InputSource = "literal"
)

// OutputFormat names how the flow composes its final output from step
// results.
type OutputFormat string

const (
	OutputFormatMarkdown OutputFormat = "markdown"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatConcat   OutputFormat = "concat"
)

// Input describes how a step's input value is resolved.
type Input struct {
	Source    InputSource `yaml:"source"`
	StepID    string      `yaml:"step_id,omitempty"`
	Literal   interface{} `yaml:"literal,omitempty"`
	Transform string      `yaml:"transform,omitempty"`
}

// Retry describes a step's retry policy.
type Retry struct {
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	BackoffMs   int `yaml:"backoff_ms,omitempty"`
}

func (r Retry) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 1
	}
	return r.MaxAttempts
}

// Step is a single node in the flow DAG.
type Step struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name,omitempty"`
	Type      StepType     `yaml:"type"`
	Agent     string       `yaml:"agent,omitempty"`
	DependsOn []string     `yaml:"depends_on,omitempty"`
	Input     Input        `yaml:"input,omitempty"`
	Retry     Retry        `yaml:"retry,omitempty"`
	Gate      *gate.Config `yaml:"gate,omitempty"`
	TimeoutMs int          `yaml:"timeout_ms,omitempty"`
	// When, if set, is an expr-lang expression evaluated against
	// {inputs: {request}, steps: {id: {output}}} before the step runs.
	// A false result skips the step (and its successors, same as a
	// failed dependency) without attempting it.
	When string `yaml:"when,omitempty"`
}

// Output describes how the flow's final result is assembled.
type Output struct {
	From   string       `yaml:"from,omitempty"`
	Format OutputFormat `yaml:"format,omitempty"`
}

// Settings are flow-wide execution knobs.
type Settings struct {
	MaxParallelism int  `yaml:"max_parallelism,omitempty"`
	FailFast       bool `yaml:"fail_fast,omitempty"`
	TimeoutMs      int  `yaml:"timeout_ms,omitempty"`
}

// Flow is the top-level DAG definition (spec §3).
type Flow struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name,omitempty"`
	Version  string   `yaml:"version,omitempty"`
	Steps    []Step   `yaml:"steps"`
	Output   Output   `yaml:"output,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

func (f Flow) maxParallelism() int {
	if f.Settings.MaxParallelism <= 0 {
		return 1
	}
	return f.Settings.MaxParallelism
}

// StepOutcome is one step's terminal state, produced by the scheduler.
// Every outcome is terminal in exactly one of {succeeded, Err != nil,
// Skipped, Cancelled}.
type StepOutcome struct {
	StepID     string
	Content    string
	GateResult *gate.Result
	Skipped    bool
	Cancelled  bool
	Err        error
	Attempts   int
}

// Result is a completed flow run.
type Result struct {
	FlowID  string
	Success bool
	Output  string
	Steps   map[string]*StepOutcome
	Order   []string
}

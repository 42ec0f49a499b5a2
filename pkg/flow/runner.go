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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/executor"
	"github.com/arcflow/conductor/pkg/gate"
	"github.com/arcflow/conductor/pkg/journal"
	"github.com/arcflow/conductor/pkg/observability"
)

// Runner is the Flow Runner: it schedules a flow's steps over the DAG
// respecting dependencies, bounded concurrency, and fail-fast policy.
type Runner struct {
	executor *executor.Executor
	gate     *gate.Evaluator
	journal  *journal.Journal
	logger   *slog.Logger
	tracer   observability.Tracer // nil means tracing is disabled
}

// New builds a Runner.
func New(ex *executor.Executor, g *gate.Evaluator, j *journal.Journal, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{executor: ex, gate: g, journal: j, logger: logger}
}

// WithTracer attaches a tracer used to span the flow run and each step.
func (r *Runner) WithTracer(tp observability.TracerProvider) *Runner {
	if tp != nil {
		r.tracer = tp.Tracer("conductor/flow")
	}
	return r
}

// runState is the scheduler's shared mutable state, guarded by mu.
type runState struct {
	mu          sync.Mutex
	outcomes    map[string]*StepOutcome
	done        map[string]bool
	failed      bool
	inFlight    int
}

// Run schedules and executes f's steps. traceID/portal
// identify the execution for journaling and the Agent Executor.
func (r *Runner) Run(ctx context.Context, f Flow, traceID, portal, requestText string) (*Result, error) {
	if r.tracer != nil {
		var span observability.SpanHandle
		ctx, span = r.tracer.Start(ctx, "flow.run", observability.WithAttributes(map[string]any{
			"trace_id": traceID,
			"flow_id":  f.ID,
			"portal":   portal,
		}))
		defer span.End()
		result, err := r.run(ctx, f, traceID, portal, requestText)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(observability.StatusCodeError, err.Error())
		} else if !result.Success {
			span.SetStatus(observability.StatusCodeError, "flow completed with failed steps")
		} else {
			span.SetStatus(observability.StatusCodeOK, "")
		}
		return result, err
	}

	return r.run(ctx, f, traceID, portal, requestText)
}

func (r *Runner) run(ctx context.Context, f Flow, traceID, portal, requestText string) (*Result, error) {
	order, err := validate(f)
	if err != nil {
		return nil, err
	}

	if f.Settings.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(f.Settings.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	byID := make(map[string]Step, len(order))
	for _, s := range order {
		byID[s.ID] = s
	}

	dependents := make(map[string][]string, len(order))
	pending := make(map[string]int, len(order))
	for _, s := range order {
		pending[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	state := &runState{outcomes: make(map[string]*StepOutcome, len(order)), done: make(map[string]bool, len(order))}

	sem := make(chan struct{}, f.maxParallelism())
	var wg sync.WaitGroup
	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	var scheduleMu sync.Mutex
	var scheduleNext func(ids []string)

	markDone := func(id string) {
		state.mu.Lock()
		state.done[id] = true
		ready := make([]string, 0)
		for _, next := range dependents[id] {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
		state.mu.Unlock()
		if len(ready) > 0 {
			scheduleNext(ready)
		}
	}

	scheduleNext = func(ids []string) {
		scheduleMu.Lock()
		// Skipped steps are marked done only after scheduleMu is released,
		// since markDone calls scheduleNext again for their dependents.
		var skipped []string
		for _, id := range ids {
			step := byID[id]

			state.mu.Lock()
			if state.failed && f.Settings.FailFast {
				state.outcomes[id] = &StepOutcome{StepID: id, Skipped: true}
				state.mu.Unlock()
				skipped = append(skipped, id)
				continue
			}
			// Skip steps whose dependency failed (skip-successors semantics).
			skip := false
			for _, dep := range step.DependsOn {
				if o, ok := state.outcomes[dep]; ok && (o.Err != nil || o.Skipped || o.Cancelled) {
					skip = true
					break
				}
			}
			state.mu.Unlock()

			if !skip {
				state.mu.Lock()
				shouldRun, err := evalWhen(step.When, requestText, state.outcomes)
				state.mu.Unlock()
				if err != nil || !shouldRun {
					skip = true
				}
			}

			if skip {
				state.mu.Lock()
				state.outcomes[id] = &StepOutcome{StepID: id, Skipped: true}
				state.mu.Unlock()
				skipped = append(skipped, id)
				continue
			}

			wg.Add(1)
			go func(s Step) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					state.mu.Lock()
					state.outcomes[s.ID] = ctxOutcome(s.ID, ctx.Err(), 0)
					state.mu.Unlock()
					markDone(s.ID)
					return
				}
				defer func() { <-sem }()

				outcome := r.runStep(ctx, f, s, traceID, portal, requestText, state)

				state.mu.Lock()
				state.outcomes[s.ID] = outcome
				failNow := outcome.Err != nil && f.Settings.FailFast
				if failNow {
					state.failed = true
				}
				state.mu.Unlock()

				// fail_fast cancels the shared token so in-flight siblings
				// observe cancellation and terminate with status=cancelled
				// instead of running to completion (spec §4.9/§5).
				if failNow {
					cancelAll()
				}

				markDone(s.ID)
			}(step)
		}
		scheduleMu.Unlock()

		for _, id := range skipped {
			markDone(id)
		}
	}

	initial := make([]string, 0)
	for _, s := range order {
		if pending[s.ID] == 0 {
			initial = append(initial, s.ID)
		}
	}
	scheduleNext(initial)
	wg.Wait()

	success := true
	for _, o := range state.outcomes {
		if o.Err != nil || o.Cancelled {
			success = false
		}
	}

	ids := make([]string, 0, len(order))
	for _, s := range order {
		ids = append(ids, s.ID)
	}

	result := &Result{FlowID: f.ID, Success: success, Steps: state.outcomes, Order: ids}
	result.Output = composeOutput(f.Output, state.outcomes, ids)
	recordRun(success)
	return result, nil
}

// runStep resolves input, then dispatches to the agent executor or gate
// evaluator, applying retry/backoff on transient failures.
func (r *Runner) runStep(ctx context.Context, f Flow, s Step, traceID, portal, requestText string, state *runState) *StepOutcome {
	if r.tracer != nil {
		var span observability.SpanHandle
		ctx, span = r.tracer.Start(ctx, "flow.step", observability.WithAttributes(map[string]any{
			"trace_id": traceID,
			"step_id":  s.ID,
			"type":     string(s.Type),
		}))
		defer span.End()
		outcome := r.runStepUntraced(ctx, f, s, traceID, portal, requestText, state)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(observability.StatusCodeError, outcome.Err.Error())
		} else {
			span.SetStatus(observability.StatusCodeOK, "")
		}
		return outcome
	}

	return r.runStepUntraced(ctx, f, s, traceID, portal, requestText, state)
}

func (r *Runner) runStepUntraced(ctx context.Context, f Flow, s Step, traceID, portal, requestText string, state *runState) *StepOutcome {
	// A step's own timeout_ms, if set, bounds just this step; otherwise it
	// inherits whatever budget the flow-level timeout already put on ctx
	// (spec §4.9 "Per-step execution").
	if s.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	stepStart := time.Now()
	outcome := r.runStepAttempts(ctx, f, s, traceID, portal, requestText, state)

	status := "success"
	switch {
	case outcome.Err != nil:
		status = "failure"
	case outcome.Cancelled:
		status = "cancelled"
	case outcome.Skipped:
		status = "skipped"
	}
	recordStep(s.Type, status, time.Since(stepStart).Seconds())

	return outcome
}

func (r *Runner) runStepAttempts(ctx context.Context, f Flow, s Step, traceID, portal, requestText string, state *runState) *StepOutcome {
	if s.Type == StepTypeGate {
		return r.runGateStep(ctx, f, s, traceID, portal, requestText, state)
	}

	attempts := 0
	backoff := time.Duration(s.Retry.BackoffMs) * time.Millisecond

	var lastErr error
	var lastContent string

	for attempts < s.Retry.maxAttempts() {
		attempts++

		content, err := r.runOnce(ctx, f, s, traceID, portal, requestText, state)
		lastContent = content
		if err == nil {
			return &StepOutcome{StepID: s.ID, Content: content, Attempts: attempts}
		}
		// A provider call that was actually interrupted by fail_fast's
		// cancellation (rather than failing on its own) surfaces as
		// status=cancelled, not a regular step failure.
		if errors.Is(err, context.Canceled) {
			return ctxOutcome(s.ID, context.Canceled, attempts)
		}

		lastErr = err
		kind := errors.KindOf(err, errors.KindAgentError)
		if !errors.IsTransient(kind) || attempts >= s.Retry.maxAttempts() {
			break
		}

		select {
		case <-ctx.Done():
			return ctxOutcome(s.ID, ctx.Err(), attempts)
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return &StepOutcome{StepID: s.ID, Content: lastContent, Err: lastErr, Attempts: attempts}
}

// runOnce dispatches a single (non-gate) step attempt to the Agent
// Executor.
func (r *Runner) runOnce(ctx context.Context, f Flow, s Step, traceID, portal, requestText string, state *runState) (string, error) {
	state.mu.Lock()
	input, err := resolveInput(s.Input, requestText, state.outcomes)
	state.mu.Unlock()
	if err != nil {
		return "", err
	}

	switch s.Type {
	case StepTypeAgent:
		result, err := r.executor.ExecuteStep(ctx, executor.Context{
			TraceID:     traceID,
			RequestID:   s.ID,
			Portal:      portal,
			AgentID:     s.Agent,
			UserRequest: input,
			Plan:        s.Name,
		}, executor.Options{})
		if err != nil {
			return "", err
		}
		return result.Description, nil

	default:
		return "", errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("unknown step type %q", s.Type))
	}
}

// runGateStep implements Gate-step failure handling (spec §4.9): on
// action=retry, the upstream step that produced the judged content is
// re-run and the gate re-evaluates the fresh content, up to the gate's
// configured max_retries; on action=continued-with-warning the gate step
// succeeds with a warning recorded in its output; on action=halted the
// step fails outright, which fails the flow regardless of fail_fast.
func (r *Runner) runGateStep(ctx context.Context, f Flow, s Step, traceID, portal, requestText string, state *runState) *StepOutcome {
	if s.Gate == nil {
		return &StepOutcome{StepID: s.ID, Err: errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("gate step %q missing gate config", s.ID))}
	}

	producerID := s.Input.StepID
	attempts := 0
	previousAttempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return ctxOutcome(s.ID, err, attempts)
		}

		state.mu.Lock()
		content, err := resolveInput(s.Input, requestText, state.outcomes)
		state.mu.Unlock()
		if err != nil {
			return &StepOutcome{StepID: s.ID, Err: err, Attempts: attempts}
		}

		gr := r.gate.Evaluate(ctx, *s.Gate, content, "", previousAttempts)
		if gr.Error != nil && errors.Is(gr.Error, context.Canceled) {
			return ctxOutcome(s.ID, context.Canceled, attempts)
		}
		attempts++

		switch gr.Action {
		case gate.ActionPassed:
			return &StepOutcome{StepID: s.ID, Content: content, GateResult: gr, Attempts: attempts}

		case gate.ActionContinuedWithWarning:
			warned := content + "\n\n[gate warning: threshold not met, continuing]"
			return &StepOutcome{StepID: s.ID, Content: warned, GateResult: gr, Attempts: attempts}

		case gate.ActionRetry:
			if producerID == "" {
				return &StepOutcome{StepID: s.ID, Content: content, GateResult: gr, Attempts: attempts,
					Err: errors.NewKind(errors.KindAgentError, fmt.Sprintf("gate step %q requested retry but its input has no step_id to re-run", s.ID))}
			}
			producer, ok := stepByID(f, producerID)
			if !ok {
				return &StepOutcome{StepID: s.ID, Content: content, GateResult: gr, Attempts: attempts,
					Err: errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("gate step %q references unknown producer step %q", s.ID, producerID))}
			}

			producerOutcome := r.runStep(ctx, f, producer, traceID, portal, requestText, state)
			state.mu.Lock()
			state.outcomes[producer.ID] = producerOutcome
			state.mu.Unlock()
			if producerOutcome.Err != nil || producerOutcome.Cancelled {
				return &StepOutcome{StepID: s.ID, GateResult: gr, Attempts: attempts,
					Cancelled: producerOutcome.Cancelled, Err: producerOutcome.Err}
			}

			previousAttempts++
			continue

		default: // ActionHalted
			return &StepOutcome{StepID: s.ID, Content: content, GateResult: gr, Attempts: attempts,
				Err: errors.NewKind(errors.KindAgentError, "gate halted the flow")}
		}
	}
}

// stepByID finds a step by ID within f. Flows are small DAGs, so a linear
// scan is simpler than threading an index through every call site.
func stepByID(f Flow, id string) (Step, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// ctxOutcome turns a ctx.Err() into the right terminal StepOutcome:
// cancellation (fail_fast tripped elsewhere) is distinct from this step's
// own deadline expiring, which the spec treats as a timeout error.
func ctxOutcome(stepID string, ctxErr error, attempts int) *StepOutcome {
	if errors.Is(ctxErr, context.Canceled) {
		return &StepOutcome{StepID: stepID, Cancelled: true, Attempts: attempts}
	}
	return &StepOutcome{StepID: stepID, Attempts: attempts,
		Err: errors.WrapKind(errors.KindTimeout, "step deadline exceeded", ctxErr)}
}

// resolveInput wires a step's declared Input source, then applies the
// named transform. Caller must hold state.mu.
func resolveInput(in Input, requestText string, outcomes map[string]*StepOutcome) (string, error) {
	var raw string
	switch in.Source {
	case InputSourceRequest, "":
		raw = requestText
	case InputSourceLiteral:
		raw = fmt.Sprintf("%v", in.Literal)
	case InputSourceStep:
		o, ok := outcomes[in.StepID]
		if !ok || o.Err != nil || o.Skipped || o.Cancelled {
			return "", errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("input references unavailable step %q", in.StepID))
		}
		raw = o.Content
	default:
		return "", errors.NewKind(errors.KindInvalidInput, fmt.Sprintf("unknown input source %q", in.Source))
	}

	transform, err := resolveTransform(in.Transform)
	if err != nil {
		return "", err
	}

	stepOutputs := make(map[string]string, len(outcomes))
	for id, o := range outcomes {
		if o.Err == nil && !o.Skipped && !o.Cancelled {
			stepOutputs[id] = o.Content
		}
	}
	return transform(raw, requestText, stepOutputs)
}

// composeOutput assembles the flow's final output per Output.Format.
func composeOutput(out Output, outcomes map[string]*StepOutcome, order []string) string {
	ids := order
	if out.From != "" {
		ids = []string{out.From}
	}

	var parts []string
	for _, id := range ids {
		o, ok := outcomes[id]
		if !ok || o.Skipped || o.Cancelled || o.Err != nil {
			continue
		}
		parts = append(parts, o.Content)
	}

	switch out.Format {
	case OutputFormatJSON:
		return toJSONArray(parts)
	case OutputFormatConcat:
		return strings.Join(parts, "")
	default: // markdown
		return strings.Join(parts, "\n\n")
	}
}

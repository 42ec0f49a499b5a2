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

// Package router implements the Router: it decides whether an incoming
// request runs a named flow, a single named agent, or falls back to the
// configured default agent, per spec §4.10.
package router

import (
	"log/slog"

	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/journal"
)

// Kind names the two possible routing targets.
type Kind string

const (
	KindFlow  Kind = "flow"
	KindAgent Kind = "agent"
)

// Request is the caller-supplied routing selector.
type Request struct {
	TraceID string
	FlowID  string
	AgentID string
}

// Decision is the routed target.
type Decision struct {
	Kind    Kind
	FlowID  string
	AgentID string
}

// FlowExistsFunc reports whether a flow ID is known; satisfied by a flow
// store/registry lookup.
type FlowExistsFunc func(flowID string) bool

// Router picks a flow or agent target for each incoming request.
type Router struct {
	defaultAgent string
	flowExists   FlowExistsFunc
	journal      *journal.Journal
	logger       *slog.Logger
}

// New builds a Router. defaultAgent is used when a request names neither
// a flow nor an agent.
func New(defaultAgent string, flowExists FlowExistsFunc, j *journal.Journal, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{defaultAgent: defaultAgent, flowExists: flowExists, journal: j, logger: logger}
}

// Route resolves req to a single routing Decision.
func (r *Router) Route(req Request) (*Decision, error) {
	if req.FlowID != "" && req.AgentID != "" {
		return nil, errors.NewKind(errors.KindConflictingSelectors, "request names both a flow and an agent")
	}

	if req.FlowID != "" {
		if r.flowExists != nil && !r.flowExists(req.FlowID) {
			return nil, errors.NewKind(errors.KindFlowNotFound, "flow "+req.FlowID+" is not registered")
		}
		r.logDecision(req.TraceID, "request.routing.flow", req.FlowID)
		return &Decision{Kind: KindFlow, FlowID: req.FlowID}, nil
	}

	if req.AgentID != "" {
		r.logDecision(req.TraceID, "request.routing.agent", req.AgentID)
		return &Decision{Kind: KindAgent, AgentID: req.AgentID}, nil
	}

	r.logDecision(req.TraceID, "request.routing.default", r.defaultAgent)
	return &Decision{Kind: KindAgent, AgentID: r.defaultAgent}, nil
}

func (r *Router) logDecision(traceID, actionType, target string) {
	if r.journal == nil {
		return
	}
	r.journal.Log(journal.Entry{
		TraceID:    traceID,
		Actor:      "router",
		ActionType: actionType,
		Target:     target,
		Level:      journal.LevelInfo,
	})
}

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

// Package portal implements Portal Permissions: authorization of
// (agent, portal, operation) tuples, and the git audit/revert machinery
// that enforces sandbox boundaries after an agent step runs.
package portal

import (
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Operation is a kind of access an agent may request against a portal.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
	OperationGit   Operation = "git"
)

// SecurityMode governs subprocess permissions for agent invocations.
type SecurityMode string

const (
	SecurityModeSandboxed SecurityMode = "sandboxed"
	SecurityModeHybrid    SecurityMode = "hybrid"
)

// Decision is the result of a check_agent/check_operation call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config describes a single portal's permission policy.
type Config struct {
	Alias string
	Path  string

	// AllowedAgents, if it contains "*", admits any agent.
	AllowedAgents []string

	// ReadPaths/WritePaths are doublestar glob patterns evaluated
	// relative to Path.
	ReadPaths  []string
	WritePaths []string

	Mode SecurityMode

	// RevertConcurrency bounds how many files are reverted per chunk.
	RevertConcurrency int
}

// Portal is a named filesystem root under which an agent may act, plus
// a single-writer mutex (spec §5: "Portal filesystems are single-writer").
type Portal struct {
	Config
	mu sync.Mutex
}

// Lock acquires the portal's single-writer mutex for the duration of a
// step's execution through its audit completion (spec §5).
func (p *Portal) Lock() { p.mu.Lock() }

// Unlock releases the portal's mutex.
func (p *Portal) Unlock() { p.mu.Unlock() }

// Registry holds the set of known portals.
type Registry struct {
	mu      sync.RWMutex
	portals map[string]*Portal
}

// NewRegistry builds a Registry from the given portal configs.
func NewRegistry(configs ...Config) *Registry {
	r := &Registry{portals: make(map[string]*Portal, len(configs))}
	for _, c := range configs {
		if c.Mode == "" {
			c.Mode = SecurityModeSandboxed
		}
		r.portals[c.Alias] = &Portal{Config: c}
	}
	return r
}

// Lookup returns the portal for alias, or nil if not registered.
func (r *Registry) Lookup(alias string) *Portal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.portals[alias]
}

// CheckAgent reports whether agent may act on this portal at all.
func (p *Portal) CheckAgent(agent string) Decision {
	for _, a := range p.AllowedAgents {
		if a == "*" || a == agent {
			return Decision{Allowed: true}
		}
	}
	return Decision{Allowed: false, Reason: "agent " + agent + " is not permitted on portal " + p.Alias}
}

// CheckOperation reports whether agent may perform op on this portal.
// The agent check must pass first.
func (p *Portal) CheckOperation(agent string, op Operation) Decision {
	if d := p.CheckAgent(agent); !d.Allowed {
		return d
	}

	switch op {
	case OperationGit:
		return Decision{Allowed: true}
	case OperationRead:
		if len(p.ReadPaths) == 0 && len(p.WritePaths) == 0 {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: true}
	case OperationWrite:
		if p.Mode == SecurityModeSandboxed {
			return Decision{Allowed: false, Reason: "portal " + p.Alias + " is sandboxed: no filesystem access"}
		}
		return Decision{Allowed: true}
	default:
		return Decision{Allowed: false, Reason: "unknown operation " + string(op)}
	}
}

// SecurityModeOf returns the portal's security mode.
func (p *Portal) SecurityModeOf() SecurityMode {
	if p.Mode == "" {
		return SecurityModeSandboxed
	}
	return p.Mode
}

// matchesAny reports whether rel (relative to the portal root) matches
// any of the given doublestar glob patterns.
func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// CheckPathRead reports whether rel is readable under this portal's
// allow-list. An empty ReadPaths list means no restriction.
func (p *Portal) CheckPathRead(rel string) bool {
	if len(p.ReadPaths) == 0 {
		return true
	}
	return matchesAny(p.ReadPaths, rel)
}

// CheckPathWrite reports whether rel is writable under this portal's
// allow-list. An empty WritePaths list means no restriction.
func (p *Portal) CheckPathWrite(rel string) bool {
	if len(p.WritePaths) == 0 {
		return true
	}
	return matchesAny(p.WritePaths, rel)
}

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
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arcflow/conductor/pkg/errors"
)

// ParseYAML decodes a single flow definition from raw YAML bytes. Unknown
// top-level keys are rejected, and an empty version defaults to "1.0".
func ParseYAML(raw []byte) (*Flow, error) {
	var top map[string]interface{}
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "parsing flow definition", err)
	}
	for key := range top {
		switch key {
		case "id", "name", "version", "steps", "output", "settings":
		default:
			return nil, errors.NewKind(errors.KindConfigInvalid, "flow definition has unknown top-level key "+key)
		}
	}
	var f Flow
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "parsing flow definition", err)
	}
	if f.ID == "" {
		return nil, errors.NewKind(errors.KindConfigInvalid, "flow definition missing id")
	}
	if f.Version == "" {
		f.Version = "1.0"
	}
	return &f, nil
}

// LoadFile reads and parses a single flow YAML file.
func LoadFile(path string) (*Flow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "reading flow file "+path, err)
	}
	return ParseYAML(raw)
}

// Store indexes flows by ID, loaded from a directory of *.yaml/*.yml files.
type Store struct {
	flows map[string]*Flow
}

// LoadDir walks dir (non-recursively) loading every .yaml/.yml file as a
// flow definition.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "reading flow directory "+dir, err)
	}

	store := &Store{flows: make(map[string]*Flow)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		f, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		store.flows[f.ID] = f
	}
	return store, nil
}

// Get returns the flow for id, or nil if unknown.
func (s *Store) Get(id string) *Flow {
	if s == nil {
		return nil
	}
	return s.flows[id]
}

// Exists reports whether id is a known flow, matching router.FlowExistsFunc.
func (s *Store) Exists(id string) bool {
	return s.Get(id) != nil
}

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

package blueprint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcflow/conductor/pkg/errors"
)

// Store resolves agent ids to blueprint files under a root directory.
// Read-only at the scope of a flow run (spec §5).
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir. Blueprint files are expected at
// "<dir>/<agentID>.md".
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads and parses the blueprint for agentID.
func (s *Store) Load(agentID string) (*Blueprint, error) {
	path := filepath.Join(s.dir, agentID+".md")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewKind(errors.KindBlueprintMissing, fmt.Sprintf("no blueprint for agent %q", agentID))
		}
		return nil, errors.WrapKind(errors.KindBlueprintMissing, fmt.Sprintf("reading blueprint for agent %q", agentID), err)
	}
	return Parse(string(raw))
}

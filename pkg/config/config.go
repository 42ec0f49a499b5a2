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

// Package config loads the top-level conductor.yaml describing portals,
// the blueprint/flow directories, journal settings, and the default agent.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/portal"
	"github.com/arcflow/conductor/pkg/secrets"
)

// PortalConfig is the YAML shape of a single portal entry.
type PortalConfig struct {
	Alias             string   `yaml:"alias"`
	Path              string   `yaml:"path"`
	AllowedAgents     []string `yaml:"allowed_agents,omitempty"`
	ReadPaths         []string `yaml:"read_paths,omitempty"`
	WritePaths        []string `yaml:"write_paths,omitempty"`
	Mode              string   `yaml:"mode,omitempty"`
	RevertConcurrency int      `yaml:"revert_concurrency,omitempty"`
}

// JournalConfig is the YAML shape of the activity journal settings.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Config is the root conductor.yaml document.
type Config struct {
	DefaultAgent  string         `yaml:"default_agent"`
	BlueprintsDir string         `yaml:"blueprints_dir"`
	FlowsDir      string         `yaml:"flows_dir"`
	Portals       []PortalConfig `yaml:"portals,omitempty"`
	Journal       JournalConfig  `yaml:"journal,omitempty"`
	LogLevel      string         `yaml:"log_level,omitempty"`
	LogFormat     string         `yaml:"log_format,omitempty"`
}

// Load reads and parses path as a Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "reading config "+path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapKind(errors.KindConfigInvalid, "parsing config "+path, err)
	}
	if cfg.BlueprintsDir == "" {
		return nil, errors.NewKind(errors.KindConfigInvalid, "config missing blueprints_dir")
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "conductor.db"
	}
	return &cfg, nil
}

// PortalRegistry builds a portal.Registry from the config's portal entries.
func (c *Config) PortalRegistry() *portal.Registry {
	configs := make([]portal.Config, 0, len(c.Portals))
	for _, p := range c.Portals {
		mode := portal.SecurityModeSandboxed
		if p.Mode == string(portal.SecurityModeHybrid) {
			mode = portal.SecurityModeHybrid
		}
		configs = append(configs, portal.Config{
			Alias:             p.Alias,
			Path:              p.Path,
			AllowedAgents:     p.AllowedAgents,
			ReadPaths:         p.ReadPaths,
			WritePaths:        p.WritePaths,
			Mode:              mode,
			RevertConcurrency: p.RevertConcurrency,
		})
	}
	return portal.NewRegistry(configs...)
}

// SecretMasker builds a secrets.Masker seeded from the process environment,
// for scrubbing known secret values out of journaled executor payloads
// before they reach the Activity Journal.
func (c *Config) SecretMasker() *secrets.Masker {
	m := secrets.NewMasker()
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	m.AddSecretsFromEnv(env)
	return m
}

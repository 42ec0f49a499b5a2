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

package journal

import (
	"regexp"
)

// pattern is a single secret-shaped substring matcher.
type pattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// standardPatterns mirrors the teacher's span-attribute redaction rules:
// API keys, bearer tokens, AWS keys, private key blocks, and
// password/secret/token assignments.
func standardPatterns() []pattern {
	return []pattern{
		{"api_key", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "sk-***REDACTED***"},
		{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{10,}`), "Bearer ***REDACTED***"},
		{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AKIA***REDACTED***"},
		{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "***REDACTED PRIVATE KEY***"},
		{"generic_secret", regexp.MustCompile(`(?i)(password|secret|token)\s*[:=]\s*\S+`), "$1=***REDACTED***"},
	}
}

// sensitiveKeys are payload map keys whose value is redacted wholesale
// regardless of content.
var sensitiveKeys = map[string]bool{
	"password": true, "secret": true, "token": true, "api_key": true,
	"authorization": true, "credentials": true,
}

// StandardRedactor implements Redactor using regex substring scrubbing
// plus key-name based wholesale redaction for nested maps.
type StandardRedactor struct {
	patterns []pattern
}

// NewStandardRedactor builds a Redactor preloaded with standardPatterns.
func NewStandardRedactor() *StandardRedactor {
	return &StandardRedactor{patterns: standardPatterns()}
}

// Redact returns a copy of payload with known secret shapes scrubbed.
func (r *StandardRedactor) Redact(payload map[string]interface{}) map[string]interface{} {
	return r.redactMap(payload)
}

func (r *StandardRedactor) redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sensitiveKeys[k] {
			out[k] = "***REDACTED***"
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *StandardRedactor) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return r.redactString(val)
	case map[string]interface{}:
		return r.redactMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = r.redactValue(e)
		}
		return out
	default:
		return v
	}
}

func (r *StandardRedactor) redactString(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

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

package executor

import "regexp"

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// extractFencedJSON returns the contents of the first fenced code block
// in raw, or "" if none is present.
func extractFencedJSON(raw string) string {
	m := fencedJSONRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractBraceSpan returns the first balanced {...} span in raw, or ""
// if the braces never balance.
func extractBraceSpan(raw string) string {
	start := -1
	depth := 0
	for i, r := range raw {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}

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

import "encoding/json"

// toJSONArray marshals parts as a JSON array, falling back to an empty
// array literal if marshaling somehow fails (plain strings never do).
func toJSONArray(parts []string) string {
	b, err := json.Marshal(parts)
	if err != nil {
		return "[]"
	}
	return string(b)
}

/* Copyright 2026 The jtx Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package testutil has helpers for rendering and comparing the
// JSON-shaped values that flow through the engine: state values,
// event details, source payloads.
package testutil

import (
	"encoding/json"
	"fmt"
)

// JS renders a value as compact JSON, which is how test failures want
// to show event details and state snapshots.  Values that don't
// marshal render with %v.
func JS(x interface{}) string {
	js, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("(unmarshalable) %v", x)
	}
	return string(js)
}

// Dwimjs parses a string or byte slice as JSON so a durable-store
// value can be compared structurally.  Anything else — and anything
// that fails to parse — comes back unchanged.
func Dwimjs(x interface{}) interface{} {
	switch vv := x.(type) {
	case []byte:
		var v interface{}
		if err := json.Unmarshal(vv, &v); err != nil {
			return x
		}
		return v
	case string:
		var v interface{}
		if err := json.Unmarshal([]byte(vv), &v); err != nil {
			return x
		}
		return v
	default:
		return x
	}
}

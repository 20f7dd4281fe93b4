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

package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonicalize returns a structural copy of x containing only
// JSON-compatible values.
func Canonicalize(x interface{}) (interface{}, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}

// clone is Canonicalize that falls back to the input on error.
func clone(x interface{}) interface{} {
	y, err := Canonicalize(x)
	if err != nil {
		return x
	}
	return y
}

// parsePath splits a dotted path into segments.
func parsePath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// deepGet walks the path through maps and slices.
func deepGet(x interface{}, path []string) interface{} {
	at := x
	for _, seg := range path {
		switch vv := at.(type) {
		case map[string]interface{}:
			at = vv[seg]
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || len(vv) <= i {
				return nil
			}
			at = vv[i]
		default:
			return nil
		}
	}
	return at
}

// deepSet writes through the path, creating intermediate maps as
// needed.
func deepSet(root map[string]interface{}, path []string, v interface{}) {
	if len(path) == 0 {
		return
	}
	at := root
	for _, seg := range path[:len(path)-1] {
		next, is := at[seg].(map[string]interface{})
		if !is {
			next = make(map[string]interface{})
			at[seg] = next
		}
		at = next
	}
	at[path[len(path)-1]] = v
}

// parseDuration accepts Go duration syntax plus a bare number of
// seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// truthy follows ECMAScript boolean coercion.
func truthy(x interface{}) bool {
	switch vv := x.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	case float64:
		return vv != 0
	case int:
		return vv != 0
	case int64:
		return vv != 0
	}
	return true
}

// stringify renders a value the way text interpolation should see it.
func stringify(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
		return strconv.FormatFloat(vv, 'g', -1, 64)
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%v", x)
	}
	return string(js)
}

// splitList splits a comma-separated attribute value.
func splitList(s string) []string {
	var acc []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			acc = append(acc, part)
		}
	}
	return acc
}

// isEmptyValue reports a nil value or an empty array.
func isEmptyValue(x interface{}) bool {
	if x == nil {
		return true
	}
	if a, is := x.([]interface{}); is {
		return len(a) == 0
	}
	return false
}

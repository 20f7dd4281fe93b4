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
	"testing"
	"time"
)

func TestDeepGetSet(t *testing.T) {
	m := map[string]interface{}{}
	deepSet(m, []string{"user", "email"}, "a@b")
	if got := deepGet(m, []string{"user", "email"}); got != "a@b" {
		t.Fatalf("got %#v", got)
	}
	if got := deepGet(m, []string{"user", "missing", "deep"}); got != nil {
		t.Fatalf("got %#v", got)
	}

	arr := map[string]interface{}{
		"items": []interface{}{"a", "b"},
	}
	if got := deepGet(arr, []string{"items", "1"}); got != "b" {
		t.Fatalf("got %#v", got)
	}
	if got := deepGet(arr, []string{"items", "9"}); got != nil {
		t.Fatalf("got %#v", got)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"2", 2 * time.Second},
		{"1.5", 1500 * time.Millisecond},
	}
	for _, c := range cases {
		got, err := parseDuration(c.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("parseDuration(%q) = %v", c.in, got)
		}
	}
	if _, err := parseDuration("nope"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(3), "3"},
		{float64(3), "3"},
		{3.5, "3.5"},
		{true, "true"},
		{[]interface{}{1, 2}, "[1,2]"},
	}
	for _, c := range cases {
		if got := stringify(c.in); got != c.want {
			t.Fatalf("stringify(%#v) = %q", c.in, got)
		}
	}
}

func TestTruthy(t *testing.T) {
	for _, x := range []interface{}{true, 1, int64(2), 3.5, "x", map[string]interface{}{}} {
		if !truthy(x) {
			t.Fatalf("%#v should be truthy", x)
		}
	}
	for _, x := range []interface{}{nil, false, 0, int64(0), 0.0, ""} {
		if truthy(x) {
			t.Fatalf("%#v should be falsy", x)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	x, err := Canonicalize(map[string]interface{}{"n": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	m := x.(map[string]interface{})
	if m["n"] != float64(1) {
		t.Fatalf("got %#v", m["n"])
	}
}

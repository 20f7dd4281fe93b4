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
)

func TestParseOn(t *testing.T) {
	cases := []struct {
		doc  string
		in   string
		want []OnEntry
	}{
		{
			"single entry",
			`click: @ui.counter++`,
			[]OnEntry{{"click", "@ui.counter++"}},
		},
		{
			"two entries",
			`click: a(); change: b()`,
			[]OnEntry{{"click", "a()"}, {"change", "b()"}},
		},
		{
			"semicolon in string",
			`click: emit('x', 'a;b')`,
			[]OnEntry{{"click", "emit('x', 'a;b')"}},
		},
		{
			"colon in object literal",
			`click: emit('notice', {msg: 'hi', n: 1})`,
			[]OnEntry{{"click", "emit('notice', {msg: 'hi', n: 1})"}},
		},
		{
			"ternary after the separator",
			`click: @ui.x = @ui.y ? 1 : 2`,
			[]OnEntry{{"click", "@ui.x = @ui.y ? 1 : 2"}},
		},
		{
			"continuation without a colon",
			`click: let a = 1; a++; @ui.x = a`,
			[]OnEntry{{"click", "let a = 1; a++; @ui.x = a"}},
		},
		{
			"template string with ${} nesting",
			"click: emit('x', `a ${1 + 2; } b`)",
			[]OnEntry{{"click", "emit('x', `a ${1 + 2; } b`)"}},
		},
		{
			"every entry",
			`every 5s: refresh('o'); click: a()`,
			[]OnEntry{{"every 5s", "refresh('o')"}, {"click", "a()"}},
		},
		{
			"empty code dropped",
			`click: ; change: b()`,
			[]OnEntry{{"change", "b()"}},
		},
		{
			"escaped quote",
			`click: emit('x', 'it\'s; fine')`,
			[]OnEntry{{"click", `emit('x', 'it\'s; fine')`}},
		},
	}

	for _, c := range cases {
		got := ParseOn(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%s: got %#v", c.doc, got)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%s: entry %d: got %#v, expected %#v", c.doc, i, got[i], c.want[i])
			}
		}
	}
}

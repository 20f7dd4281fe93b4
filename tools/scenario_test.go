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

package tools

import (
	"testing"
)

var counterScenario = `
doc: Click a counter three times.
page: |
  <body>
    <state name="ui" counter="0"></state>
    <button id="b" jtx-on="click: @ui.counter++">+</button>
    <span id="out" jtx-text="@ui.counter"></span>
  </body>
steps:
  - target: "#out"
    expectText: "0"
  - event: click
    target: "#b"
  - event: click
    target: "#b"
  - event: click
    target: "#b"
  - target: "#out"
    expectText: "3"
`

func TestCounterScenario(t *testing.T) {
	s, err := LoadScenario([]byte(counterScenario))
	if err != nil {
		t.Fatal(err)
	}
	ses, err := NewSession(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ses.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioFailure(t *testing.T) {
	s, err := LoadScenario([]byte(`
page: "<body><span id='x'>hello</span></body>"
steps:
  - target: "#x"
    expectText: "goodbye"
`))
	if err != nil {
		t.Fatal(err)
	}
	ses, err := NewSession(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ses.Run(); err == nil {
		t.Fatal("expected a failure")
	}
}

func TestScenarioAttrAndGone(t *testing.T) {
	s, err := LoadScenario([]byte(`
page: |
  <body>
    <state name="ui" on="true"></state>
    <div id="d" jtx-if="@ui.on" jtx-attr-data-n="1 + 1"></div>
    <button id="b" jtx-on="click: @ui.on = false">x</button>
  </body>
steps:
  - target: "#d"
    expectAttr: "data-n=2"
  - event: click
    target: "#b"
  - target: "#d"
    expectGone: true
`))
	if err != nil {
		t.Fatal(err)
	}
	ses, err := NewSession(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ses.Run(); err != nil {
		t.Fatal(err)
	}
}

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

// Package tools runs YAML-scripted page scenarios: load a page,
// dispatch events, assert rendered output.  Useful for manual
// examples and for exercising a page without a browser.
package tools

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/jtx-io/jtx/core"
	"github.com/jtx-io/jtx/dom"

	"gopkg.in/yaml.v2"
)

// Scenario is one scripted session against a page.
type Scenario struct {
	Doc   string  `yaml:"doc,omitempty"`
	Page  string  `yaml:"page"`     // inline HTML
	File  string  `yaml:"file"`     // or a path to it
	Steps []*Step `yaml:"steps"`
}

// Step is one scripted action.  Exactly one field group applies.
type Step struct {
	Doc string `yaml:"doc,omitempty"`

	// Event dispatches a DOM event at the target.
	Event  string                 `yaml:"event,omitempty"`
	Target string                 `yaml:"target,omitempty"` // #id or tag
	Detail map[string]interface{} `yaml:"detail,omitempty"`

	// Flush runs pending renders (also implied by other steps).
	Flush bool `yaml:"flush,omitempty"`

	// Drain waits for in-flight fetches.
	Drain bool `yaml:"drain,omitempty"`

	// Expectations against the rendered page.
	ExpectText string `yaml:"expectText,omitempty"`
	ExpectAttr string `yaml:"expectAttr,omitempty"` // "key=value"
	ExpectGone bool   `yaml:"expectGone,omitempty"`
}

// Session is a loaded scenario bound to a live engine.
type Session struct {
	Scenario *Scenario
	Doc      *dom.Document
	Engine   *core.Engine
}

// LoadScenario reads a scenario from YAML.
func LoadScenario(bs []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// NewSession parses the scenario's page and initializes an engine
// over it.
func NewSession(s *Scenario, opts *core.Options) (*Session, error) {
	page := s.Page
	if page == "" && s.File != "" {
		bs, err := ioutil.ReadFile(s.File)
		if err != nil {
			return nil, err
		}
		page = string(bs)
	}
	if page == "" {
		return nil, fmt.Errorf("scenario has no page")
	}
	doc, err := dom.ParseString(page)
	if err != nil {
		return nil, err
	}
	e := core.NewEngine(doc, opts)
	if err := e.Init(nil); err != nil {
		return nil, err
	}
	return &Session{Scenario: s, Doc: doc, Engine: e}, nil
}

// Run executes every step, stopping at the first failure.
func (ses *Session) Run() error {
	for i, step := range ses.Scenario.Steps {
		if err := ses.RunStep(step); err != nil {
			return fmt.Errorf("step %d: %s", i, err)
		}
	}
	return nil
}

func (ses *Session) find(target string) *dom.Node {
	if strings.HasPrefix(target, "#") {
		return ses.Doc.Root.ByID(target[1:])
	}
	hits := ses.Doc.Root.ByTag(target)
	if len(hits) == 0 {
		return nil
	}
	return hits[0]
}

// RunStep executes one step.
func (ses *Session) RunStep(step *Step) error {
	var n *dom.Node
	if step.Target != "" {
		if n = ses.find(step.Target); n == nil && !step.ExpectGone {
			return fmt.Errorf("no element %q", step.Target)
		}
	}

	if step.Event != "" {
		if n == nil {
			return fmt.Errorf("event %q needs a target", step.Event)
		}
		n.Dispatch(step.Event, step.Detail)
		ses.Engine.Flush()
	}
	if step.Drain {
		ses.Engine.Drain()
		ses.Engine.Flush()
	}
	if step.Flush {
		ses.Engine.Flush()
	}

	if step.ExpectGone {
		if n != nil {
			return fmt.Errorf("%q still present", step.Target)
		}
		return nil
	}
	if step.ExpectText != "" {
		got := strings.TrimSpace(n.Text())
		if got != step.ExpectText {
			return fmt.Errorf("%q text %q, expected %q", step.Target, got, step.ExpectText)
		}
	}
	if step.ExpectAttr != "" {
		parts := strings.SplitN(step.ExpectAttr, "=", 2)
		want := ""
		if len(parts) == 2 {
			want = parts[1]
		}
		got, have := n.Attr(parts[0])
		if !have {
			return fmt.Errorf("%q has no attribute %q", step.Target, parts[0])
		}
		if got != want {
			return fmt.Errorf("%q attribute %s=%q, expected %q", step.Target, parts[0], got, want)
		}
	}
	return nil
}

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

package dom

import (
	"strings"
	"testing"
)

func TestParseAndRender(t *testing.T) {
	doc, err := ParseString(`<html><body><div id="a" class="x">hi <b>there</b></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	div := doc.Root.ByID("a")
	if div == nil {
		t.Fatal("no #a")
	}
	if got := div.Text(); got != "hi there" {
		t.Fatalf("got %q", got)
	}
	if got := div.OuterHTML(); got != `<div id="a" class="x">hi <b>there</b></div>` {
		t.Fatalf("got %q", got)
	}
}

func TestParseCustomElements(t *testing.T) {
	doc, err := ParseString(`<body><state name="ui" counter="0"></state><insert for="x in @ui.items"><template><li></li></template></insert></body>`)
	if err != nil {
		t.Fatal(err)
	}
	states := doc.Root.ByTag("state")
	if len(states) != 1 {
		t.Fatalf("got %d states", len(states))
	}
	if v, _ := states[0].Attr("counter"); v != "0" {
		t.Fatalf("got %q", v)
	}
	inserts := doc.Root.ByTag("insert")
	if len(inserts) != 1 {
		t.Fatal("no insert")
	}
	tmpl := inserts[0].ByTag("template")
	if len(tmpl) != 1 || tmpl[0].FirstElement() == nil {
		t.Fatal("template did not keep its children")
	}
}

func TestAttrs(t *testing.T) {
	n := NewElement("div")
	n.SetAttr("Hidden", "")
	if !n.HasAttr("hidden") {
		t.Fatal("keys should be case-insensitive")
	}
	n.SetAttr("hidden", "x")
	if v, _ := n.Attr("hidden"); v != "x" {
		t.Fatalf("got %q", v)
	}
	n.RemoveAttr("hidden")
	if n.HasAttr("hidden") {
		t.Fatal("still there")
	}
}

func TestEventsBubbleAndStop(t *testing.T) {
	doc, _ := ParseString(`<body><div id="outer"><div id="inner"></div></div></body>`)
	outer := doc.Root.ByID("outer")
	inner := doc.Root.ByID("inner")

	var log []string
	inner.On("ping", func(ev *Event) {
		log = append(log, "inner")
	})
	outer.On("ping", func(ev *Event) {
		log = append(log, "outer")
	})

	inner.Dispatch("ping", map[string]interface{}{"n": 1})
	if strings.Join(log, ",") != "inner,outer" {
		t.Fatalf("got %v", log)
	}

	log = nil
	inner.On("pong", func(ev *Event) {
		log = append(log, "inner")
		ev.StopPropagation()
	})
	outer.On("pong", func(ev *Event) {
		log = append(log, "outer")
	})
	inner.Dispatch("pong", nil)
	if strings.Join(log, ",") != "inner" {
		t.Fatalf("got %v", log)
	}
}

func TestRemovalObserver(t *testing.T) {
	doc, _ := ParseString(`<body><div id="a"><span id="b"></span></div></body>`)
	var removed []*Node
	doc.ObserveRemovals(func(n *Node) {
		removed = append(removed, n)
	})

	a := doc.Root.ByID("a")
	b := a.ByID("b")
	a.Remove()

	// One notification, for the subtree root only.
	if len(removed) != 1 || removed[0] != a {
		t.Fatalf("got %v", removed)
	}
	if a.Connected() || b.Connected() {
		t.Fatal("still connected")
	}
}

func TestReplaceChild(t *testing.T) {
	doc, _ := ParseString(`<body><ul id="u"><li id="x"></li></ul></body>`)
	u := doc.Root.ByID("u")
	old := doc.Root.ByID("x")
	repl := NewElement("li")
	repl.SetAttr("id", "y")
	u.ReplaceChild(repl, old)
	if doc.Root.ByID("x") != nil {
		t.Fatal("old still present")
	}
	if doc.Root.ByID("y") == nil {
		t.Fatal("replacement missing")
	}
	if !repl.Connected() || old.Connected() {
		t.Fatal("bad connectivity")
	}
}

func TestCloneDetached(t *testing.T) {
	doc, _ := ParseString(`<body><div id="a" data-x="1"><i>t</i></div></body>`)
	a := doc.Root.ByID("a")
	c := a.Clone()
	if c.Connected() {
		t.Fatal("clone should be detached")
	}
	c.SetAttr("data-x", "2")
	if v, _ := a.Attr("data-x"); v != "1" {
		t.Fatal("clone shares attrs")
	}
	if c.Text() != "t" {
		t.Fatal("lost children")
	}
}

func TestSetHTML(t *testing.T) {
	n := NewElement("div")
	if err := n.SetHTML(`<b>hi</b> there`); err != nil {
		t.Fatal(err)
	}
	if got := n.HTML(); got != "<b>hi</b> there" {
		t.Fatalf("got %q", got)
	}
	n.SetText("plain")
	if got := n.HTML(); got != "plain" {
		t.Fatalf("got %q", got)
	}
}

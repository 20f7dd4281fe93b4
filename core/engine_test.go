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
	"net/url"
	"strings"
	"testing"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/storage"
	. "github.com/jtx-io/jtx/util/testutil"
)

func load(t *testing.T, page string, opts *Options) (*dom.Document, *Engine) {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(doc, opts)
	if err := e.Init(nil); err != nil {
		t.Fatal(err)
	}
	return doc, e
}

// checkFlushed asserts the universal post-flush invariants: empty
// pending sets and a bidirectionally consistent dependency graph.
func checkFlushed(t *testing.T, e *Engine) {
	t.Helper()
	for _, s := range e.allStates {
		if len(s.pendingKeys) != 0 {
			t.Fatalf("state %s still has pending keys %v", s.name, s.pendingKeys)
		}
	}
	for b, deps := range e.bindingDeps {
		for d := range deps {
			if !e.depBindings[d][b] {
				t.Fatalf("dep %s missing binding %s", d.Name(), b.kind)
			}
		}
	}
	for d, bs := range e.depBindings {
		for b := range bs {
			if !e.bindingDeps[b][d] {
				t.Fatalf("binding %s missing dep %s", b.kind, d.Name())
			}
		}
	}
}

func TestCounter(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" counter="0"></state>
		<button id="b" jtx-on="click: @ui.counter++">+</button>
		<span id="out" jtx-text="@ui.counter"></span>
	</body>`, nil)

	var updates []map[string]interface{}
	doc.Root.ByTag("state")[0].On("update", func(ev *dom.Event) {
		updates = append(updates, ev.Detail)
	})

	out := doc.Root.ByID("out")
	if got := out.Text(); got != "0" {
		t.Fatalf("initial %q", got)
	}

	b := doc.Root.ByID("b")
	for i := 0; i < 3; i++ {
		b.Dispatch("click", nil)
	}

	if got := out.Text(); got != "3" {
		t.Fatalf("got %q", got)
	}
	if len(updates) != 3 {
		t.Fatalf("got %d update events", len(updates))
	}
	keys := updates[0]["keys"].([]string)
	if len(keys) != 1 || keys[0] != "counter" {
		t.Fatalf("got %s", JS(updates[0]))
	}
	checkFlushed(t, e)
}

func TestModelSync(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" query="''"></state>
		<input id="i" type="text" jtx-model="@ui.query">
		<span id="out" jtx-text="@ui.query"></span>
	</body>`, nil)

	in := doc.Root.ByID("i")
	for _, s := range []string{"a", "ab", "abc"} {
		in.Dispatch("input", map[string]interface{}{"value": s})
	}

	if got := doc.Root.ByID("out").Text(); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if v, _ := in.Attr("value"); v != "abc" {
		t.Fatalf("control has %q", v)
	}
	if v, _ := e.states["ui"].Get("query"); v != "abc" {
		t.Fatalf("state has %#v", v)
	}
	checkFlushed(t, e)
}

func TestModelTyping(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="f" n="0" ok="false"></state>
		<input id="num" type="number" jtx-model="@f.n">
		<input id="chk" type="checkbox" jtx-model="@f.ok">
	</body>`, nil)

	doc.Root.ByID("num").Dispatch("input", map[string]interface{}{"value": "3.5"})
	if v, _ := e.states["f"].Get("n"); v != 3.5 {
		t.Fatalf("got %#v", v)
	}
	doc.Root.ByID("num").Dispatch("input", map[string]interface{}{"value": ""})
	if v, _ := e.states["f"].Get("n"); v != nil {
		t.Fatalf("got %#v", v)
	}

	doc.Root.ByID("chk").Dispatch("change", map[string]interface{}{"checked": true})
	if v, _ := e.states["f"].Get("ok"); v != true {
		t.Fatalf("got %#v", v)
	}
	if !doc.Root.ByID("chk").HasAttr("checked") {
		t.Fatal("control not checked")
	}
}

func TestScoping(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" counter="0"></state>
		<span id="outerText" jtx-text="@ui.counter"></span>
		<button id="outerBtn" jtx-on="click: @ui.counter++">+</button>
		<div id="inner">
			<state name="ui" counter="100"></state>
			<span id="innerText" jtx-text="@ui.counter"></span>
			<button id="innerBtn" jtx-on="click: @ui.counter++">+</button>
		</div>
	</body>`, nil)

	doc.Root.ByID("innerBtn").Dispatch("click", nil)
	if got := doc.Root.ByID("innerText").Text(); got != "101" {
		t.Fatalf("inner %q", got)
	}
	if got := doc.Root.ByID("outerText").Text(); got != "0" {
		t.Fatalf("outer %q", got)
	}

	doc.Root.ByID("outerBtn").Dispatch("click", nil)
	if got := doc.Root.ByID("outerText").Text(); got != "1" {
		t.Fatalf("outer %q", got)
	}
	if got := doc.Root.ByID("innerText").Text(); got != "101" {
		t.Fatalf("inner %q", got)
	}
	checkFlushed(t, e)
}

func TestUnknownReference(t *testing.T) {
	var warnings []string
	doc, _ := load(t, `<body>
		<span id="out" jtx-text="@nope.x">fallback</span>
	</body>`, &Options{Logf: func(format string, args ...interface{}) {
		warnings = append(warnings, format)
	}})

	// Unknown names evaluate to an empty object; the missing key
	// yields null, so the initial text is restored.
	if got := doc.Root.ByID("out").Text(); got != "fallback" {
		t.Fatalf("got %q", got)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning")
	}
}

func TestPersist(t *testing.T) {
	store := storage.NewMem()
	doc, e := load(t, `<body>
		<state name="ui" persist="counter" counter="0"></state>
		<button id="b" jtx-on="click: @ui.counter++">+</button>
	</body>`, &Options{Store: store})

	doc.Root.ByID("b").Dispatch("click", nil)

	js, have, err := store.Get("jtx:ui:counter")
	if err != nil || !have {
		t.Fatalf("missing: %v %v", have, err)
	}
	if v := Dwimjs(js); v != float64(1) {
		t.Fatalf("got %s", JS(v))
	}
	checkFlushed(t, e)
}

func TestPersistRestore(t *testing.T) {
	store := storage.NewMem()
	store.Put("jtx:ui:counter", []byte("42"))
	doc, _ := load(t, `<body>
		<state name="ui" persist="counter" counter="0"></state>
		<span id="out" jtx-text="@ui.counter"></span>
	</body>`, &Options{Store: store})

	if got := doc.Root.ByID("out").Text(); got != "42" {
		t.Fatalf("got %q", got)
	}
}

func TestPersistRestoreMalformed(t *testing.T) {
	store := storage.NewMem()
	store.Put("jtx:ui:counter", []byte("{not json"))

	var errors int
	doc, err := dom.ParseString(`<body>
		<state name="ui" persist="counter" counter="7"></state>
		<span id="out" jtx-text="@ui.counter"></span>
	</body>`)
	if err != nil {
		t.Fatal(err)
	}
	doc.Body().On("error", func(*dom.Event) { errors++ })
	e := NewEngine(doc, &Options{Store: store})
	if err := e.Init(nil); err != nil {
		t.Fatal(err)
	}

	// Malformed entries are tolerated: the default survives and an
	// error event fires on the owning state.
	if got := doc.Root.ByID("out").Text(); got != "7" {
		t.Fatalf("got %q", got)
	}
	if errors != 1 {
		t.Fatalf("got %d error events", errors)
	}
}

func TestPersistURL(t *testing.T) {
	loc, _ := url.Parse("http://example.test/page?q=%22start%22")
	doc, e := load(t, `<body>
		<state name="ui" persist-url="q" q="''"></state>
		<input id="i" jtx-model="@ui.q">
	</body>`, &Options{Location: loc})

	// Restored from the query string.
	if v, _ := e.states["ui"].Get("q"); v != "start" {
		t.Fatalf("got %#v", v)
	}

	doc.Root.ByID("i").Dispatch("input", map[string]interface{}{"value": "hi"})
	if got := e.loc.Query().Get("q"); got != `"hi"` {
		t.Fatalf("query has %q", got)
	}

	// Null deletes the parameter.
	e.states["ui"].Set("q", nil)
	e.Flush()
	if _, have := e.loc.Query()["q"]; have {
		t.Fatal("q still in query")
	}
	checkFlushed(t, e)
}

func TestWriteCoalescing(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" a="0" b="0"></state>
		<button id="b" jtx-on="click: @ui.a = 1; @ui.b = 2; @ui.a = 3">go</button>
	</body>`, nil)

	var updates []map[string]interface{}
	doc.Root.ByTag("state")[0].On("update", func(ev *dom.Event) {
		updates = append(updates, ev.Detail)
	})

	doc.Root.ByID("b").Dispatch("click", nil)

	// All writes from one handler land in one flush: one update
	// event carrying both keys and the final values.
	if len(updates) != 1 {
		t.Fatalf("got %d update events", len(updates))
	}
	keys := updates[0]["keys"].([]string)
	if strings.Join(keys, ",") != "a,b" {
		t.Fatalf("got %s", JS(updates[0]))
	}
	value := updates[0]["value"].(map[string]interface{})
	if value["a"] != float64(3) {
		t.Fatalf("got %s", JS(value))
	}
	checkFlushed(t, e)
}

func TestRepeatedWritesOneUpdate(t *testing.T) {
	doc, e := load(t, `<body><state name="ui" x="0"></state></body>`, nil)

	var updates int
	doc.Root.ByTag("state")[0].On("update", func(*dom.Event) { updates++ })

	st := e.states["ui"]
	st.Set("x", 5)
	st.Set("x", 5)
	st.Set("x", 5)
	e.Flush()

	if updates != 1 {
		t.Fatalf("got %d update events", updates)
	}
}

func TestIfRetainsAndRestores(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" show="true"></state>
		<div id="wrap"><span id="a" jtx-if="@ui.show">x</span><span id="z"></span></div>
	</body>`, nil)

	wrap := doc.Root.ByID("wrap")
	if doc.Root.ByID("a") == nil {
		t.Fatal("missing initially")
	}

	e.states["ui"].Set("show", false)
	e.Flush()
	if doc.Root.ByID("a") != nil {
		t.Fatal("still present")
	}

	e.states["ui"].Set("show", true)
	e.Flush()
	a := doc.Root.ByID("a")
	if a == nil {
		t.Fatal("not restored")
	}
	// Original position: before #z.
	if wrap.Kids[0] != a {
		t.Fatal("wrong position")
	}
	checkFlushed(t, e)
}

func TestShowAndAttr(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" on="false" cls="'big'"></state>
		<div id="d" jtx-show="@ui.on" jtx-attr-class="@ui.cls" jtx-attr-disabled="!@ui.on"></div>
	</body>`, nil)

	d := doc.Root.ByID("d")
	if !d.HasAttr("hidden") {
		t.Fatal("should be hidden")
	}
	if v, _ := d.Attr("class"); v != "big" {
		t.Fatalf("class %q", v)
	}
	if !d.HasAttr("disabled") {
		t.Fatal("boolean attr missing")
	}

	e.states["ui"].Set("on", true)
	e.states["ui"].Set("cls", nil)
	e.Flush()
	if d.HasAttr("hidden") {
		t.Fatal("still hidden")
	}
	if d.HasAttr("class") {
		t.Fatal("class not removed")
	}
	if d.HasAttr("disabled") {
		t.Fatal("disabled not removed")
	}
}

func TestHTMLBindingAndSanitizer(t *testing.T) {
	doc, e := load(t, `<body>
		<state name="ui" frag="'<b>bold</b>'"></state>
		<div id="d" jtx-html="@ui.frag">orig</div>
	</body>`, nil)

	d := doc.Root.ByID("d")
	if got := d.HTML(); got != "<b>bold</b>" {
		t.Fatalf("got %q", got)
	}

	e.SetHTMLSanitizer(func(s string) string {
		return strings.ReplaceAll(s, "<b>", "<i>")
	})
	e.states["ui"].Set("frag", "<b>x</b>")
	e.Flush()
	if got := d.HTML(); got != "<i>x</b>" && got != "<i>x</i>" {
		t.Fatalf("got %q", got)
	}

	e.states["ui"].Set("frag", nil)
	e.Flush()
	if got := d.Text(); got != "orig" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanupOnRemoval(t *testing.T) {
	doc, e := load(t, `<body>
		<div id="box">
			<state name="ui" x="1"></state>
			<span jtx-text="@ui.x"></span>
		</div>
	</body>`, nil)

	if _, have := e.states["ui"]; !have {
		t.Fatal("not registered")
	}
	nbindings := len(e.bindingDeps)
	if nbindings == 0 {
		t.Fatal("no bindings")
	}

	doc.Root.ByID("box").Remove()
	e.Flush()

	if _, have := e.states["ui"]; have {
		t.Fatal("still registered")
	}
	if len(e.bindingDeps) != 0 {
		t.Fatalf("%d binding rows left", len(e.bindingDeps))
	}
	checkFlushed(t, e)
}

func TestEmitAndHandlerHelpers(t *testing.T) {
	doc, _ := load(t, `<body>
		<state name="ui" got="''"></state>
		<div id="outer" jtx-on="notice: @ui.got = $event.detail.msg">
			<button id="b" jtx-on="click: emit('notice', {msg: 'hi'})">go</button>
		</div>
		<span id="out" jtx-text="@ui.got"></span>
	</body>`, nil)

	doc.Root.ByID("b").Dispatch("click", nil)
	if got := doc.Root.ByID("out").Text(); got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestContainmentGating(t *testing.T) {
	var warned bool
	doc, _ := load(t, `<body>
		<div id="a">
			<state name="local" x="1"></state>
			<span id="inA" jtx-text="@local.x"></span>
		</div>
		<div id="b">
			<span id="inB" jtx-text="@local.x">far</span>
		</div>
	</body>`, &Options{Logf: func(string, ...interface{}) { warned = true }})

	if got := doc.Root.ByID("inA").Text(); got != "1" {
		t.Fatalf("inA %q", got)
	}
	// The registry hit is gated by containment: a sibling tree with
	// no containing definition resolves to an empty object.
	if got := doc.Root.ByID("inB").Text(); got != "far" {
		t.Fatalf("inB %q", got)
	}
	if !warned {
		t.Fatal("expected a warning")
	}
}

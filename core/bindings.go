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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/interp"

	"github.com/gorhill/cronexpr"
)

// baseLocals are the reserved per-iteration names, always passed in
// this order.
var baseLocals = []string{"$", "$index", "$key", "$root"}

// handlerHelpers are the names exposed to 'on' handler code.
var handlerHelpers = []string{
	"$event", "$el", "emit", "refresh",
	"get", "post", "put", "patch", "del",
	"markdown",
}

// localParams computes the formal parameter list for a locals bag:
// the reserved names first, then any extra item variables sorted.
func localParams(locals map[string]interface{}) []string {
	if locals == nil {
		return nil
	}
	acc := append([]string(nil), baseLocals...)
	base := map[string]bool{}
	for _, k := range baseLocals {
		base[k] = true
	}
	var extra []string
	for k := range locals {
		if !base[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(acc, extra...)
}

// bindAttrs creates bindings for every engine attribute on the
// element.
func (e *Engine) bindAttrs(n *dom.Node, locals map[string]interface{}) {
	for _, a := range append([]dom.Attr(nil), n.Attrs...) {
		kind, is := bindingAttr(a.Key)
		if !is {
			continue
		}
		e.bindOne(n, kind, a.Val, locals)
	}
}

func (e *Engine) bindOne(n *dom.Node, kind, src string, locals map[string]interface{}) {
	switch {
	case kind == "if":
		e.bindIf(n, src, locals)
	case kind == "show":
		e.bindShow(n, src, locals)
	case kind == "text":
		e.bindText(n, src, locals)
	case kind == "html":
		e.bindHTML(n, src, locals)
	case kind == "model":
		e.bindModel(n, src)
	case kind == "on":
		e.bindOn(n, src, locals)
	case strings.HasPrefix(kind, "attr-"):
		e.bindAttr(n, kind[len("attr-"):], src, locals)
	}
}

// compileExpr compiles a read-only binding expression.  Failures are
// logged; the returned nil disables the binding.
func (e *Engine) compileExpr(src string, locals map[string]interface{}) *interp.Compiled {
	c, err := e.in.Compile(src, interp.ExprMode, localParams(locals))
	if err != nil {
		e.logf("warning: %s", err)
		return nil
	}
	return c
}

// evalBinding evaluates a binding's expression, resolving references
// lexically from the element and recording dependencies.  Runtime
// failures are logged and yield (nil, false).
func (e *Engine) evalBinding(c *interp.Compiled, el *dom.Node, locals map[string]interface{}) (interface{}, bool) {
	v, err := c.Eval(&interp.Env{
		Ref:    func(name string) interface{} { return e.resolve(name, el) },
		Locals: locals,
	})
	if err != nil {
		e.logf("warning: expression %q: %s", c.Src, err)
		return nil, false
	}
	return e.unwrap(v), true
}

// bindIf keeps the element in the tree on truthy, and swaps it for a
// placeholder comment on falsy, retaining the node for reinsertion.
func (e *Engine) bindIf(el *dom.Node, src string, locals map[string]interface{}) {
	c := e.compileExpr(src, locals)
	if c == nil {
		return
	}
	var placeholder *dom.Node
	e.newBinding(el, "if", func() {
		// While swapped out, references resolve from the
		// placeholder's position.
		anchor := el
		if placeholder != nil && placeholder.Connected() {
			anchor = placeholder
		}
		v, ok := e.evalBinding(c, anchor, locals)
		t := ok && truthy(v)
		switch {
		case t && placeholder != nil && placeholder.Parent != nil:
			placeholder.Parent.ReplaceChild(el, placeholder)
			el.DelProp(propRetained)
			placeholder = nil
		case !t && el.Parent != nil:
			ph := dom.NewComment(Prefix + ":if")
			el.SetProp(propRetained, true)
			el.Parent.ReplaceChild(ph, el)
			placeholder = ph
			// If the placeholder itself leaves the tree
			// while the element is out, the element's
			// subtree gets its teardown then.
			e.addCleanup(ph, func() {
				if !el.Connected() {
					e.teardownTree(el)
				}
			})
		}
	})
}

// bindShow toggles the hidden marker; the element stays connected.
func (e *Engine) bindShow(el *dom.Node, src string, locals map[string]interface{}) {
	c := e.compileExpr(src, locals)
	if c == nil {
		return
	}
	e.newBinding(el, "show", func() {
		v, ok := e.evalBinding(c, el, locals)
		if ok && truthy(v) {
			el.RemoveAttr("hidden")
		} else {
			el.SetAttr("hidden", "")
		}
	})
}

// bindText assigns the expression result as text content; null
// restores the initial text captured at bind time.
func (e *Engine) bindText(el *dom.Node, src string, locals map[string]interface{}) {
	c := e.compileExpr(src, locals)
	if c == nil {
		return
	}
	initial := el.Text()
	e.newBinding(el, "text", func() {
		v, ok := e.evalBinding(c, el, locals)
		if !ok || v == nil {
			el.SetText(initial)
			return
		}
		el.SetText(stringify(v))
	})
}

// bindHTML passes the result through the configured sanitizer and
// replaces the element's HTML; null restores the initial content.
func (e *Engine) bindHTML(el *dom.Node, src string, locals map[string]interface{}) {
	c := e.compileExpr(src, locals)
	if c == nil {
		return
	}
	initial := cloneKids(el)
	e.newBinding(el, "html", func() {
		v, ok := e.evalBinding(c, el, locals)
		if !ok || v == nil {
			restoreKids(el, initial)
			return
		}
		if err := el.SetHTML(e.sanitizeHTML(stringify(v))); err != nil {
			e.logf("warning: html binding: %s", err)
		}
	})
}

func (e *Engine) sanitizeHTML(s string) string {
	if e.sanitizer == nil {
		return s
	}
	return e.sanitizer(s)
}

func cloneKids(el *dom.Node) []*dom.Node {
	acc := make([]*dom.Node, 0, len(el.Kids))
	for _, kid := range el.Kids {
		acc = append(acc, kid.Clone())
	}
	return acc
}

func restoreKids(el *dom.Node, kids []*dom.Node) {
	for len(el.Kids) > 0 {
		el.Kids[len(el.Kids)-1].Remove()
	}
	for _, kid := range kids {
		el.AppendChild(kid.Clone())
	}
}

// bindAttr maintains one host attribute from an expression.
func (e *Engine) bindAttr(el *dom.Node, name, src string, locals map[string]interface{}) {
	c := e.compileExpr(src, locals)
	if c == nil {
		return
	}
	e.newBinding(el, "attr-"+name, func() {
		v, ok := e.evalBinding(c, el, locals)
		if !ok {
			v = nil
		}
		switch vv := v.(type) {
		case nil:
			el.RemoveAttr(name)
		case bool:
			if vv {
				el.SetAttr(name, "")
			} else {
				el.RemoveAttr(name)
			}
		default:
			el.SetAttr(name, stringify(v))
		}
	})
}

// modelPattern matches '@name.path.to.key'.
var modelPattern = regexp.MustCompile(`^@([A-Za-z_][\w$]*)((?:\.[A-Za-z_$][\w$]*)*)$`)

// bindModel wires two-way sync between a form control and a state
// path.
func (e *Engine) bindModel(el *dom.Node, ref string) {
	m := modelPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		e.logf("warning: bad model reference %q", ref)
		return
	}
	name := m[1]
	path := parsePath(strings.TrimPrefix(m[2], "."))

	push := func(ev *dom.Event) {
		e.enter()
		defer e.leave()
		d := e.lookup(name, el)
		st, is := d.(*State)
		if !is {
			e.logf("warning: model %q does not name a state", ref)
			return
		}
		v := controlValue(el, ev)
		if len(path) == 0 {
			e.logf("warning: model %q has no key path", ref)
			return
		}
		st.SetPath(path, v)
	}
	el.On("input", push)
	el.On("change", push)

	e.newBinding(el, "model", func() {
		r, is := e.resolve(name, el).(*interp.Ref)
		if !is || r.State == nil {
			return
		}
		v := deepGet(r.Live(), path)
		writeControl(el, v)
	})
}

// controlValue reads a form control type-aware: checkbox→boolean,
// numeric input→number or null, multi-select→array.
func controlValue(el *dom.Node, ev *dom.Event) interface{} {
	typ := el.AttrOr("type", "")
	multiple := el.Tag == "select" && el.HasAttr("multiple")

	var detail map[string]interface{}
	if ev != nil {
		detail = ev.Detail
	}

	switch {
	case typ == "checkbox":
		if detail != nil {
			if v, have := detail["checked"]; have {
				return truthy(v)
			}
		}
		return el.HasAttr("checked")
	case multiple:
		if detail != nil {
			if v, have := detail["values"]; have {
				return v
			}
		}
		var acc []interface{}
		for _, opt := range el.ByTag("option") {
			if opt.HasAttr("selected") {
				acc = append(acc, opt.AttrOr("value", opt.Text()))
			}
		}
		return acc
	}

	var raw string
	if detail != nil {
		if v, have := detail["value"]; have {
			raw = stringify(v)
		} else {
			raw = el.AttrOr("value", "")
		}
	} else {
		raw = el.AttrOr("value", "")
	}

	if typ == "number" || typ == "range" {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return n
	}
	return raw
}

// writeControl pushes the model-shaped value back to the control.
func writeControl(el *dom.Node, v interface{}) {
	typ := el.AttrOr("type", "")
	switch {
	case typ == "checkbox":
		if truthy(v) {
			el.SetAttr("checked", "")
		} else {
			el.RemoveAttr("checked")
		}
	case el.Tag == "select" && el.HasAttr("multiple"):
		want := map[string]bool{}
		if a, is := v.([]interface{}); is {
			for _, x := range a {
				want[stringify(x)] = true
			}
		}
		for _, opt := range el.ByTag("option") {
			if want[opt.AttrOr("value", opt.Text())] {
				opt.SetAttr("selected", "")
			} else {
				opt.RemoveAttr("selected")
			}
		}
	default:
		el.SetAttr("value", stringify(v))
	}
}

// bindOn parses the 'on' attribute and attaches listeners and
// intervals.
func (e *Engine) bindOn(el *dom.Node, src string, locals map[string]interface{}) {
	for _, entry := range ParseOn(src) {
		entry := entry
		switch {
		case strings.HasPrefix(entry.Event, "every "):
			d, err := parseDuration(entry.Event[len("every "):])
			if err != nil {
				e.logf("warning: bad interval %q: %s", entry.Event, err)
				continue
			}
			e.everyHandler(el, d, entry.Code, locals)
		case strings.HasPrefix(entry.Event, "cron "):
			e.cronHandler(el, entry.Event[len("cron "):], entry.Code, locals)
		default:
			el.On(entry.Event, func(ev *dom.Event) {
				e.enter()
				defer e.leave()
				e.runHandler(el, entry.Code, locals, ev)
			})
		}
	}
}

// runHandler compiles (cached) and runs handler code in statement
// mode.  Handler failures are logged; no error escapes.
func (e *Engine) runHandler(el *dom.Node, code string, locals map[string]interface{}, ev *dom.Event) {
	params := append([]string(nil), handlerHelpers...)
	params = append(params, localParams(locals)...)

	c, err := e.in.Compile(code, interp.StmtMode, params)
	if err != nil {
		e.logf("warning: %s", err)
		return
	}

	env := make(map[string]interface{}, len(params))
	for k, v := range locals {
		env[k] = v
	}
	if ev != nil {
		env["$event"] = map[string]interface{}{
			"type":   ev.Type,
			"detail": ev.Detail,
		}
	}
	env["$el"] = el
	env["emit"] = func(name string, detail interface{}) {
		e.enter()
		defer e.leave()
		d, _ := detail.(map[string]interface{})
		el.Dispatch(name, d)
	}
	env["refresh"] = func(x interface{}) {
		e.enter()
		defer e.leave()
		e.refreshAny(x, el)
	}
	env["markdown"] = interp.Markdown
	for _, verb := range []string{"get", "post", "put", "patch", "del"} {
		verb := verb
		env[verb] = func(url string, args ...interface{}) interface{} {
			var body, headers interface{}
			if len(args) > 0 {
				body = args[0]
			}
			if len(args) > 1 {
				headers = args[1]
			}
			return e.fetchJSON(verb, url, body, headers)
		}
	}

	if _, err := c.Eval(&interp.Env{
		Ref:    func(name string) interface{} { return e.resolve(name, el) },
		Locals: env,
	}); err != nil {
		e.logf("warning: handler %q: %s", code, err)
	}
	e.scheduleRender()
}

// refreshAny re-triggers a source given its name or its reference.
func (e *Engine) refreshAny(x interface{}, el *dom.Node) {
	switch vv := x.(type) {
	case string:
		if d, is := e.lookup(vv, el).(*Source); is {
			d.Refresh()
			return
		}
		if s, have := e.sources[vv]; have {
			s.Refresh()
			return
		}
		e.logf("warning: refresh: unknown source %q", vv)
	default:
		if r := e.in.AsRef(x); r != nil && r.Source != nil {
			r.Source.Refresh()
			return
		}
		e.logf("warning: refresh: not a source reference")
	}
}

// everyHandler runs handler code periodically; the interval clears on
// element removal.
func (e *Engine) everyHandler(el *dom.Node, d time.Duration, code string, locals map[string]interface{}) {
	stop := make(chan struct{})
	e.addCleanup(el, func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
	})
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.Do(func() { e.runHandler(el, code, locals, nil) })
			case <-stop:
				return
			}
		}
	}()
}

// cronHandler runs handler code on a crontab schedule.
func (e *Engine) cronHandler(el *dom.Node, expr, code string, locals map[string]interface{}) {
	x, err := cronexpr.Parse(expr)
	if err != nil {
		e.logf("warning: bad cron %q: %s", expr, err)
		return
	}
	stop := make(chan struct{})
	e.addCleanup(el, func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
	})
	go func() {
		for {
			next := x.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-time.After(time.Until(next)):
				e.Do(func() { e.runHandler(el, code, locals, nil) })
			case <-stop:
				return
			}
		}
	}()
}

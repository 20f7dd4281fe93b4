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
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/interp"
)

// forPattern matches 'item in expr' and 'item,key in expr'.
var forPattern = regexp.MustCompile(`^\s*([A-Za-z_$][\w$]*)\s*(?:,\s*([A-Za-z_$][\w$]*)\s*)?\s+in\s+(.+?)\s*$`)

// listEntry is one rendered item.
type listEntry struct {
	key  string
	node *dom.Node
}

// list materializes a keyed collection from a template blueprint.
type list struct {
	e  *Engine
	el *dom.Node

	itemVar string
	keyVar  string
	rhs     *interp.Compiled
	keyExpr *interp.Compiled

	strategy string // replace, append, prepend
	merge    bool
	window   int

	blueprint *dom.Node
	slots     map[string]*dom.Node

	entries []listEntry

	// snaps preserves scoped-state values by item key across
	// re-renders.
	snaps map[string]map[string]map[string]interface{}

	everNonEmpty bool
	lastCount    int
}

// bindInsert compiles an <insert> element: a scalar insert when a
// text/html attribute is present, a list insert when 'for' is.
func (e *Engine) bindInsert(el *dom.Node) {
	slots := make(map[string]*dom.Node)
	for _, kid := range el.Elements() {
		switch kid.Tag {
		case "loading", "error", "empty":
			kid.SetAttr("hidden", "")
			slots[kid.Tag] = kid
		}
	}

	if forSpec, have := el.Attr("for"); have {
		e.bindList(el, forSpec, slots)
		return
	}
	if src, have := el.Attr("text"); have {
		e.bindScalarInsert(el, "text", src, slots)
		return
	}
	if src, have := el.Attr("html"); have {
		e.bindScalarInsert(el, "html", src, slots)
		return
	}
	e.logf("warning: <insert> needs one of for, text, html")
}

func (e *Engine) bindList(el *dom.Node, forSpec string, slots map[string]*dom.Node) {
	m := forPattern.FindStringSubmatch(forSpec)
	if m == nil {
		e.logf("warning: bad for %q", forSpec)
		return
	}

	li := &list{
		e:        e,
		el:       el,
		itemVar:  m[1],
		keyVar:   m[2],
		strategy: "replace",
		slots:    slots,
		snaps:    make(map[string]map[string]map[string]interface{}),
	}

	var err error
	if li.rhs, err = e.in.Compile(m[3], interp.ExprMode, nil); err != nil {
		e.logf("warning: %s", err)
		return
	}
	if keySrc, have := el.Attr("key"); have {
		if li.keyExpr, err = e.in.Compile(keySrc, interp.ExprMode, localParams(li.locals(nil, 0, nil, nil, ""))); err != nil {
			e.logf("warning: %s", err)
			return
		}
	}

	for _, tok := range strings.FieldsFunc(el.AttrOr("strategy", ""), func(r rune) bool {
		return r == ' ' || r == ',' || r == '+'
	}) {
		switch tok {
		case "":
		case "merge":
			li.merge = true
		case "replace", "append", "prepend":
			li.strategy = tok
		default:
			e.logf("warning: unknown strategy %q", tok)
		}
	}
	if w := el.AttrOr("window", ""); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 1 {
			e.logf("warning: bad window %q", w)
		} else {
			li.window = n
		}
	}
	// Every strategy other than pure replace needs a window; without
	// one the binding is rejected rather than left to grow without
	// bound.
	if li.window == 0 && (li.strategy != "replace" || li.merge) {
		li.fireError(fmt.Sprintf("strategy %q requires a window", el.AttrOr("strategy", "")))
		return
	}

	var tmpl *dom.Node
	for _, kid := range el.Elements() {
		if kid.Tag == "template" {
			tmpl = kid
			break
		}
	}
	if tmpl == nil || tmpl.FirstElement() == nil {
		e.logf("warning: list %s has no template", forSpec)
		return
	}
	li.blueprint = tmpl.FirstElement()

	e.addCleanup(el, func() {
		el.Dispatch("clear", map[string]interface{}{})
	})

	e.newBinding(el, "list", li.update)
}

// locals builds the per-item variable bag.
func (li *list) locals(item interface{}, idx int, iterKey, root interface{}, key string) map[string]interface{} {
	m := map[string]interface{}{
		li.itemVar: item,
		"$":        item,
		"$index":   idx,
		"$key":     key,
		"$root":    root,
	}
	if li.keyVar != "" {
		m[li.keyVar] = iterKey
	}
	return m
}

// iteration is the normalized form of the right-hand side.
type iteration struct {
	items    []interface{}
	iterKeys []interface{} // index or object key, per item
}

// iterate normalizes any value into an item sequence.  null is a
// single-element iteration so a list can start from a scalar; objects
// need a declared key variable.
func (li *list) iterate(v interface{}) (*iteration, error) {
	switch vv := v.(type) {
	case []interface{}:
		it := &iteration{items: vv}
		for i := range vv {
			it.iterKeys = append(it.iterKeys, i)
		}
		return it, nil
	case map[string]interface{}:
		// Without a key variable an object is a single item, not
		// a collection.
		if li.keyVar == "" {
			return &iteration{items: []interface{}{v}, iterKeys: []interface{}{0}}, nil
		}
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		it := &iteration{}
		for _, k := range keys {
			it.items = append(it.items, vv[k])
			it.iterKeys = append(it.iterKeys, k)
		}
		return it, nil
	default:
		return &iteration{items: []interface{}{v}, iterKeys: []interface{}{0}}, nil
	}
}

// deriveKeys computes the per-item string identities and validates
// the batch: every key non-null, non-empty, and (outside merge)
// unique.
func (li *list) deriveKeys(it *iteration, root interface{}) ([]string, error) {
	keys := make([]string, 0, len(it.items))
	for i, item := range it.items {
		var key string
		if li.keyExpr != nil {
			locals := li.locals(item, i, it.iterKeys[i], root, stringify(it.iterKeys[i]))
			v, err := li.keyExpr.Eval(&interp.Env{
				Ref:    func(name string) interface{} { return li.e.resolve(name, li.el) },
				Locals: locals,
			})
			if err != nil {
				return nil, fmt.Errorf("key derivation: %s", err)
			}
			v = li.e.unwrap(v)
			if v == nil {
				return nil, fmt.Errorf("key derivation yielded null at index %d", i)
			}
			key = stringify(v)
		} else {
			key = stringify(it.iterKeys[i])
		}
		if key == "" {
			return nil, fmt.Errorf("empty key at index %d", i)
		}
		keys = append(keys, key)
	}
	if !li.merge {
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			if seen[k] {
				return nil, fmt.Errorf("duplicate key %q in batch", k)
			}
			seen[k] = true
		}
	}
	return keys, nil
}

func (li *list) fireError(msg string) {
	li.e.logf("warning: list: %s", msg)
	li.e.enter()
	defer li.e.leave()
	li.el.Dispatch("error", map[string]interface{}{"error": msg})
}

// update is the list binding's update function.
func (li *list) update() {
	v, ok := li.e.evalBinding(li.rhs, li.el, nil)
	if !ok {
		return
	}
	it, err := li.iterate(v)
	if err == nil {
		var keys []string
		if keys, err = li.deriveKeys(it, v); err == nil {
			li.apply(it, keys, v)
			return
		}
	}
	li.fireError(err.Error())
}

// apply reconciles the incoming batch per the configured strategy.
// Event order within one flush: remove, slots, init, add, update,
// empty.
func (li *list) apply(it *iteration, keys []string, root interface{}) {
	var (
		removed []string
		added   []interface{}
		updated []interface{}
	)

	if li.merge {
		removed, added, updated = li.applyMerge(it, keys, root)
	} else {
		switch li.strategy {
		case "append", "prepend":
			removed, added = li.applyShift(it, keys, root)
		default:
			removed, added = li.applyReplace(it, keys, root)
		}
	}

	count := len(li.entries)

	if len(removed) > 0 {
		li.fire("remove", map[string]interface{}{"keys": removed})
	}
	li.reconcileSlots(count)
	if count > 0 && !li.everNonEmpty {
		li.everNonEmpty = true
		li.fire("init", map[string]interface{}{"count": count})
	}
	if len(added) > 0 {
		li.fire("add", map[string]interface{}{"items": added})
	}
	if len(updated) > 0 {
		li.fire("update", map[string]interface{}{"items": updated})
	}
	if count == 0 && li.lastCount > 0 {
		li.fire("empty", map[string]interface{}{})
	}
	li.lastCount = count
}

// applyReplace deletes and rebuilds, restoring scoped state by key
// when a key reappears.
func (li *list) applyReplace(it *iteration, keys []string, root interface{}) (removed []string, added []interface{}) {
	for _, en := range li.entries {
		removed = append(removed, en.key)
		li.captureSnaps(en)
		en.node.Remove()
	}
	li.entries = nil

	for i, item := range it.items {
		node := li.buildItem(item, i, it.iterKeys[i], keys[i], root)
		li.el.AppendChild(node)
		li.e.bindTree(node)
		li.entries = append(li.entries, listEntry{key: keys[i], node: node})
		added = append(added, item)
	}
	if li.window > 0 {
		removed = append(removed, li.trim(false)...)
	}
	return removed, added
}

// applyShift appends or prepends the batch with no de-duplication,
// then trims from the opposite end.
func (li *list) applyShift(it *iteration, keys []string, root interface{}) (removed []string, added []interface{}) {
	prepend := li.strategy == "prepend"
	anchor := li.firstItemNode()

	fresh := make([]listEntry, 0, len(it.items))
	for i, item := range it.items {
		node := li.buildItem(item, i, it.iterKeys[i], keys[i], root)
		if prepend {
			li.el.InsertBefore(node, anchor)
		} else {
			li.el.AppendChild(node)
		}
		li.e.bindTree(node)
		fresh = append(fresh, listEntry{key: keys[i], node: node})
		added = append(added, item)
	}
	if prepend {
		li.entries = append(fresh, li.entries...)
	} else {
		li.entries = append(li.entries, fresh...)
	}
	removed = li.trim(prepend)
	return removed, added
}

// applyMerge replaces nodes in place by key, inserts unknown keys at
// the strategy's end, and retains items absent from the batch.
func (li *list) applyMerge(it *iteration, keys []string, root interface{}) (removed []string, added, updated []interface{}) {
	prepend := li.strategy == "prepend"
	anchor := li.firstItemNode()

	for i, item := range it.items {
		key := keys[i]
		if idx := li.find(key); idx >= 0 {
			old := li.entries[idx]
			li.captureSnaps(old)
			node := li.buildItem(item, i, it.iterKeys[i], key, root)
			li.el.ReplaceChild(node, old.node)
			li.e.bindTree(node)
			li.entries[idx].node = node
			updated = append(updated, item)
			continue
		}
		node := li.buildItem(item, i, it.iterKeys[i], key, root)
		if prepend {
			li.el.InsertBefore(node, anchor)
		} else {
			li.el.AppendChild(node)
		}
		li.e.bindTree(node)
		li.entries = append(li.entries, listEntry{key: key, node: node})
		added = append(added, item)
	}
	// The DOM is the order of record after in-place edits.
	li.entries = li.scanEntries()
	removed = li.trim(prepend)
	return removed, added, updated
}

// scanEntries rebuilds the ordered key list from the rendered nodes.
func (li *list) scanEntries() []listEntry {
	byNode := make(map[*dom.Node]string, len(li.entries))
	for _, en := range li.entries {
		byNode[en.node] = en.key
	}
	acc := make([]listEntry, 0, len(li.entries))
	for _, kid := range li.el.Kids {
		if key, have := byNode[kid]; have {
			acc = append(acc, listEntry{key: key, node: kid})
		}
	}
	return acc
}

// trim enforces the window: append trims the head, prepend the tail.
func (li *list) trim(prepend bool) (removed []string) {
	if li.window <= 0 {
		return nil
	}
	for len(li.entries) > li.window {
		var en listEntry
		if prepend {
			en = li.entries[len(li.entries)-1]
			li.entries = li.entries[:len(li.entries)-1]
		} else {
			en = li.entries[0]
			li.entries = li.entries[1:]
		}
		li.captureSnaps(en)
		en.node.Remove()
		removed = append(removed, en.key)
	}
	return removed
}

// find locates a rendered entry by key.
func (li *list) find(key string) int {
	for i, en := range li.entries {
		if en.key == key {
			return i
		}
	}
	return -1
}

// firstItemNode returns the first rendered item node, the prepend
// anchor.
func (li *list) firstItemNode() *dom.Node {
	if len(li.entries) == 0 {
		return nil
	}
	return li.entries[0].node
}

// captureSnaps records the scoped-state values inside an item so a
// later render of the same key can restore them.
func (li *list) captureSnaps(en listEntry) {
	var acc map[string]map[string]interface{}
	en.node.Walk(func(n *dom.Node) bool {
		if d, have := n.Prop(propDef); have {
			if st, is := d.(Def).(*State); is && st.scoped {
				if acc == nil {
					acc = make(map[string]map[string]interface{})
				}
				acc[st.name] = st.snapshot()
			}
		}
		return true
	})
	if acc != nil {
		li.snaps[en.key] = acc
	}
}

// buildItem clones the blueprint and compiles it for one item.
// Attributes whose expressions reference a local are evaluated
// immediately and stripped; the rest become normal reactive bindings
// when the caller binds the subtree.
func (li *list) buildItem(item interface{}, idx int, iterKey interface{}, key string, root interface{}) *dom.Node {
	node := li.blueprint.Clone()
	node.SetAttr(keyAttr, key)
	locals := li.locals(item, idx, iterKey, root, key)
	localNames := make([]string, 0, len(locals))
	for k := range locals {
		localNames = append(localNames, k)
	}
	snapsForKey := li.snaps[key]

	var walk func(n *dom.Node) bool
	walk = func(n *dom.Node) bool {
		if n.Type != dom.ElementNode {
			return false
		}
		if n.Tag == "state" {
			n.SetProp(propProcessed, true)
			var restore map[string]interface{}
			if snapsForKey != nil {
				restore = snapsForKey[n.AttrOr("name", "")]
			}
			li.e.initState(n, locals, restore)
			return false
		}
		if n.Tag == "template" {
			return false
		}
		drop := false
		for _, a := range append([]dom.Attr(nil), n.Attrs...) {
			kind, is := bindingAttr(a.Key)
			if !is || !refersLocal(a.Val, localNames) {
				continue
			}
			n.RemoveAttr(a.Key)
			if kind == "on" {
				li.e.bindOn(n, a.Val, locals)
				continue
			}
			if li.applyStatic(n, kind, a.Val, locals) == staticDrop {
				drop = true
			}
		}
		if drop {
			n.Remove()
			return false
		}
		return true
	}
	node.Walk(walk)
	return node
}

type staticResult int

const (
	staticKeep staticResult = iota
	staticDrop
)

// applyStatic evaluates a local-referencing attribute once against
// the item snapshot.
func (li *list) applyStatic(n *dom.Node, kind, src string, locals map[string]interface{}) staticResult {
	e := li.e
	c, err := e.in.Compile(src, interp.ExprMode, localParams(locals))
	if err != nil {
		e.logf("warning: %s", err)
		return staticKeep
	}
	v, err := c.Eval(&interp.Env{
		Ref:    func(name string) interface{} { return e.resolve(name, li.el) },
		Locals: locals,
	})
	if err != nil {
		e.logf("warning: expression %q: %s", src, err)
		return staticKeep
	}
	v = e.unwrap(v)

	switch {
	case kind == "if":
		if !truthy(v) {
			return staticDrop
		}
	case kind == "show":
		if truthy(v) {
			n.RemoveAttr("hidden")
		} else {
			n.SetAttr("hidden", "")
		}
	case kind == "text":
		if v != nil {
			n.SetText(stringify(v))
		}
	case kind == "html":
		if v != nil {
			if err := n.SetHTML(e.sanitizeHTML(stringify(v))); err != nil {
				e.logf("warning: html: %s", err)
			}
		}
	case strings.HasPrefix(kind, "attr-"):
		name := kind[len("attr-"):]
		switch vv := v.(type) {
		case nil:
			n.RemoveAttr(name)
		case bool:
			if vv {
				n.SetAttr(name, "")
			} else {
				n.RemoveAttr(name)
			}
		default:
			n.SetAttr(name, stringify(v))
		}
	}
	return staticKeep
}

// reconcileSlots drives the list's status slots from the enclosing
// source (when there is one) and the rendered count.
func (li *list) reconcileSlots(count int) {
	src := li.enclosingSource()
	show := func(tag string, visible bool) {
		slot, have := li.slots[tag]
		if !have {
			return
		}
		if visible {
			slot.RemoveAttr("hidden")
		} else {
			slot.SetAttr("hidden", "")
		}
	}
	loading := src != nil && src.status == StatusLoading
	errVisible := src != nil && src.err != nil
	show("loading", loading)
	show("error", errVisible)
	show("empty", count == 0 && !loading && !errVisible)
}

func (li *list) enclosingSource() *Source {
	for at := li.el.Parent; at != nil; at = at.Parent {
		if d, have := at.Prop(propDef); have {
			if s, is := d.(Def).(*Source); is {
				return s
			}
		}
	}
	return nil
}

func (li *list) fire(typ string, detail map[string]interface{}) {
	li.e.enter()
	defer li.e.leave()
	li.el.Dispatch(typ, detail)
}

// refersLocal reports whether the expression mentions any of the
// names as a standalone identifier.
func refersLocal(src string, names []string) bool {
	isWord := func(c byte) bool {
		return c == '_' || c == '$' ||
			'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
	}
	for _, name := range names {
		for at := 0; ; {
			i := strings.Index(src[at:], name)
			if i < 0 {
				break
			}
			i += at
			at = i + len(name)
			if i > 0 && (isWord(src[i-1]) || src[i-1] == '@' || src[i-1] == '.') {
				continue
			}
			if at < len(src) && isWord(src[at]) {
				continue
			}
			return true
		}
	}
	return false
}

// bindScalarInsert is <insert text=...> / <insert html=...>: a
// text/html binding that also drives status slots, treating "no
// value" as the empty trigger.
func (e *Engine) bindScalarInsert(el *dom.Node, kind, src string, slots map[string]*dom.Node) {
	c := e.compileExpr(src, nil)
	if c == nil {
		return
	}

	// Initial non-slot content is the fallback when the expression
	// yields null.
	var initial []*dom.Node
	isSlot := func(n *dom.Node) bool {
		for _, slot := range slots {
			if slot == n {
				return true
			}
		}
		return false
	}
	for _, kid := range el.Kids {
		if !isSlot(kid) {
			initial = append(initial, kid.Clone())
		}
	}

	var enclosing *Source
	for at := el.Parent; at != nil; at = at.Parent {
		if d, have := at.Prop(propDef); have {
			if s, is := d.(Def).(*Source); is {
				enclosing = s
				break
			}
		}
	}

	setContent := func(kids []*dom.Node) {
		for _, kid := range append([]*dom.Node(nil), el.Kids...) {
			if !isSlot(kid) {
				kid.Remove()
			}
		}
		for _, kid := range kids {
			el.AppendChild(kid)
		}
	}

	e.newBinding(el, "insert", func() {
		v, ok := e.evalBinding(c, el, nil)
		if !ok {
			v = nil
		}

		if v == nil {
			acc := make([]*dom.Node, 0, len(initial))
			for _, kid := range initial {
				acc = append(acc, kid.Clone())
			}
			setContent(acc)
		} else if kind == "html" {
			frag, err := dom.ParseFragment(e.sanitizeHTML(stringify(v)))
			if err != nil {
				e.logf("warning: html insert: %s", err)
				frag = nil
			}
			setContent(frag)
		} else {
			setContent([]*dom.Node{dom.NewText(stringify(v))})
		}

		show := func(tag string, visible bool) {
			slot, have := slots[tag]
			if !have {
				return
			}
			if visible {
				slot.RemoveAttr("hidden")
			} else {
				slot.SetAttr("hidden", "")
			}
		}
		loading := enclosing != nil && enclosing.status == StatusLoading
		errVisible := enclosing != nil && enclosing.err != nil
		show("loading", loading)
		show("error", errVisible)
		show("empty", isEmptyValue(v) && !loading && !errVisible)
	})
}

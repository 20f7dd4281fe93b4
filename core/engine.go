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

// Package core is the reactive engine.
//
// The engine scans a document for definitions — named states and
// named data sources — compiles the attribute expressions that
// reference them, and keeps the affected nodes in sync as values
// change.  All work happens on the engine's turn: entry points nest,
// and when the outermost one returns, pending renders flush.
package core

import (
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/interp"
	"github.com/jtx-io/jtx/storage"

	"golang.org/x/net/publicsuffix"
)

const (
	// Prefix marks the engine's attributes ("jtx-text", ...) and
	// its durable storage keys ("jtx:name:key").
	Prefix = "jtx"

	attrPrefix = Prefix + "-"
	keyAttr    = Prefix + "-key"

	propProcessed = Prefix + ":processed"
	propDef       = Prefix + ":def"
	propDefs      = Prefix + ":defs"
	propRetained  = Prefix + ":retained"
)

// Fetcher issues the engine's HTTP requests.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Def is a named definition: a state or a source.
type Def interface {
	Name() string
	Kind() string // "state" or "source"
	El() *dom.Node
	ref() *interp.Ref
}

// Options configures an Engine.  The zero value works: an in-memory
// store, the default HTTP client with a cookie jar, no sanitizer.
type Options struct {
	Store     storage.Store
	Fetcher   Fetcher
	Location  *url.URL
	Sanitizer func(string) string

	// OnLocation is called after a persist-url sync rewrites the
	// query string (the non-navigating history replacement).
	OnLocation func(*url.URL)

	// Logf replaces the standard logger.
	Logf func(string, ...interface{})
}

// Engine drives one document.
type Engine struct {
	doc *dom.Document
	in  *interp.Interp

	store     storage.Store
	fetcher   Fetcher
	loc       *url.URL
	onLoc     func(*url.URL)
	sanitizer func(string) string
	logf      func(string, ...interface{})

	states  map[string]*State
	sources map[string]*Source

	// allStates includes scoped states so flushing sees them.
	allStates []*State

	bindingDeps map[*Binding]map[Def]bool
	depBindings map[Def]map[*Binding]bool
	byNode      map[*dom.Node][]*Binding

	changed  map[Def]bool
	pending  bool
	depth    int
	flushing bool
	current  *Binding
	bindSeq  int

	cleanups map[*dom.Node][]func()

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool
}

// NewEngine makes an engine for the given document.
func NewEngine(doc *dom.Document, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	e := &Engine{
		doc:         doc,
		in:          interp.New(),
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		loc:         opts.Location,
		onLoc:       opts.OnLocation,
		sanitizer:   opts.Sanitizer,
		logf:        opts.Logf,
		states:      make(map[string]*State),
		sources:     make(map[string]*Source),
		bindingDeps: make(map[*Binding]map[Def]bool),
		depBindings: make(map[Def]map[*Binding]bool),
		byNode:      make(map[*dom.Node][]*Binding),
		changed:     make(map[Def]bool),
		cleanups:    make(map[*dom.Node][]func()),
	}
	if e.store == nil {
		e.store = storage.NewMem()
	}
	if e.fetcher == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err == nil {
			e.fetcher = &http.Client{Jar: jar}
		} else {
			e.fetcher = http.DefaultClient
		}
	}
	if e.loc == nil {
		e.loc = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	if e.logf == nil {
		e.logf = log.Printf
	}
	doc.ObserveRemovals(e.onRemoved)
	return e
}

// SetHTMLSanitizer installs the sanitizer invoked for every 'html'
// binding.
func (e *Engine) SetHTMLSanitizer(f func(string) string) {
	e.sanitizer = f
}

// Location returns the engine's page URL (mutated by persist-url).
func (e *Engine) Location() *url.URL {
	return e.loc
}

// Init compiles a subtree.  A nil root means the document body.
func (e *Engine) Init(root *dom.Node) error {
	if root == nil {
		root = e.doc.Body()
	}
	e.enter()
	defer e.leave()
	e.bindTree(root)
	return nil
}

// Refresh forces the named source to fetch (or reconnect).
func (e *Engine) Refresh(name string) error {
	e.enter()
	defer e.leave()
	s, have := e.sources[name]
	if !have {
		return &UnknownDefError{Name: name}
	}
	s.Refresh()
	return nil
}

// Do runs f on the engine's turn.  Transports and timers use this to
// hand results to the engine; tests can too.
func (e *Engine) Do(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.enter()
	defer e.leave()
	f()
}

// Drain waits for in-flight transport work to land: HTTP fetches, and
// SSE streams until their response body ends.
func (e *Engine) Drain() {
	e.inflight.Wait()
}

// Flush runs pending renders to quiescence.  Entry points call this
// implicitly; it is exposed for direct Go-side mutation.
func (e *Engine) Flush() {
	e.enter()
	e.leave()
}

// Close tears down every source's connection and timers and runs every
// registered cleanup.  The registries are left as they are.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, s := range e.sources {
		s.teardown()
	}
	for n, fs := range e.cleanups {
		for _, f := range fs {
			f()
		}
		delete(e.cleanups, n)
	}
}

// go_ runs f off-turn, tracked for Drain.
func (e *Engine) go_(f func()) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		f()
	}()
}

// addCleanup ties a teardown to an element's removal.
func (e *Engine) addCleanup(n *dom.Node, f func()) {
	e.cleanups[n] = append(e.cleanups[n], f)
}

// onRemoved is the document's removal observer: the authoritative
// destructor for bindings and definitions.
func (e *Engine) onRemoved(root *dom.Node) {
	if e.closed {
		return
	}
	if _, retained := root.Prop(propRetained); retained {
		return
	}
	e.teardownTree(root)
}

// teardownTree releases everything owned by a subtree: cleanups,
// binding rows, definitions.
func (e *Engine) teardownTree(root *dom.Node) {
	root.Walk(func(n *dom.Node) bool {
		if fs, have := e.cleanups[n]; have {
			delete(e.cleanups, n)
			for _, f := range fs {
				f()
			}
		}
		for _, b := range e.byNode[n] {
			e.dropBinding(b)
		}
		delete(e.byNode, n)
		if d, have := n.Prop(propDef); have {
			e.teardownDef(d.(Def))
		}
		return true
	})
}

func (e *Engine) teardownDef(d Def) {
	switch dd := d.(type) {
	case *State:
		for i, s := range e.allStates {
			if s == dd {
				e.allStates = append(e.allStates[:i], e.allStates[i+1:]...)
				break
			}
		}
		if e.states[dd.name] == dd {
			delete(e.states, dd.name)
		}
	case *Source:
		dd.teardown()
		if e.sources[dd.name] == dd {
			delete(e.sources, dd.name)
		}
	}
	if scope := d.El().Parent; scope != nil {
		if m, have := scope.Prop(propDefs); have {
			defs := m.(map[string]Def)
			if defs[d.Name()] == d {
				delete(defs, d.Name())
			}
		}
	}
	delete(e.depBindings, d)
	delete(e.changed, d)
}

// bindTree walks a subtree, initializing definitions and creating
// bindings.  Template contents and insert internals stay inert.
func (e *Engine) bindTree(root *dom.Node) {
	root.Walk(func(n *dom.Node) bool {
		if n.Type != dom.ElementNode {
			return false
		}
		if _, done := n.Prop(propProcessed); done {
			return true
		}
		switch n.Tag {
		case "template":
			return false
		case "state":
			n.SetProp(propProcessed, true)
			e.bindAttrs(n, nil)
			e.initState(n, nil, nil)
			return false
		case "src":
			n.SetProp(propProcessed, true)
			e.bindAttrs(n, nil)
			e.initSource(n)
			return false
		case "insert":
			n.SetProp(propProcessed, true)
			e.bindAttrs(n, nil)
			e.bindInsert(n)
			return false
		}
		n.SetProp(propProcessed, true)
		e.bindAttrs(n, nil)
		return true
	})
}

// resolve maps a reference name to a definition for the given
// element, recording the dependency.  Unknown names yield an empty
// object so calling code keeps running.
func (e *Engine) resolve(name string, el *dom.Node) interface{} {
	d := e.lookup(name, el)
	if d == nil {
		e.logf("warning: unknown reference @%s", name)
		return map[string]interface{}{}
	}
	e.recordDependency(d)
	return d.ref()
}

// lookup walks ancestors for a lexically enclosing definition, then
// falls back to the global registry gated by containment: a global
// hit counts only when the requesting element lives inside the
// definition's scope.
func (e *Engine) lookup(name string, el *dom.Node) Def {
	for at := el; at != nil; at = at.Parent {
		if m, have := at.Prop(propDefs); have {
			if d, hit := m.(map[string]Def)[name]; hit {
				return d
			}
		}
	}
	var d Def
	if s, have := e.states[name]; have {
		d = s
	} else if s, have := e.sources[name]; have {
		d = s
	}
	if d == nil {
		return nil
	}
	scope := d.El().Parent
	if scope == nil || el == nil || !scope.Contains(el) {
		return nil
	}
	return d
}

// registerDef attaches a definition to its lexical scope (the parent
// of the defining element) and, for unscoped definitions, to the
// global registry.
func (e *Engine) registerDef(d Def, scoped bool) bool {
	el := d.El()
	if scope := el.Parent; scope != nil {
		var defs map[string]Def
		if m, have := scope.Prop(propDefs); have {
			defs = m.(map[string]Def)
		} else {
			defs = make(map[string]Def, 2)
			scope.SetProp(propDefs, defs)
		}
		if prior, have := defs[d.Name()]; have && prior.El().Connected() {
			e.logf("warning: duplicate %s definition %q ignored", d.Kind(), d.Name())
			return false
		}
		defs[d.Name()] = d
	}
	if scoped {
		return true
	}
	// A nested definition reusing a registered name stays lexically
	// discoverable but does not displace the registry holder.
	switch dd := d.(type) {
	case *State:
		if _, dup := e.states[dd.name]; dup {
			e.logf("warning: state %q already registered; new definition is lexical only", dd.name)
			return true
		}
		e.states[dd.name] = dd
	case *Source:
		if _, dup := e.sources[dd.name]; dup {
			e.logf("warning: source %q already registered; new definition is lexical only", dd.name)
			return true
		}
		e.sources[dd.name] = dd
	}
	return true
}

// bindingAttr strips the engine prefix, returning the binding kind.
func bindingAttr(key string) (string, bool) {
	if !strings.HasPrefix(key, attrPrefix) {
		return "", false
	}
	return key[len(attrPrefix):], true
}

// UnknownDefError reports a reference to a name with no definition.
type UnknownDefError struct {
	Name string
}

func (e *UnknownDefError) Error() string {
	return "unknown definition: " + e.Name
}

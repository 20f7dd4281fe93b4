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
	"strings"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/interp"
)

// State is a mutable mapping from string keys to JSON-compatible
// values, seeded from the attributes of its <state> element.
type State struct {
	name  string
	value map[string]interface{}

	// keyOrder preserves first-seen order; a state's key set never
	// loses entries.
	keyOrder []string
	aliases  map[string]string // lower-cased → canonical

	persisted map[string]bool
	urlKeys   map[string]bool

	pendingKeys map[string]bool

	el     *dom.Node
	scoped bool

	e *Engine
	r *interp.Ref
}

func (s *State) Name() string     { return s.name }
func (s *State) Kind() string     { return "state" }
func (s *State) El() *dom.Node    { return s.el }
func (s *State) ref() *interp.Ref { return s.r }

// Value returns the live mapping.
func (s *State) Value() map[string]interface{} { return s.value }

// stateReserved are <state> attributes that do not seed keys.
var stateReserved = map[string]bool{
	"name":        true,
	"persist":     true,
	"persist-url": true,
}

// initState builds a state from its element.  locals carry the item
// variables when the state lives inside a list item template;
// restore, when present, overlays a snapshot from a previous render
// of the same item.
func (e *Engine) initState(el *dom.Node, locals map[string]interface{}, restore map[string]interface{}) *State {
	name, have := el.Attr("name")
	if !have || name == "" {
		e.logf("warning: <state> without a name ignored")
		return nil
	}

	s := &State{
		name:        name,
		value:       make(map[string]interface{}),
		aliases:     make(map[string]string),
		persisted:   make(map[string]bool),
		urlKeys:     make(map[string]bool),
		pendingKeys: make(map[string]bool),
		el:          el,
		scoped:      locals != nil,
		e:           e,
	}
	s.r = e.in.NewStateRef((*stateAccessor)(s))

	for _, k := range splitList(el.AttrOr("persist", "")) {
		s.persisted[k] = true
	}
	for _, k := range splitList(el.AttrOr("persist-url", "")) {
		s.urlKeys[k] = true
	}

	// Seed keys from attribute expressions, evaluated once.
	for _, a := range append([]dom.Attr(nil), el.Attrs...) {
		if stateReserved[a.Key] || strings.HasPrefix(a.Key, attrPrefix) {
			continue
		}
		var v interface{}
		if strings.TrimSpace(a.Val) != "" {
			var err error
			if v, err = e.evalOnce(a.Val, el, locals); err != nil {
				s.fire("error", map[string]interface{}{"name": name, "error": err.Error()})
				v = nil
			}
		}
		s.defineKey(a.Key, e.unwrap(v))
	}

	// Durable restore.
	for k := range s.persisted {
		js, have, err := e.store.Get(storageKey(name, k))
		if err != nil || !have {
			if err != nil {
				s.fire("error", map[string]interface{}{"name": name, "error": err.Error()})
			}
			continue
		}
		var v interface{}
		if err := json.Unmarshal(js, &v); err != nil {
			s.fire("error", map[string]interface{}{"name": name, "error": err.Error()})
			continue
		}
		s.defineKey(k, v)
	}

	// URL restore.
	q := e.loc.Query()
	for k := range s.urlKeys {
		raw, have := q[k]
		if !have || len(raw) == 0 {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw[0]), &v); err != nil {
			v = raw[0]
		}
		s.defineKey(k, v)
	}

	// Per-instance snapshot restore (scoped states in list items).
	for k, v := range restore {
		s.defineKey(k, clone(v))
	}

	if !e.registerDef(s, s.scoped) {
		return nil
	}
	el.SetProp(propDef, Def(s))
	e.allStates = append(e.allStates, s)

	s.fire("init", map[string]interface{}{"name": name, "value": clone(s.value)})
	return s
}

// evalOnce compiles and runs a one-shot expression for an element.
func (e *Engine) evalOnce(src string, el *dom.Node, locals map[string]interface{}) (interface{}, error) {
	c, err := e.in.Compile(src, interp.ExprMode, localParams(locals))
	if err != nil {
		return nil, err
	}
	return c.Eval(&interp.Env{
		Ref:    func(name string) interface{} { return e.resolve(name, el) },
		Locals: locals,
	})
}

// unwrap replaces a reference proxy with its live value.
func (e *Engine) unwrap(x interface{}) interface{} {
	if r, is := x.(*interp.Ref); is {
		return r.Live()
	}
	return x
}

// canonicalKey maps case-insensitive aliases back to the original
// key.
func (s *State) canonicalKey(key string) string {
	if _, have := s.value[key]; have {
		return key
	}
	if k, have := s.aliases[strings.ToLower(key)]; have {
		return k
	}
	return key
}

// defineKey writes without marking pending.  Used during
// initialization.
func (s *State) defineKey(key string, v interface{}) {
	key = s.canonicalKey(key)
	if _, have := s.value[key]; !have {
		s.keyOrder = append(s.keyOrder, key)
		s.aliases[strings.ToLower(key)] = key
	}
	s.value[key] = v
}

// Set writes a key, marks it pending, and schedules a render.
func (s *State) Set(key string, v interface{}) {
	key = s.canonicalKey(key)
	s.defineKey(key, v)
	s.pendingKeys[key] = true
	s.e.markChanged(s)
}

// SetPath writes through a dotted path, creating intermediates, and
// marks the top-level key pending.
func (s *State) SetPath(path []string, v interface{}) {
	if len(path) == 0 {
		return
	}
	top := s.canonicalKey(path[0])
	if len(path) == 1 {
		s.Set(top, v)
		return
	}
	if _, is := s.value[top].(map[string]interface{}); !is {
		s.defineKey(top, make(map[string]interface{}))
	}
	deepSet(s.value[top].(map[string]interface{}), path[1:], v)
	s.pendingKeys[top] = true
	s.e.markChanged(s)
}

// Get reads a key.
func (s *State) Get(key string) (interface{}, bool) {
	key = s.canonicalKey(key)
	v, have := s.value[key]
	return v, have
}

// syncURLKeys reports whether any of the given pending keys are
// mirrored to the URL.
func (s *State) syncURLKeys(keys []string) bool {
	for _, k := range keys {
		if s.urlKeys[k] {
			return true
		}
	}
	return false
}

// snapshot clones the live mapping (used to preserve scoped states
// across list item re-renders).
func (s *State) snapshot() map[string]interface{} {
	acc := make(map[string]interface{}, len(s.value))
	for k, v := range s.value {
		acc[k] = clone(v)
	}
	return acc
}

func (s *State) fire(typ string, detail map[string]interface{}) {
	s.e.enter()
	defer s.e.leave()
	s.el.Dispatch(typ, detail)
}

// stateAccessor adapts State to the interpreter's reference shape.
type stateAccessor State

func (a *stateAccessor) GetKey(key string) (interface{}, bool) {
	return (*State)(a).Get(key)
}

func (a *stateAccessor) SetKey(key string, v interface{}) {
	(*State)(a).Set(key, v)
}

func (a *stateAccessor) Keys() []string {
	return append([]string(nil), a.keyOrder...)
}

// canonicalKeys are tried in order when a state is coerced to a
// primitive.
var canonicalKeys = []string{"title", "text", "name", "value"}

func (a *stateAccessor) Canonical() (interface{}, bool) {
	s := (*State)(a)
	for _, k := range canonicalKeys {
		if v, have := s.value[k]; have {
			return v, true
		}
	}
	if len(s.keyOrder) == 1 {
		return s.value[s.keyOrder[0]], true
	}
	return nil, false
}

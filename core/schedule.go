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
	"sort"
)

// maxFlushRounds bounds re-entrant write cascades.
const maxFlushRounds = 100

// enter begins an engine turn.  Turns nest; only the outermost leave
// flushes.
func (e *Engine) enter() {
	e.depth++
}

func (e *Engine) leave() {
	e.depth--
	if e.depth == 0 && !e.flushing && e.pending {
		e.flushLoop()
	}
}

// markChanged schedules every binding attached to the definition.
func (e *Engine) markChanged(d Def) {
	e.changed[d] = true
	e.scheduleRender()
}

func (e *Engine) scheduleRender() {
	e.pending = true
}

// flushLoop is the microtask checkpoint: each round consumes a finite
// changed-set; writes performed during a round land in the next one.
func (e *Engine) flushLoop() {
	e.flushing = true
	defer func() { e.flushing = false }()
	for round := 0; e.pending && round < maxFlushRounds; round++ {
		e.flushOnce()
	}
	if e.pending {
		e.logf("warning: render did not settle after %d rounds", maxFlushRounds)
		e.pending = false
	}
}

// flushOnce persists and announces state changes, then reruns every
// binding attached to a changed dependency exactly once.
func (e *Engine) flushOnce() {
	e.pending = false

	states := append([]*State(nil), e.allStates...)
	for _, s := range states {
		if len(s.pendingKeys) == 0 {
			continue
		}
		keys := make([]string, 0, len(s.pendingKeys))
		for k := range s.pendingKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.pendingKeys = make(map[string]bool)

		for _, k := range keys {
			if s.persisted[k] {
				e.persistKey(s, k)
			}
		}
		if s.syncURLKeys(keys) {
			e.rewriteQuery(s, keys)
		}
		s.fire("update", map[string]interface{}{
			"name":  s.name,
			"keys":  keys,
			"value": clone(s.value),
		})
	}

	changed := e.changed
	e.changed = make(map[Def]bool)
	set := make(map[*Binding]bool)
	for d := range changed {
		for b := range e.depBindings[d] {
			set[b] = true
		}
	}
	order := make([]*Binding, 0, len(set))
	for b := range set {
		order = append(order, b)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].seq < order[j].seq })
	for _, b := range order {
		e.runBinding(b)
	}
}

// persistKey mirrors one state key to the durable store.
func (e *Engine) persistKey(s *State, key string) {
	js, err := json.Marshal(s.value[key])
	if err != nil {
		s.fire("error", map[string]interface{}{"name": s.name, "error": err.Error()})
		return
	}
	if err := e.store.Put(storageKey(s.name, key), js); err != nil {
		s.fire("error", map[string]interface{}{"name": s.name, "error": err.Error()})
	}
}

// rewriteQuery updates the page URL's query string without
// navigating.
func (e *Engine) rewriteQuery(s *State, keys []string) {
	q := e.loc.Query()
	for _, k := range keys {
		if !s.urlKeys[k] {
			continue
		}
		v := s.value[k]
		if v == nil {
			q.Del(k)
			continue
		}
		js, err := json.Marshal(v)
		if err != nil {
			continue
		}
		q.Set(k, string(js))
	}
	e.loc.RawQuery = q.Encode()
	if e.onLoc != nil {
		e.onLoc(e.loc)
	}
}

func storageKey(name, key string) string {
	return Prefix + ":" + name + ":" + key
}

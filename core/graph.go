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
	"github.com/jtx-io/jtx/dom"
)

// Binding is the atomic unit of reactivity: an element, a kind tag,
// and an update function.  Its dependency edges are rebuilt fresh on
// every run, so conditional reads are naturally tracked.
type Binding struct {
	el     *dom.Node
	kind   string
	seq    int
	update func()
}

// newBinding registers a binding and runs its update once.
func (e *Engine) newBinding(el *dom.Node, kind string, update func()) *Binding {
	b := &Binding{el: el, kind: kind, seq: e.bindSeq}
	e.bindSeq++
	b.update = update
	e.byNode[el] = append(e.byNode[el], b)
	e.runBinding(b)
	return b
}

// runBinding reruns a binding with itself installed as the ambient
// dependency collector.  No error escapes.
func (e *Engine) runBinding(b *Binding) {
	prev := e.current
	e.current = b
	e.clearDeps(b)
	defer func() {
		e.current = prev
		if r := recover(); r != nil {
			e.logf("warning: %s binding panic: %v", b.kind, r)
		}
	}()
	b.update()
}

// recordDependency links the ambient binding to the definition it
// just read.
func (e *Engine) recordDependency(d Def) {
	b := e.current
	if b == nil {
		return
	}
	deps, have := e.bindingDeps[b]
	if !have {
		deps = make(map[Def]bool, 2)
		e.bindingDeps[b] = deps
	}
	deps[d] = true
	bs, have := e.depBindings[d]
	if !have {
		bs = make(map[*Binding]bool, 2)
		e.depBindings[d] = bs
	}
	bs[b] = true
}

// clearDeps drops the binding's rows from both indices.
func (e *Engine) clearDeps(b *Binding) {
	for d := range e.bindingDeps[b] {
		delete(e.depBindings[d], b)
	}
	delete(e.bindingDeps, b)
}

// dropBinding removes a binding for good.
func (e *Engine) dropBinding(b *Binding) {
	e.clearDeps(b)
}

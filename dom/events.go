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

// Event is a bubbling event with a JSON-shaped detail.
type Event struct {
	Type    string
	Detail  map[string]interface{}
	Target  *Node
	Current *Node

	stopped bool
}

// StopPropagation prevents the event from bubbling further.
func (e *Event) StopPropagation() {
	e.stopped = true
}

type listener struct {
	f func(*Event)
}

// On registers a listener for the given event type.  The returned
// function removes the listener.
func (n *Node) On(typ string, f func(*Event)) func() {
	if n.listeners == nil {
		n.listeners = make(map[string][]*listener, 2)
	}
	l := &listener{f: f}
	n.listeners[typ] = append(n.listeners[typ], l)
	return func() {
		ls := n.listeners[typ]
		for i, x := range ls {
			if x == l {
				n.listeners[typ] = append(ls[:i], ls[i+1:]...)
				return
			}
		}
	}
}

// Dispatch fires an event at the node and bubbles it to the root.
func (n *Node) Dispatch(typ string, detail map[string]interface{}) *Event {
	ev := &Event{Type: typ, Detail: detail, Target: n}
	for at := n; at != nil && !ev.stopped; at = at.Parent {
		ev.Current = at
		ls := at.listeners[typ]
		for _, l := range append([]*listener(nil), ls...) {
			l.f(ev)
			if ev.stopped {
				break
			}
		}
	}
	return ev
}

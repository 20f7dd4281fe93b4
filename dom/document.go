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

// Document owns a tree and the observers watching it.
type Document struct {
	Root *Node

	removalObservers []func(*Node)
}

// NewDocument makes a document around the given root.  A nil root
// gets a fresh <html><body>.
func NewDocument(root *Node) *Document {
	if root == nil {
		root = NewElement("html")
		root.AppendChild(NewElement("body"))
	}
	d := &Document{Root: root}
	root.doc = d
	for _, kid := range root.Kids {
		kid.setDoc(d)
	}
	return d
}

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *Node {
	if d.Root.Tag == "body" {
		return d.Root
	}
	for _, kid := range d.Root.ByTag("body") {
		return kid
	}
	return d.Root
}

// ObserveRemovals registers a callback invoked with the top node of
// every subtree that leaves the document.
func (d *Document) ObserveRemovals(f func(*Node)) {
	d.removalObservers = append(d.removalObservers, f)
}

func (d *Document) notifyRemoved(n *Node) {
	for _, f := range d.removalObservers {
		f(n)
	}
}

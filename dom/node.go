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

// Package dom is a small live document tree.
//
// The engine in package core treats the host document as an external
// collaborator.  This package provides that collaborator: a mutable
// tree of elements, text, and comments, parsed from and serialized to
// HTML, with bubbling events and a removal observer.
package dom

import (
	"sort"
	"strings"
)

// NodeType discriminates the three node flavors we care about.
type NodeType int

const (
	ElementNode NodeType = iota
	TextNode
	CommentNode
)

// Attr is a single attribute.  Order is preserved.
type Attr struct {
	Key string
	Val string
}

// Node is an element, a text run, or a comment.
type Node struct {
	Type NodeType

	// Tag is the lower-cased element name (elements only).
	Tag string

	// Data is the text or comment content.
	Data string

	Attrs []Attr

	Parent *Node
	Kids   []*Node

	doc       *Document
	listeners map[string][]*listener
	props     map[string]interface{}
}

// NewElement makes a detached element.
func NewElement(tag string) *Node {
	return &Node{Type: ElementNode, Tag: strings.ToLower(tag)}
}

// NewText makes a detached text node.
func NewText(s string) *Node {
	return &Node{Type: TextNode, Data: s}
}

// NewComment makes a detached comment node.
func NewComment(s string) *Node {
	return &Node{Type: CommentNode, Data: s}
}

// Document returns the owning document, if the node is connected.
func (n *Node) Document() *Document {
	return n.doc
}

// Connected reports whether the node is attached to a document.
func (n *Node) Connected() bool {
	return n.doc != nil
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the value of the named attribute or the given default.
func (n *Node) AttrOr(key, def string) string {
	if v, have := n.Attr(key); have {
		return v
	}
	return def
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(key string) bool {
	_, have := n.Attr(key)
	return have
}

// SetAttr sets (or adds) an attribute.
func (n *Node) SetAttr(key, val string) {
	key = strings.ToLower(key)
	for i, a := range n.Attrs {
		if a.Key == key {
			n.Attrs[i].Val = val
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func (n *Node) RemoveAttr(key string) {
	key = strings.ToLower(key)
	for i, a := range n.Attrs {
		if a.Key == key {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

// Prop reads a transient (non-serialized) property.
func (n *Node) Prop(key string) (interface{}, bool) {
	if n.props == nil {
		return nil, false
	}
	v, have := n.props[key]
	return v, have
}

// SetProp writes a transient property.
func (n *Node) SetProp(key string, val interface{}) {
	if n.props == nil {
		n.props = make(map[string]interface{}, 4)
	}
	n.props[key] = val
}

// DelProp removes a transient property.
func (n *Node) DelProp(key string) {
	if n.props != nil {
		delete(n.props, key)
	}
}

// AppendChild attaches the given node as the last child.
func (n *Node) AppendChild(kid *Node) {
	kid.detach()
	kid.Parent = n
	n.Kids = append(n.Kids, kid)
	kid.setDoc(n.doc)
}

// InsertBefore attaches kid immediately before ref, which must be a
// child of n.  A nil ref appends.
func (n *Node) InsertBefore(kid, ref *Node) {
	if ref == nil {
		n.AppendChild(kid)
		return
	}
	kid.detach()
	for i, c := range n.Kids {
		if c == ref {
			kid.Parent = n
			n.Kids = append(n.Kids[:i], append([]*Node{kid}, n.Kids[i:]...)...)
			kid.setDoc(n.doc)
			return
		}
	}
	n.AppendChild(kid)
}

// ReplaceChild swaps old (a child of n) for kid.
func (n *Node) ReplaceChild(kid, old *Node) {
	if old.Parent != n {
		return
	}
	n.InsertBefore(kid, old)
	old.Remove()
}

// Remove detaches the node from its parent, notifying the document's
// removal observers if the node was connected.
func (n *Node) Remove() {
	n.detach()
}

func (n *Node) detach() {
	p := n.Parent
	if p != nil {
		for i, c := range p.Kids {
			if c == n {
				p.Kids = append(p.Kids[:i], p.Kids[i+1:]...)
				break
			}
		}
		n.Parent = nil
	}
	was := n.doc
	n.setDoc(nil)
	if was != nil {
		was.notifyRemoved(n)
	}
}

// setDoc propagates document membership through the subtree.
func (n *Node) setDoc(d *Document) {
	if n.doc == d {
		return
	}
	n.doc = d
	for _, kid := range n.Kids {
		kid.setDoc(d)
	}
}

// NextSibling returns the node following n in its parent, or nil.
func (n *Node) NextSibling() *Node {
	if n.Parent == nil {
		return nil
	}
	for i, c := range n.Parent.Kids {
		if c == n && i+1 < len(n.Parent.Kids) {
			return n.Parent.Kids[i+1]
		}
	}
	return nil
}

// Elements returns the element children, in order.
func (n *Node) Elements() []*Node {
	acc := make([]*Node, 0, len(n.Kids))
	for _, kid := range n.Kids {
		if kid.Type == ElementNode {
			acc = append(acc, kid)
		}
	}
	return acc
}

// FirstElement returns the first element child, or nil.
func (n *Node) FirstElement() *Node {
	for _, kid := range n.Kids {
		if kid.Type == ElementNode {
			return kid
		}
	}
	return nil
}

// Contains reports whether other is n or a descendant of n.
func (n *Node) Contains(other *Node) bool {
	for at := other; at != nil; at = at.Parent {
		if at == n {
			return true
		}
	}
	return false
}

// Walk visits n and every descendant, depth-first.  The visitor can
// return false to skip a node's subtree.
func (n *Node) Walk(f func(*Node) bool) {
	if !f(n) {
		return
	}
	kids := make([]*Node, len(n.Kids))
	copy(kids, n.Kids)
	for _, kid := range kids {
		kid.Walk(f)
	}
}

// Text returns the concatenated text content of the subtree.
func (n *Node) Text() string {
	if n.Type == TextNode {
		return n.Data
	}
	var b strings.Builder
	for _, kid := range n.Kids {
		b.WriteString(kid.Text())
	}
	return b.String()
}

// SetText replaces the node's children with a single text node.
func (n *Node) SetText(s string) {
	n.clearKids()
	n.AppendChild(NewText(s))
}

func (n *Node) clearKids() {
	for len(n.Kids) > 0 {
		n.Kids[len(n.Kids)-1].detach()
	}
}

// Clone returns a deep copy of the subtree.  Listeners and transient
// properties do not survive cloning.
func (n *Node) Clone() *Node {
	acc := &Node{Type: n.Type, Tag: n.Tag, Data: n.Data}
	acc.Attrs = make([]Attr, len(n.Attrs))
	copy(acc.Attrs, n.Attrs)
	for _, kid := range n.Kids {
		c := kid.Clone()
		c.Parent = acc
		acc.Kids = append(acc.Kids, c)
	}
	return acc
}

// ByID finds the element with the given id attribute in the subtree.
func (n *Node) ByID(id string) *Node {
	var hit *Node
	n.Walk(func(x *Node) bool {
		if hit != nil {
			return false
		}
		if x.Type == ElementNode {
			if v, _ := x.Attr("id"); v == id {
				hit = x
				return false
			}
		}
		return true
	})
	return hit
}

// ByTag collects the elements with the given tag name in the subtree.
func (n *Node) ByTag(tag string) []*Node {
	tag = strings.ToLower(tag)
	var acc []*Node
	n.Walk(func(x *Node) bool {
		if x.Type == ElementNode && x.Tag == tag {
			acc = append(acc, x)
		}
		return true
	})
	return acc
}

// AttrKeys returns the attribute keys in a stable order.
func (n *Node) AttrKeys() []string {
	acc := make([]string, 0, len(n.Attrs))
	for _, a := range n.Attrs {
		acc = append(acc, a.Key)
	}
	sort.Strings(acc)
	return acc
}

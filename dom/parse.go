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

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	h, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	root := convert(h)
	if root == nil {
		root = NewElement("html")
	}
	return NewDocument(root), nil
}

// ParseString is Parse on a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses markup in a <div> context and returns the
// top-level nodes.
func ParseFragment(s string) ([]*Node, error) {
	ctx := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	}
	hs, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, err
	}
	acc := make([]*Node, 0, len(hs))
	for _, h := range hs {
		if n := convert(h); n != nil {
			acc = append(acc, n)
		}
	}
	return acc, nil
}

// convert maps an html.Node subtree onto ours.  Doctypes and unknown
// node types are dropped.
func convert(h *html.Node) *Node {
	switch h.Type {
	case html.DocumentNode:
		for at := h.FirstChild; at != nil; at = at.NextSibling {
			if at.Type == html.ElementNode {
				return convert(at)
			}
		}
		return nil
	case html.ElementNode:
		n := NewElement(h.Data)
		for _, a := range h.Attr {
			n.Attrs = append(n.Attrs, Attr{Key: strings.ToLower(a.Key), Val: a.Val})
		}
		for at := h.FirstChild; at != nil; at = at.NextSibling {
			if kid := convert(at); kid != nil {
				kid.Parent = n
				n.Kids = append(n.Kids, kid)
			}
		}
		return n
	case html.TextNode:
		return NewText(h.Data)
	case html.CommentNode:
		return NewComment(h.Data)
	}
	return nil
}

// voidTags per the HTML syntax: no closing tag, no children.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Render serializes the subtree as HTML.
func (n *Node) Render(w io.Writer) error {
	switch n.Type {
	case TextNode:
		_, err := io.WriteString(w, html.EscapeString(n.Data))
		return err
	case CommentNode:
		if _, err := io.WriteString(w, "<!--"+n.Data+"-->"); err != nil {
			return err
		}
		return nil
	}
	if _, err := io.WriteString(w, "<"+n.Tag); err != nil {
		return err
	}
	for _, a := range n.Attrs {
		s := " " + a.Key
		if a.Val != "" {
			s += `="` + html.EscapeString(a.Val) + `"`
		}
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}
	if voidTags[n.Tag] {
		return nil
	}
	for _, kid := range n.Kids {
		if err := kid.Render(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</"+n.Tag+">")
	return err
}

// HTML renders the subtree to a string.
func (n *Node) HTML() string {
	var b strings.Builder
	for _, kid := range n.Kids {
		kid.Render(&b)
	}
	return b.String()
}

// OuterHTML renders the node itself to a string.
func (n *Node) OuterHTML() string {
	var b strings.Builder
	n.Render(&b)
	return b.String()
}

// SetHTML replaces the node's children with the parsed markup.
func (n *Node) SetHTML(s string) error {
	kids, err := ParseFragment(s)
	if err != nil {
		return err
	}
	n.clearKids()
	for _, kid := range kids {
		n.AppendChild(kid)
	}
	return nil
}

// Package dom wraps a parsed HTML document and the handful of node
// operations the editor and experiment pipelines need: selector lookup,
// inner HTML read/write and attribute bookkeeping.
//
// The document is the single source of truth. Nothing here keeps side tables
// keyed by node; state that must survive between pipeline steps is written
// onto the nodes themselves as attributes.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// FromNode wraps an already parsed tree.
func FromNode(root *html.Node) *Document {
	return &Document{doc: goquery.NewDocumentFromNode(root)}
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.doc.Selection.Nodes[0]
}

// Find returns every element matching selector in document order. A selector
// the matcher cannot compile matches nothing.
func (d *Document) Find(selector string) []*html.Node {
	return d.doc.Find(selector).Nodes
}

// First returns the first element matching selector, or nil.
func (d *Document) First(selector string) *html.Node {
	nodes := d.doc.Find(selector).First().Nodes
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Contains reports whether n is still attached to the document tree.
func (d *Document) Contains(n *html.Node) bool {
	root := d.Root()
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

// InnerHTML serialises the children of n.
func (d *Document) InnerHTML(n *html.Node) (string, error) {
	return d.doc.FindNodes(n).Html()
}

// Text returns the combined text of n and its descendants.
func (d *Document) Text(n *html.Node) string {
	return d.doc.FindNodes(n).Text()
}

// SetInnerHTML replaces the children of n with the parsed fragment.
func (d *Document) SetInnerHTML(n *html.Node, fragment string) error {
	nodes, err := ParseFragment(n, fragment)
	if err != nil {
		return err
	}
	ReplaceChildren(n, nodes)
	return nil
}

// Render serialises the whole document.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.Root()); err != nil {
		return "", fmt.Errorf("render HTML: %w", err)
	}
	return buf.String(), nil
}

// Clone returns an independent copy of the document.
func (d *Document) Clone() (*Document, error) {
	out, err := d.Render()
	if err != nil {
		return nil, err
	}
	return ParseString(out)
}

// ParseFragment parses fragment in the context of element n without touching
// n. The returned nodes are detached.
func ParseFragment(n *html.Node, fragment string) ([]*html.Node, error) {
	context := n
	if context == nil || context.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// ReplaceChildren detaches every child of n and appends nodes in order.
func ReplaceChildren(n *html.Node, nodes []*html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.AppendChild(c)
	}
}

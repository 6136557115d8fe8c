// Package resolver turns a content map into selector/node bindings against
// the current state of a document.
//
// Selector kinds are resolved in a fixed order: identity (#id), then class
// (.class), then attribute ([attr=value]). Within one kind keys are visited in
// ascending lexical order. A node bound by an earlier selector is skipped by
// every later one, compared by node identity, so each node appears in at
// most one binding per pass.
package resolver

import (
	"iter"

	"golang.org/x/net/html"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

// Binding pairs a content map key with the node it resolved to.
type Binding struct {
	Selector string
	Node     *html.Node
}

// Resolve returns the bindings for m. The sequence is lazy and restartable:
// every range over it runs a fresh pass over the document as it is at that
// moment, so it reflects DOM changes made between iterations. Selectors that
// match nothing, or that cannot be compiled, contribute no bindings.
func Resolve[M ~map[string]string](doc *dom.Document, m M) iter.Seq[Binding] {
	return func(yield func(Binding) bool) {
		seen := make(map[*html.Node]struct{})
		for _, kind := range content.ResolutionOrder {
			for _, sel := range content.SelectorsOf(m, kind) {
				for _, n := range match(doc, sel, kind) {
					if _, dup := seen[n]; dup {
						continue
					}
					seen[n] = struct{}{}
					if !yield(Binding{Selector: sel, Node: n}) {
						return
					}
				}
			}
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Binding]) []Binding {
	var out []Binding
	for b := range seq {
		out = append(out, b)
	}
	return out
}

// match applies querySelector semantics to identity selectors and
// querySelectorAll semantics to the others.
func match(doc *dom.Document, sel string, kind content.Kind) []*html.Node {
	if kind == content.KindIdentity {
		if n := doc.First(sel); n != nil {
			return []*html.Node{n}
		}
		return nil
	}
	return doc.Find(sel)
}

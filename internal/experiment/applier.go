package experiment

import (
	"fmt"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/resolver"
)

// Applier overwrites resolved regions with variant content. Unlike the
// editor binder it leaves no marker behind.
type Applier struct{}

// Apply replaces the inner HTML of every node m resolves to and returns the
// number of nodes written. Every fragment is parsed before the first write,
// so a bad fragment leaves doc unchanged. Writes happen while resolving:
// later selectors match against the content written by earlier ones, and a
// node detached by an enclosing write is skipped.
func (Applier) Apply(doc *dom.Document, m map[string]string) (int, error) {
	for sel, fragment := range m {
		if content.KindOf(sel) == content.KindUnknown {
			continue
		}
		if _, err := dom.ParseFragment(nil, fragment); err != nil {
			return 0, fmt.Errorf("apply %s: %w", sel, err)
		}
	}

	written := 0
	for b := range resolver.Resolve(doc, m) {
		if !doc.Contains(b.Node) {
			continue
		}
		nodes, err := dom.ParseFragment(b.Node, m[b.Selector])
		if err != nil {
			return written, fmt.Errorf("apply %s: %w", b.Selector, err)
		}
		dom.ReplaceChildren(b.Node, nodes)
		written++
	}
	return written, nil
}

package editor

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

// Entry is one marked node's contribution to a save.
type Entry struct {
	Selector string
	HTML     string
	Node     *html.Node
}

// Entries returns one entry per marked node in document order. Marked nodes
// without a recorded selector are skipped.
func Entries(doc *dom.Document) ([]Entry, error) {
	var out []Entry
	for _, n := range doc.Find("." + ClassEditable) {
		sel, ok := dom.Attr(n, AttrSelector)
		if !ok || sel == "" {
			continue
		}
		inner, err := doc.InnerHTML(n)
		if err != nil {
			return nil, fmt.Errorf("serialise %s: %w", sel, err)
		}
		out = append(out, Entry{Selector: sel, HTML: inner, Node: n})
	}
	return out, nil
}

// Collect builds the ChangeSet from the marked nodes currently in doc. When
// several nodes share a selector the last one in document order wins.
func Collect(doc *dom.Document) (content.ChangeSet, error) {
	entries, err := Entries(doc)
	if err != nil {
		return nil, err
	}
	return changeSetOf(entries), nil
}

func changeSetOf(entries []Entry) content.ChangeSet {
	cs := make(content.ChangeSet, len(entries))
	for _, e := range entries {
		cs[e.Selector] = e.HTML
	}
	return cs
}

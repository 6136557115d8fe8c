// Package editor makes resolved regions of a page editable in place and
// collects the operator's edits back into a ChangeSet for saving.
package editor

import (
	"iter"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/resolver"
)

// Markup written onto editable nodes.
const (
	ClassEditable    = "cms-editable"
	ClassAllowReturn = "allow-return"
	AttrEditable     = "contenteditable"
	AttrSelector     = "data-cms-selector"
	AttrGuard        = "data-cms-guard"
	AttrFlash        = "data-cms-flash"

	GuardEnter = "enter"
	FlashSaved = "saved"
	KeyEnter   = "Enter"
)

// Binder marks bound nodes as editable.
type Binder struct {
	log zerolog.Logger
}

// NewBinder creates a binder.
func NewBinder(logger zerolog.Logger) *Binder {
	return &Binder{log: logger}
}

// Bind marks every node in seq editable and records its selector on the node.
// Nodes already marked are left untouched. It returns the number of nodes
// newly marked.
func (b *Binder) Bind(seq iter.Seq[resolver.Binding]) int {
	marked := 0
	for binding := range seq {
		if IsEditable(binding.Node) {
			continue
		}
		markEditable(binding.Node, binding.Selector)
		marked++
	}
	b.log.Debug().Int("count", marked).Msg("Bound editable regions")
	return marked
}

// SuppressKey reports whether the default action of key should be prevented
// inside n. Only the line-commit key on a guarded node is suppressed.
func (b *Binder) SuppressKey(n *html.Node, key string) bool {
	if key != KeyEnter || n == nil {
		return false
	}
	guard, ok := dom.Attr(n, AttrGuard)
	return ok && guard == GuardEnter
}

// IsEditable reports whether n carries the editable marker.
func IsEditable(n *html.Node) bool {
	return dom.HasClass(n, ClassEditable)
}

func markEditable(n *html.Node, selector string) {
	dom.SetAttr(n, AttrEditable, "true")
	dom.AddClass(n, ClassEditable)
	dom.SetAttr(n, AttrSelector, selector)
	if allowsReturn(n) {
		return
	}
	dom.SetAttr(n, AttrGuard, GuardEnter)
}

// allowsReturn is the escape hatch for nodes that need the line-commit key.
func allowsReturn(n *html.Node) bool {
	return dom.IsTag(n, "textarea") || dom.HasClass(n, ClassAllowReturn)
}

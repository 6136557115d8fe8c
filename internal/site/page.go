// Package site reads hosted pages from disk, extracts their editable regions
// and prepares them for visitors or operators.
package site

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

// Page markup names.
const (
	MetaPageID       = "cms-page-id"
	MetaWebsiteID    = "cms-website-domain"
	AttrScriptPageID = "data-page-id"
	AttrEditable     = "data-editable"
	EditableClassPre = "editable-"
)

// Config is the configuration a page carries in its own markup.
type Config struct {
	PageID string
	Domain string
}

// PageConfig reads the page id from meta[name=cms-page-id] or a script's
// data-page-id, and the optional website domain. A page without an id is a
// missing-configuration error.
func PageConfig(doc *dom.Document) (Config, error) {
	var cfg Config
	if n := doc.First(`meta[name="` + MetaPageID + `"]`); n != nil {
		cfg.PageID, _ = dom.Attr(n, "content")
	}
	if cfg.PageID == "" {
		if n := doc.First(`script[` + AttrScriptPageID + `]`); n != nil {
			cfg.PageID, _ = dom.Attr(n, AttrScriptPageID)
		}
	}
	if n := doc.First(`meta[name="` + MetaWebsiteID + `"]`); n != nil {
		cfg.Domain, _ = dom.Attr(n, "content")
	}

	cfg.PageID = strings.TrimSpace(cfg.PageID)
	if cfg.PageID == "" {
		return cfg, content.ErrMissingConfig
	}
	return cfg, nil
}

// EditableContent lists the regions of a page that can be edited: elements
// with an id whose only child is text, elements with an "editable-" class and
// elements with a data-editable attribute. Values are trimmed text.
func EditableContent(doc *dom.Document) content.Map {
	m := content.Map{}

	for _, n := range doc.Find("[id]") {
		id, _ := dom.Attr(n, "id")
		if id == "" || n.FirstChild == nil || n.FirstChild != n.LastChild || n.FirstChild.Type != html.TextNode {
			continue
		}
		m["#"+id] = strings.TrimSpace(n.FirstChild.Data)
	}

	for _, n := range doc.Find("[class]") {
		class, _ := dom.Attr(n, "class")
		for _, c := range strings.Fields(class) {
			if strings.HasPrefix(c, EditableClassPre) {
				m["."+c] = strings.TrimSpace(doc.Text(n))
			}
		}
	}

	for _, n := range doc.Find("[" + AttrEditable + "]") {
		v, _ := dom.Attr(n, AttrEditable)
		m[attrSelector(AttrEditable, v)] = strings.TrimSpace(doc.Text(n))
	}

	return m
}

// attrSelector builds [key='v'], switching to double quotes and escaping when
// v holds a single quote or a backslash.
func attrSelector(key, v string) string {
	if !strings.ContainsAny(v, `'\`) {
		return "[" + key + "='" + v + "']"
	}
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
	return "[" + key + `="` + esc + `"]`
}

// InjectTracking adds the page id and domain meta tags and, when script is
// set, the tracking script to the head.
func InjectTracking(doc *dom.Document, pageID, domain, script string) {
	head := ensureHead(doc)
	appendElement(head, atom.Meta, map[string]string{"name": MetaPageID, "content": pageID})
	if domain != "" {
		appendElement(head, atom.Meta, map[string]string{"name": MetaWebsiteID, "content": domain})
	}
	if script != "" {
		appendElement(head, atom.Script, map[string]string{"src": script})
	}
}

// InjectEditor adds the editor script carrying the page id to the head.
func InjectEditor(doc *dom.Document, pageID, script string) {
	appendElement(ensureHead(doc), atom.Script, map[string]string{"src": script, AttrScriptPageID: pageID})
}

func ensureHead(doc *dom.Document) *html.Node {
	if head := doc.First("head"); head != nil {
		return head
	}
	head := &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
	if root := doc.First("html"); root != nil {
		root.InsertBefore(head, root.FirstChild)
	} else {
		doc.Root().AppendChild(head)
	}
	return head
}

func appendElement(parent *html.Node, a atom.Atom, attrs map[string]string) {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	parent.AppendChild(n)
}

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Landing</title></head>
<body>
<h1 id="title" class="tag">Hi</h1>
<p class="tag">one</p>
<p class="tag">two</p>
<div data-editable="hero">Hero</div>
<div data-editable="hero" class="tag">Hero 2</div>
<span id="lead">Lead</span>
</body>
</html>`

func mustParse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s)
	require.NoError(t, err)
	return doc
}

func selectors(bs []Binding) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Selector)
	}
	return out
}

func TestResolve_IdentityKeysOnePerKey(t *testing.T) {
	doc := mustParse(t, page)
	bs := Collect(Resolve(doc, content.Map{"#title": "a", "#lead": "b"}))
	require.Len(t, bs, 2)
	assert.Equal(t, []string{"#lead", "#title"}, selectors(bs))
}

func TestResolve_IdentityWinsOverClass(t *testing.T) {
	doc := mustParse(t, page)
	title := doc.First("#title")

	bs := Collect(Resolve(doc, content.Map{".tag": "x", "#title": "y"}))

	// #title, then the three other .tag nodes.
	require.Len(t, bs, 4)
	assert.Equal(t, "#title", bs[0].Selector)
	assert.Same(t, title, bs[0].Node)
	for _, b := range bs[1:] {
		assert.Equal(t, ".tag", b.Selector)
		assert.NotSame(t, title, b.Node)
	}
}

func TestResolve_ClassWinsOverAttribute(t *testing.T) {
	doc := mustParse(t, page)
	bs := Collect(Resolve(doc, content.Map{
		"[data-editable='hero']": "h",
		".tag":                   "t",
	}))

	counts := map[string]int{}
	nodes := map[any]bool{}
	for _, b := range bs {
		counts[b.Selector]++
		require.False(t, nodes[b.Node], "node bound twice")
		nodes[b.Node] = true
	}
	assert.Equal(t, 4, counts[".tag"])
	assert.Equal(t, 1, counts["[data-editable='hero']"])
}

func TestResolve_ZeroMatchIsNotAnError(t *testing.T) {
	doc := mustParse(t, page)
	bs := Collect(Resolve(doc, content.Map{"#missing": "x", ".nope": "y", "[data-x='1']": "z"}))
	assert.Empty(t, bs)
}

func TestResolve_InvalidAndUnknownSelectorsIgnored(t *testing.T) {
	doc := mustParse(t, page)
	bs := Collect(Resolve(doc, content.Map{"[[[": "x", "h1": "y", "#title": "z"}))
	require.Len(t, bs, 1)
	assert.Equal(t, "#title", bs[0].Selector)
}

func TestResolve_DuplicateIDBindsFirstOnly(t *testing.T) {
	doc := mustParse(t, `<div id="a">1</div><div id="a">2</div>`)
	bs := Collect(Resolve(doc, content.Map{"#a": "x"}))
	require.Len(t, bs, 1)
	got, err := doc.InnerHTML(bs[0].Node)
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestResolve_Restartable(t *testing.T) {
	doc := mustParse(t, page)
	seq := Resolve(doc, content.Map{".tag": "x", "#lead": "y"})

	first := Collect(seq)
	second := Collect(seq)
	assert.Equal(t, first, second)

	// The sequence reads the live document, not a snapshot.
	body := doc.First("body")
	extra := mustParse(t, `<p class="tag">three</p>`).First("p")
	extra.Parent.RemoveChild(extra)
	body.AppendChild(extra)

	third := Collect(seq)
	assert.Len(t, third, len(first)+1)
}

func TestResolve_EarlyStop(t *testing.T) {
	doc := mustParse(t, page)
	n := 0
	for range Resolve(doc, content.Map{".tag": "x"}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestResolve_ScenarioThreeBindings(t *testing.T) {
	doc := mustParse(t, `<h1 id="title"><b>Hi</b></h1><span class="tag">x</span><span class="tag">x</span>`)
	bs := Collect(Resolve(doc, content.Map{"#title": "<b>Hi</b>", ".tag": "x"}))
	assert.Equal(t, []string{"#title", ".tag", ".tag"}, selectors(bs))
}

package experiment

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/editor"
	"github.com/gosight/pagelab/internal/resolver"
)

type conversion struct{ testID, variantID string }

type fakeService struct {
	variant     VariantInfo
	variantErr  error
	versions    map[string]content.Map
	versionErr  error
	goals       map[string]string
	goalErr     error
	convErr     error
	conversions []conversion
	pageViews   []string
}

func (f *fakeService) ActiveVariant(ctx context.Context, pageID, testType string) (VariantInfo, error) {
	return f.variant, f.variantErr
}

func (f *fakeService) ContentVersion(ctx context.Context, versionID string) (content.Map, error) {
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	return f.versions[versionID], nil
}

func (f *fakeService) GoalPage(ctx context.Context, testID string) (string, error) {
	return f.goals[testID], f.goalErr
}

func (f *fakeService) RecordConversion(ctx context.Context, testID, variantID string) error {
	f.conversions = append(f.conversions, conversion{testID, variantID})
	return f.convErr
}

func (f *fakeService) RecordPageView(ctx context.Context, pageID string) error {
	f.pageViews = append(f.pageViews, pageID)
	return nil
}

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s)
	require.NoError(t, err)
	return doc
}

func inner(t *testing.T, doc *dom.Document, sel string) string {
	t.Helper()
	s, err := doc.InnerHTML(doc.First(sel))
	require.NoError(t, err)
	return s
}

func TestApplier_IdentityWinsOverClass(t *testing.T) {
	doc := parse(t, `<h1 id="title" class="tag">old</h1><span class="tag">old</span>`)

	n, err := Applier{}.Apply(doc, content.Map{"#title": "<b>T</b>", ".tag": "tag"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "<b>T</b>", inner(t, doc, "#title"))
	assert.Equal(t, "tag", inner(t, doc, "span"))
	assert.False(t, editor.IsEditable(doc.First("#title")))
}

func TestApplier_ZeroMatch(t *testing.T) {
	doc := parse(t, `<p>x</p>`)
	n, err := Applier{}.Apply(doc, content.Map{"#missing": "y", "bogus": "z"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "x", inner(t, doc, "p"))
}

func TestApplier_NestedRegionSeesEnclosingWrite(t *testing.T) {
	doc := parse(t, `<div id="hero"><span class="tag">old</span></div><p class="tag">p</p>`)

	n, err := Applier{}.Apply(doc, content.Map{"#hero": `<span class="tag">new</span>`, ".tag": "T"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, `<span class="tag">T</span>`, inner(t, doc, "#hero"))
	assert.Equal(t, "T", inner(t, doc, "p"))
}

func TestApplier_SkipsNodesDetachedBySameKind(t *testing.T) {
	doc := parse(t, `<div class="box"><div class="box">inner</div></div>`)

	n, err := Applier{}.Apply(doc, content.Map{".box": "flat"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "flat", inner(t, doc, ".box"))
	assert.Len(t, doc.Find(".box"), 1)
}

func TestApplier_RoundTripsCollectedChangeSet(t *testing.T) {
	const page = `<h1 id="title"><b>Hi</b> &amp; <i>more</i></h1>
<p data-editable="intro">Read <a href="/more">this</a></p>
<span class="tag">x</span><span class="tag">x</span>`

	doc := parse(t, page)
	m := content.Map{"#title": "", "[data-editable='intro']": "", ".tag": ""}
	editor.NewBinder(zerolog.Nop()).Bind(resolver.Resolve(doc, m))

	before, err := editor.Entries(doc)
	require.NoError(t, err)
	cs, err := editor.Collect(doc)
	require.NoError(t, err)

	n, err := Applier{}.Apply(doc, cs)
	require.NoError(t, err)
	assert.Equal(t, len(before), n)

	after, err := editor.Entries(doc)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].HTML, after[i].HTML, before[i].Selector)
	}
}

func TestAssigner_NoActiveTest(t *testing.T) {
	store := NewMemoryStore()
	a := NewAssigner(&fakeService{}, store, zerolog.Nop())

	_, m, ok, err := a.Assign(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)

	_, stored, _ := store.Load(context.Background())
	assert.False(t, stored)
}

func TestAssigner_StoresBeforeContentFetch(t *testing.T) {
	store := NewMemoryStore()
	svc := &fakeService{
		variant:    VariantInfo{ActiveTest: true, TestID: "3", VariantID: "9", TestType: "content", ContentVersionID: "44"},
		versionErr: errors.New("timeout"),
	}

	asg, m, ok, err := NewAssigner(svc, store, zerolog.Nop()).Assign(context.Background(), "1")
	require.ErrorIs(t, err, content.ErrFetch)
	assert.True(t, ok)
	assert.Nil(t, m)

	got, stored, _ := store.Load(context.Background())
	require.True(t, stored)
	assert.Equal(t, asg, got)
	assert.Equal(t, "9", got.VariantID)
}

func TestTracker_ConvertsOnGoalPage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Assignment{TestID: "3", VariantID: "9"}))
	svc := &fakeService{goals: map[string]string{"3": "goal"}}
	tr := NewTracker(svc, store, zerolog.Nop())

	state, err := tr.Check(ctx, "landing")
	require.NoError(t, err)
	assert.Equal(t, Assigned, state)
	assert.Empty(t, svc.conversions)

	state, err = tr.Check(ctx, "goal")
	require.NoError(t, err)
	assert.Equal(t, Converted, state)
	assert.Equal(t, []conversion{{"3", "9"}}, svc.conversions)

	_, stored, _ := store.Load(ctx)
	assert.False(t, stored)
}

func TestTracker_ClearsEvenWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Assignment{TestID: "3", VariantID: "9", GoalPageID: "goal"}))
	svc := &fakeService{convErr: errors.New("503")}

	state, err := NewTracker(svc, store, zerolog.Nop()).Check(ctx, "goal")
	require.NoError(t, err)
	assert.Equal(t, Converted, state)
	assert.Len(t, svc.conversions, 1)

	_, stored, _ := store.Load(ctx)
	assert.False(t, stored)
}

func TestTracker_GoalFetchFailureKeepsAssignment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Assignment{TestID: "3", VariantID: "9"}))
	svc := &fakeService{goalErr: errors.New("down")}

	state, err := NewTracker(svc, store, zerolog.Nop()).Check(ctx, "goal")
	require.ErrorIs(t, err, content.ErrFetch)
	assert.Equal(t, Assigned, state)
	assert.Empty(t, svc.conversions)

	_, stored, _ := store.Load(ctx)
	assert.True(t, stored)
}

func TestRunner_OneConversionOverTwoGoalLoads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Assignment{TestID: "3", VariantID: "9"}))
	svc := &fakeService{goals: map[string]string{"3": "goal"}}
	r := NewRunner(svc, store, zerolog.Nop())

	res, err := r.Load(ctx, "goal", parse(t, `<p>goal</p>`))
	require.NoError(t, err)
	assert.Equal(t, Converted, res.Conversion)

	res, err = r.Load(ctx, "goal", parse(t, `<p>goal</p>`))
	require.NoError(t, err)
	assert.Equal(t, NoAssignment, res.Conversion)

	assert.Len(t, svc.conversions, 1)
	assert.Equal(t, []string{"goal", "goal"}, svc.pageViews)
	_, stored, _ := store.Load(ctx)
	assert.False(t, stored)
}

func TestRunner_AppliesVariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := &fakeService{
		variant:  VariantInfo{ActiveTest: true, TestID: "3", VariantID: "9", TestType: "content", ContentVersionID: "44"},
		versions: map[string]content.Map{"44": {"#title": "Variant B"}},
		goals:    map[string]string{"3": "goal"},
	}
	doc := parse(t, `<h1 id="title">Original</h1>`)

	res, err := NewRunner(svc, store, zerolog.Nop()).Load(ctx, "landing", doc)
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, NoAssignment, res.Conversion)
	assert.Equal(t, "Variant B", inner(t, doc, "#title"))

	got, stored, _ := store.Load(ctx)
	require.True(t, stored)
	assert.Equal(t, "3", got.TestID)
}

func TestRunner_MissingPageID(t *testing.T) {
	svc := &fakeService{}
	_, err := NewRunner(svc, NewMemoryStore(), zerolog.Nop()).Load(context.Background(), "", parse(t, `<p></p>`))
	assert.ErrorIs(t, err, content.ErrMissingConfig)
	assert.Empty(t, svc.pageViews)
}

func TestRunner_VariantFetchFailureLeavesDocument(t *testing.T) {
	svc := &fakeService{variantErr: errors.New("offline")}
	doc := parse(t, `<h1 id="title">Original</h1>`)

	_, err := NewRunner(svc, NewMemoryStore(), zerolog.Nop()).Load(context.Background(), "landing", doc)
	require.ErrorIs(t, err, content.ErrFetch)
	assert.Equal(t, "Original", inner(t, doc, "#title"))
}

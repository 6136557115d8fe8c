package splittest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/pagelab/internal/storage"
)

type fixture struct {
	repo     *storage.Memory
	svc      *Service
	landing  int64
	goal     int64
	foreign  int64
	versionA int64
	versionB int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemory()

	site, err := repo.EnsureWebsite(ctx, storage.Website{Name: "Shop", Domain: "shop.test", Directory: "shop_test"})
	require.NoError(t, err)
	other, err := repo.EnsureWebsite(ctx, storage.Website{Name: "Blog", Domain: "blog.test", Directory: "blog_test"})
	require.NoError(t, err)

	f := &fixture{repo: repo, svc: NewService(repo, zerolog.Nop())}
	f.landing, err = repo.EnsurePage(ctx, storage.Page{WebsiteID: site, Path: "/index.html", Title: "Home"})
	require.NoError(t, err)
	f.goal, err = repo.EnsurePage(ctx, storage.Page{WebsiteID: site, Path: "/thanks.html", Title: "Thanks"})
	require.NoError(t, err)
	f.foreign, err = repo.EnsurePage(ctx, storage.Page{WebsiteID: other, Path: "/index.html", Title: "Blog"})
	require.NoError(t, err)

	f.versionA, err = repo.CreateVersion(ctx, storage.ContentVersion{PageID: f.landing, Type: storage.VersionContent, Content: map[string]string{"#title": "A"}})
	require.NoError(t, err)
	f.versionB, err = repo.CreateVersion(ctx, storage.ContentVersion{PageID: f.landing, Type: storage.VersionContent, Content: map[string]string{"#title": "B"}})
	require.NoError(t, err)
	return f
}

func (f *fixture) runningTest(t *testing.T) (storage.SplitTest, storage.TestVariant, storage.TestVariant) {
	t.Helper()
	ctx := context.Background()
	test, err := f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "Headline", Type: "content", GoalPageID: f.goal})
	require.NoError(t, err)
	a, err := f.svc.AddVariant(ctx, test.ID, "A", f.versionA, 1)
	require.NoError(t, err)
	b, err := f.svc.AddVariant(ctx, test.ID, "B", f.versionB, 3)
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ctx, test.ID))
	return test, a, b
}

func TestPickVariant(t *testing.T) {
	variants := []storage.TestVariant{{ID: 1, Weight: 1}, {ID: 2, Weight: 3}, {ID: 3, Weight: 0}}

	tests := []struct {
		r    float64
		want int64
	}{
		{0, 1},
		{0.24, 1},
		{0.25, 2},
		{0.99, 2},
		{0.9999999999, 2},
	}
	for _, tt := range tests {
		got, ok := PickVariant(variants, tt.r)
		require.True(t, ok)
		assert.Equal(t, tt.want, got.ID, "r=%v", tt.r)
	}

	_, ok := PickVariant(nil, 0.5)
	assert.False(t, ok)

	got, ok := PickVariant([]storage.TestVariant{{ID: 7}, {ID: 8}}, 0.6)
	require.True(t, ok)
	assert.Equal(t, int64(8), got.ID, "all-zero weights pick uniformly")
}

func TestVariantFor_Sticky(t *testing.T) {
	f := newFixture(t)
	test, a, b := f.runningTest(t)
	ctx := context.Background()

	f.svc.float = func() float64 { return 0.1 }
	first, ok, err := f.svc.VariantFor(ctx, f.landing, "content", Visitor{ID: "v1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, test.ID, first.Test.ID)
	assert.Equal(t, a.ID, first.Variant.ID)

	f.svc.float = func() float64 { return 0.9 }
	again, ok, err := f.svc.VariantFor(ctx, f.landing, "content", Visitor{ID: "v1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, again.Variant.ID, "assignment is sticky")

	other, _, err := f.svc.VariantFor(ctx, f.landing, "content", Visitor{ID: "v2"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, other.Variant.ID)
}

func TestVariantFor_NoActiveTest(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.svc.VariantFor(context.Background(), f.landing, "content", Visitor{ID: "v1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordConversion_OncePerVisitor(t *testing.T) {
	f := newFixture(t)
	test, a, _ := f.runningTest(t)
	ctx := context.Background()

	ok, err := f.svc.RecordConversion(ctx, test.ID, a.ID, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.RecordConversion(ctx, test.ID, a.ID, "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.repo.Conversions(test.ID))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "x", Type: "layout", GoalPageID: f.goal})
	assert.ErrorIs(t, err, ErrInvalidTestType)

	_, err = f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "x", Type: "content", GoalPageID: f.foreign})
	assert.ErrorIs(t, err, ErrInvalidGoalPage)

	_, err = f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "x", Type: "content", GoalPageID: 999})
	assert.ErrorIs(t, err, ErrInvalidGoalPage)

	f.runningTest(t)
	_, err = f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "again", Type: "content", GoalPageID: f.goal})
	assert.ErrorIs(t, err, ErrActiveTestExists)

	_, err = f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "design", Type: "design", GoalPageID: f.goal})
	assert.NoError(t, err, "one active test per type")
}

func TestAddVariant_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test, err := f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "x", Type: "content", GoalPageID: f.goal})
	require.NoError(t, err)

	foreignVersion, err := f.repo.CreateVersion(ctx, storage.ContentVersion{PageID: f.goal, Type: storage.VersionContent})
	require.NoError(t, err)
	_, err = f.svc.AddVariant(ctx, test.ID, "wrong page", foreignVersion, 1)
	assert.ErrorIs(t, err, ErrInvalidVersion)

	designVersion, err := f.repo.CreateVersion(ctx, storage.ContentVersion{PageID: f.landing, Type: storage.VersionDesign, HTML: "<p></p>"})
	require.NoError(t, err)
	_, err = f.svc.AddVariant(ctx, test.ID, "wrong type", designVersion, 1)
	assert.ErrorIs(t, err, ErrInvalidVersion)

	v, err := f.svc.AddVariant(ctx, test.ID, "ok", f.versionA, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Weight)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test, err := f.svc.Create(ctx, NewTest{PageID: f.landing, Name: "x", Type: "content", GoalPageID: f.goal})
	require.NoError(t, err)
	assert.False(t, test.Active)

	_, err = f.svc.AddVariant(ctx, test.ID, "A", f.versionA, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Start(ctx, test.ID), ErrTooFewVariants)

	_, err = f.svc.AddVariant(ctx, test.ID, "B", f.versionB, 1)
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ctx, test.ID))

	got, err := f.svc.Test(ctx, test.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	require.NoError(t, f.svc.Stop(ctx, test.ID))
	got, err = f.svc.Test(ctx, test.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.EndDate)
}

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) (*Memory, Page) {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()

	wid, err := m.EnsureWebsite(ctx, Website{Name: "shop.test", Domain: "shop.test", Directory: "shop.test"})
	require.NoError(t, err)
	pid, err := m.EnsurePage(ctx, Page{WebsiteID: wid, Path: "/index.html", Title: "Shop"})
	require.NoError(t, err)
	page, err := m.Page(ctx, pid)
	require.NoError(t, err)
	return m, page
}

func TestMemory_EnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, page := newSite(t)

	wid, err := m.EnsureWebsite(ctx, Website{Domain: "shop.test"})
	require.NoError(t, err)
	assert.Equal(t, page.WebsiteID, wid)

	pid, err := m.EnsurePage(ctx, Page{WebsiteID: wid, Path: "/index.html"})
	require.NoError(t, err)
	assert.Equal(t, page.ID, pid)

	assert.Equal(t, "shop.test", page.Domain)
	assert.True(t, page.Active)

	_, err = m.EnsurePage(ctx, Page{WebsiteID: 999, Path: "/x.html"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ActivateVersionIsExclusive(t *testing.T) {
	ctx := context.Background()
	m, page := newSite(t)

	_, err := m.ActiveVersion(ctx, page.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	v1, err := m.CreateVersion(ctx, ContentVersion{PageID: page.ID, Type: VersionContent, ContentHash: "a", Content: map[string]string{"#title": "A"}})
	require.NoError(t, err)
	v2, err := m.CreateVersion(ctx, ContentVersion{PageID: page.ID, Type: VersionContent, ContentHash: "b", Content: map[string]string{"#title": "B"}})
	require.NoError(t, err)

	require.NoError(t, m.ActivateVersion(ctx, page.ID, v1))
	require.NoError(t, m.ActivateVersion(ctx, page.ID, v2))

	active, err := m.ActiveVersion(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, v2, active.ID)

	old, err := m.ContentVersion(ctx, v1)
	require.NoError(t, err)
	assert.False(t, old.Active)

	assert.ErrorIs(t, m.ActivateVersion(ctx, page.ID+1, v1), ErrNotFound)
}

func TestMemory_VersionContentIsCopied(t *testing.T) {
	ctx := context.Background()
	m, page := newSite(t)

	content := map[string]string{"#title": "A"}
	id, err := m.CreateVersion(ctx, ContentVersion{PageID: page.ID, Type: VersionContent, ContentHash: "a", Content: content})
	require.NoError(t, err)
	content["#title"] = "changed"

	v, err := m.ContentVersion(ctx, id)
	require.NoError(t, err)
	v.Content["#title"] = "changed again"

	again, err := m.VersionByHash(ctx, page.ID, "a", VersionContent)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Content["#title"])

	_, err = m.VersionByHash(ctx, page.ID, "a", VersionDesign)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_VisitorSessionsAndConversions(t *testing.T) {
	ctx := context.Background()
	m, page := newSite(t)

	tid, err := m.CreateTest(ctx, SplitTest{PageID: page.ID, Name: "Headline", Type: VersionContent, GoalPageID: page.ID})
	require.NoError(t, err)

	_, err = m.VisitorVariant(ctx, tid, "v1")
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := m.CreateVisitorSession(ctx, VisitorSession{TestID: tid, VariantID: 10, VisitorID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored)

	// First assignment wins
	stored, err = m.CreateVisitorSession(ctx, VisitorSession{TestID: tid, VariantID: 11, VisitorID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored)

	ok, err := m.RecordConversion(ctx, Conversion{TestID: tid, VariantID: 10, VisitorID: "v1"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.RecordConversion(ctx, Conversion{TestID: tid, VariantID: 10, VisitorID: "v1"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Conversions(tid))
}

func TestMemory_ActiveTest(t *testing.T) {
	ctx := context.Background()
	m, page := newSite(t)

	tid, err := m.CreateTest(ctx, SplitTest{PageID: page.ID, Type: VersionContent})
	require.NoError(t, err)
	_, err = m.ActiveTest(ctx, page.ID, VersionContent)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetTestActive(ctx, tid, true))
	got, err := m.ActiveTest(ctx, page.ID, VersionContent)
	require.NoError(t, err)
	assert.Equal(t, tid, got.ID)
	assert.Nil(t, got.EndDate)

	_, err = m.ActiveTest(ctx, page.ID, VersionDesign)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetTestActive(ctx, tid, false))
	stopped, err := m.Test(ctx, tid)
	require.NoError(t, err)
	assert.False(t, stopped.Active)
	assert.NotNil(t, stopped.EndDate)
}

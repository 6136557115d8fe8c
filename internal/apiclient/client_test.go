package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/experiment"
)

type fakeAPI struct {
	mu          sync.Mutex
	saved       map[string]string
	conversions int
	pageViews   int
	tokens      []string
	visitors    map[string]bool
}

func newServer(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{visitors: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/page/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "3" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "Not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"content": map[string]string{"#title": "<b>Hi</b>", ".tag": "x"}})
	})
	mux.HandleFunc("POST /api/page/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content map[string]string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		api.mu.Lock()
		api.saved = req.Content
		api.tokens = append(api.tokens, r.Header.Get(OperatorHeader))
		api.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "version_id": 41})
	})
	mux.HandleFunc("GET /api/test/variant", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("visitor_id")
		if err != nil {
			http.SetCookie(w, &http.Cookie{Name: "visitor_id", Value: "visitor-1", Path: "/"})
		} else {
			api.mu.Lock()
			api.visitors[c.Value] = true
			api.mu.Unlock()
		}
		if r.URL.Query().Get("page_id") != "3" {
			json.NewEncoder(w).Encode(map[string]interface{}{"active_test": false})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"active_test": true, "test_id": 7, "variant_id": "9", "test_type": r.URL.Query().Get("test_type"),
			"content_version_id": 41, "goal_page_id": 4,
		})
	})
	mux.HandleFunc("GET /api/content_version/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"content": map[string]string{"#title": "Variant"}})
	})
	mux.HandleFunc("GET /api/test/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 7, "goal_page_id": 4})
	})
	mux.HandleFunc("POST /api/test/conversion", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.conversions++
		first := api.conversions == 1
		api.mu.Unlock()
		if first {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "reason": "Already converted"})
	})
	mux.HandleFunc("POST /api/page_view", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.pageViews++
		api.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(config.APIConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, "secret")
	require.NoError(t, err)
	return api, client
}

func TestClient_PageContent(t *testing.T) {
	_, c := newServer(t)

	m, err := c.PageContent(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, content.Map{"#title": "<b>Hi</b>", ".tag": "x"}, m)

	_, err = c.PageContent(context.Background(), "99")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "Not found", se.Message)
}

func TestClient_SaveContent(t *testing.T) {
	api, c := newServer(t)

	versionID, err := c.SaveContent(context.Background(), "3", content.ChangeSet{"#title": "<b>Bye</b>"})
	require.NoError(t, err)
	assert.Equal(t, "41", versionID)
	assert.Equal(t, map[string]string{"#title": "<b>Bye</b>"}, api.saved)
	assert.Equal(t, []string{"secret"}, api.tokens)
}

func TestClient_ExperimentCalls(t *testing.T) {
	api, c := newServer(t)
	ctx := context.Background()

	info, err := c.ActiveVariant(ctx, "3", experiment.TestTypeContent)
	require.NoError(t, err)
	assert.Equal(t, experiment.VariantInfo{
		ActiveTest: true, TestID: "7", VariantID: "9", TestType: "content", ContentVersionID: "41", GoalPageID: "4",
	}, info)

	_, err = c.ActiveVariant(ctx, "5", experiment.TestTypeContent)
	require.NoError(t, err)
	assert.True(t, api.visitors["visitor-1"], "visitor cookie is sent back")

	m, err := c.ContentVersion(ctx, "41")
	require.NoError(t, err)
	assert.Equal(t, content.Map{"#title": "Variant"}, m)

	goal, err := c.GoalPage(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "4", goal)

	require.NoError(t, c.RecordConversion(ctx, "7", "9"))
	require.NoError(t, c.RecordConversion(ctx, "7", "9"), "already converted is not an error")
	require.NoError(t, c.RecordPageView(ctx, "3"))
	assert.Equal(t, 1, api.pageViews)
}

func TestClient_DrivesExperimentRunner(t *testing.T) {
	api, c := newServer(t)
	ctx := context.Background()
	store := experiment.NewMemoryStore()

	doc, err := dom.ParseString(`<h1 id="title">Original</h1>`)
	require.NoError(t, err)
	res, err := experiment.NewRunner(c, store, zerolog.Nop()).Load(ctx, "3", doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	got, err := doc.InnerHTML(doc.First("#title"))
	require.NoError(t, err)
	assert.Equal(t, "Variant", got)

	goal, err := dom.ParseString(`<h1 id="title">Thanks</h1>`)
	require.NoError(t, err)
	res, err = experiment.NewRunner(c, store, zerolog.Nop()).Load(ctx, "4", goal)
	require.NoError(t, err)
	assert.Equal(t, experiment.Converted, res.Conversion)
	assert.Equal(t, 1, api.conversions)
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(config.APIConfig{BaseURL: srv.URL, Timeout: time.Second}, "")
	require.NoError(t, err)
	_, err = c.PageContent(context.Background(), "3")
	assert.Error(t, err)
}

func TestClient_ResumesVisitorCookie(t *testing.T) {
	api, c := newServer(t)
	ctx := context.Background()

	_, err := c.ActiveVariant(ctx, "3", experiment.TestTypeContent)
	require.NoError(t, err)
	assert.Equal(t, "visitor-1", c.Cookie("visitor_id"))

	resumed, err := New(config.APIConfig{BaseURL: c.baseURL, Timeout: 5 * time.Second}, "")
	require.NoError(t, err)
	assert.Empty(t, resumed.Cookie("visitor_id"))
	resumed.SetCookie("visitor_id", "visitor-2")
	_, err = resumed.ActiveVariant(ctx, "3", experiment.TestTypeContent)
	require.NoError(t, err)
	assert.True(t, api.visitors["visitor-2"])
}

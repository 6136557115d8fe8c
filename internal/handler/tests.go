package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/splittest"
	"github.com/gosight/pagelab/internal/storage"
)

type VariantResponse struct {
	ActiveTest       bool   `json:"active_test"`
	TestID           int64  `json:"test_id,omitempty"`
	VariantID        int64  `json:"variant_id,omitempty"`
	TestType         string `json:"test_type,omitempty"`
	ContentVersionID int64  `json:"content_version_id,omitempty"`
	GoalPageID       int64  `json:"goal_page_id,omitempty"`
}

type TestResponse struct {
	ID         int64      `json:"id"`
	PageID     int64      `json:"page_id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	GoalPageID int64      `json:"goal_page_id"`
	Active     bool       `json:"active"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

type ConversionRequest struct {
	TestID    ID `json:"test_id"`
	VariantID ID `json:"variant_id"`
}

type ConversionResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type CreateTestRequest struct {
	PageID     ID     `json:"page_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	GoalPageID ID     `json:"goal_page_id"`
}

type AddVariantRequest struct {
	Name             string `json:"name"`
	ContentVersionID ID     `json:"content_version_id"`
	Weight           int    `json:"weight"`
}

type VariantCreatedResponse struct {
	ID               int64  `json:"id"`
	TestID           int64  `json:"test_id"`
	Name             string `json:"name"`
	ContentVersionID int64  `json:"content_version_id"`
	Weight           int    `json:"weight"`
}

func testResponse(t storage.SplitTest) TestResponse {
	resp := TestResponse{
		ID:         t.ID,
		PageID:     t.PageID,
		Name:       t.Name,
		Type:       t.Type,
		GoalPageID: t.GoalPageID,
		Active:     t.Active,
		EndDate:    t.EndDate,
	}
	if !t.StartDate.IsZero() {
		start := t.StartDate
		resp.StartDate = &start
	}
	return resp
}

func (h *HTTPHandler) HandleVariant(w http.ResponseWriter, r *http.Request) {
	pageID, err := strconv.ParseInt(r.URL.Query().Get("page_id"), 10, 64)
	if err != nil || pageID <= 0 {
		writeError(w, http.StatusBadRequest, "Page ID is required")
		return
	}
	testType := r.URL.Query().Get("test_type")
	if testType == "" {
		testType = experiment.TestTypeContent
	}

	a, ok, err := h.tests.VariantFor(r.Context(), pageID, testType, h.visitor(w, r))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, VariantResponse{ActiveTest: false})
		return
	}
	writeJSON(w, http.StatusOK, VariantResponse{
		ActiveTest:       true,
		TestID:           a.Test.ID,
		VariantID:        a.Variant.ID,
		TestType:         a.Test.Type,
		ContentVersionID: a.Variant.ContentVersionID,
		GoalPageID:       a.Test.GoalPageID,
	})
}

func (h *HTTPHandler) HandleGetTest(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(r, "testID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid test id")
		return
	}

	t, err := h.tests.Test(r.Context(), testID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, testResponse(t))
}

func (h *HTTPHandler) HandleConversion(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.TestID <= 0 || req.VariantID <= 0 {
		writeError(w, http.StatusBadRequest, "Test ID and variant ID are required")
		return
	}

	recorded, err := h.recordConversion(r.Context(), int64(req.TestID), int64(req.VariantID), h.visitor(w, r), clientIP(r))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !recorded {
		writeJSON(w, http.StatusOK, ConversionResponse{Success: false, Reason: "Already converted"})
		return
	}
	writeJSON(w, http.StatusOK, ConversionResponse{Success: true})
}

func (h *HTTPHandler) HandleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req CreateTestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" || req.PageID <= 0 {
		writeError(w, http.StatusBadRequest, "Name and page ID are required")
		return
	}

	t, err := h.tests.Create(r.Context(), splittest.NewTest{
		PageID:     int64(req.PageID),
		Name:       req.Name,
		Type:       req.Type,
		GoalPageID: int64(req.GoalPageID),
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, testResponse(t))
}

func (h *HTTPHandler) HandleAddVariant(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(r, "testID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid test id")
		return
	}

	var req AddVariantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	v, err := h.tests.AddVariant(r.Context(), testID, req.Name, int64(req.ContentVersionID), req.Weight)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, VariantCreatedResponse{
		ID:               v.ID,
		TestID:           v.TestID,
		Name:             v.Name,
		ContentVersionID: v.ContentVersionID,
		Weight:           v.Weight,
	})
}

func (h *HTTPHandler) HandleStartTest(w http.ResponseWriter, r *http.Request) {
	h.setTestState(w, r, h.tests.Start)
}

func (h *HTTPHandler) HandleStopTest(w http.ResponseWriter, r *http.Request) {
	h.setTestState(w, r, h.tests.Stop)
}

func (h *HTTPHandler) setTestState(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, testID int64) error) {
	testID, ok := pathID(r, "testID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid test id")
		return
	}
	if err := apply(r.Context(), testID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	t, err := h.tests.Test(r.Context(), testID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, testResponse(t))
}

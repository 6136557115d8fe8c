package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gosight/pagelab/internal/enricher"
	"github.com/gosight/pagelab/internal/splittest"
)

type PageViewRequest struct {
	PageID ID `json:"page_id"`
}

func (h *HTTPHandler) HandlePageView(w http.ResponseWriter, r *http.Request) {
	var req PageViewRequest
	if err := decode(r, &req); err != nil || req.PageID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid page id")
		return
	}

	visitor := h.visitor(w, r)
	h.recordPageView(r.Context(), int64(req.PageID), visitor, clientIP(r))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

// recordPageView publishes a page view. Failures are logged only.
func (h *HTTPHandler) recordPageView(ctx context.Context, pageID int64, visitor splittest.Visitor, ip string) {
	h.publish(ctx, enricher.Event{
		Type:      enricher.EventPageView,
		VisitorID: visitor.ID,
		PageID:    strconv.FormatInt(pageID, 10),
		Referrer:  visitor.Referrer,
	}, visitor, ip)
}

// recordConversion stores the conversion once per visitor and test, then
// publishes it.
func (h *HTTPHandler) recordConversion(ctx context.Context, testID, variantID int64, visitor splittest.Visitor, ip string) (bool, error) {
	ok, err := h.tests.RecordConversion(ctx, testID, variantID, visitor.ID)
	if err != nil || !ok {
		return ok, err
	}

	h.publish(ctx, enricher.Event{
		Type:      enricher.EventConversion,
		VisitorID: visitor.ID,
		TestID:    strconv.FormatInt(testID, 10),
		VariantID: strconv.FormatInt(variantID, 10),
		Referrer:  visitor.Referrer,
	}, visitor, ip)
	return true, nil
}

func (h *HTTPHandler) publish(ctx context.Context, event enricher.Event, visitor splittest.Visitor, ip string) {
	if h.producer == nil {
		return
	}
	event.EventID = uuid.NewString()
	event.Timestamp = time.Now().UnixMilli()
	enriched := h.enricher.Enrich(event, visitor.UserAgent, ip)

	var err error
	switch event.Type {
	case enricher.EventConversion:
		err = h.producer.ProduceConversion(ctx, enriched)
	default:
		err = h.producer.ProducePageView(ctx, enriched)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("type", event.Type).Msg("Failed to produce event")
	}
}

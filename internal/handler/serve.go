package handler

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/site"
	"github.com/gosight/pagelab/internal/storage"
)

// HandleServe serves a hosted website. HTML pages get their active content
// version applied plus tracking markup, or the editor for operators. Other
// files are served as is.
func (h *HTTPHandler) HandleServe(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	p := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if strings.HasSuffix(p, "/") {
		p += "index.html"
	}

	if !strings.EqualFold(path.Ext(p), ".html") {
		h.serveAsset(w, r, domain, p)
		return
	}

	ctx := r.Context()
	page, err := h.sites.PageByPath(ctx, domain, p)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("domain", domain).Str("path", p).Msg("Failed to load page")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	doc, err := h.sites.Document(ctx, page)
	if err != nil {
		h.log.Error().Err(err).Int64("page_id", page.ID).Msg("Failed to render page")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	pageID := strconv.FormatInt(page.ID, 10)
	switch {
	case h.guard != nil && h.guard.IsOperator(r.Header.Get(OperatorHeader)):
		site.InjectEditor(doc, pageID, h.cfg.Sites.EditorScript)
	case h.cfg.Sites.ServerSideExperiments:
		visitor := h.visitor(w, r)
		svc := &localExperiments{h: h, visitor: visitor, ip: clientIP(r)}
		res, err := experiment.NewRunner(svc, h.stores(visitor.ID), h.log).Load(ctx, pageID, doc)
		if err != nil {
			h.log.Warn().Err(err).Int64("page_id", page.ID).Msg("Experiment pipeline incomplete")
		}
		h.log.Debug().
			Int64("page_id", page.ID).
			Str("conversion", res.Conversion.String()).
			Int("applied", res.Applied).
			Msg("Experiments applied")
		site.InjectTracking(doc, pageID, domain, "")
	default:
		site.InjectTracking(doc, pageID, domain, h.cfg.Sites.TrackingScript)
	}

	out, err := doc.Render()
	if err != nil {
		h.log.Error().Err(err).Int64("page_id", page.ID).Msg("Failed to render page")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func (h *HTTPHandler) serveAsset(w http.ResponseWriter, r *http.Request, domain, p string) {
	full, err := h.sites.Asset(r.Context(), domain, p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

package handler

import (
	"net/http"

	"github.com/gosight/pagelab/internal/content"
)

type ContentResponse struct {
	Content content.Map `json:"content"`
}

type SaveContentRequest struct {
	Content content.ChangeSet `json:"content"`
}

type SaveContentResponse struct {
	Success   bool  `json:"success"`
	VersionID int64 `json:"version_id"`
}

func (h *HTTPHandler) HandleGetContent(w http.ResponseWriter, r *http.Request) {
	pageID, ok := pathID(r, "pageID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid page id")
		return
	}

	m, err := h.sites.PageContent(r.Context(), pageID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{Content: m})
}

func (h *HTTPHandler) HandleSaveContent(w http.ResponseWriter, r *http.Request) {
	pageID, ok := pathID(r, "pageID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid page id")
		return
	}

	var req SaveContentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Content) == 0 {
		writeError(w, http.StatusBadRequest, "No content provided")
		return
	}

	cs := make(content.ChangeSet, len(req.Content))
	for selector, fragment := range req.Content {
		cs[selector] = h.sanitizer.Sanitize(fragment)
	}

	versionID, err := h.sites.SaveContent(r.Context(), pageID, cs)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveContentResponse{Success: true, VersionID: versionID})
}

func (h *HTTPHandler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(r, "versionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid version id")
		return
	}

	m, err := h.sites.VersionContent(r.Context(), versionID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{Content: m})
}

func (h *HTTPHandler) HandleActivateVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(r, "versionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid version id")
		return
	}

	if err := h.sites.ActivateVersion(r.Context(), versionID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

package api

import (
	"net/http"
	"strings"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/funnel"
)

type mediaRequest struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Kind        string   `json:"kind"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Blurred     bool     `json:"blurred"`
}

// ListMedia returns catalog entries, optionally filtered by ?category=.
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.ListMediaAssets(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*database.MediaAsset{}
	}
	JSON(w, http.StatusOK, assets)
}

// SaveMedia inserts or replaces a catalog entry. New preview assets are
// visible to every session on its next turn.
func (h *Handler) SaveMedia(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateMedia(req); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}
	if req.Category == "" {
		req.Category = database.CategoryPreview
	}

	asset := &database.MediaAsset{
		ID:          strings.TrimSpace(req.ID),
		URL:         strings.TrimSpace(req.URL),
		Kind:        req.Kind,
		Category:    req.Category,
		Description: strings.TrimSpace(req.Description),
		Tags:        strings.Join(req.Tags, ","),
		Blurred:     req.Blurred,
	}
	if err := h.store.SaveMediaAsset(r.Context(), asset); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Media asset saved", "media_id", asset.ID, "kind", asset.Kind, "category", asset.Category)
	JSON(w, http.StatusCreated, asset)
}

func validateMedia(req mediaRequest) string {
	switch {
	case strings.TrimSpace(req.ID) == "":
		return "id is required"
	case strings.TrimSpace(req.URL) == "":
		return "url is required"
	}
	switch funnel.MediaKind(req.Kind) {
	case funnel.MediaImage, funnel.MediaVideo, funnel.MediaAudio:
	default:
		return "kind must be image, video or audio"
	}
	switch req.Category {
	case "", database.CategoryPreview, database.CategoryFull:
	default:
		return "category must be preview or full"
	}
	return ""
}

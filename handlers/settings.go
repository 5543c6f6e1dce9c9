package handlers

import (
	"net/http"

	"library-backend/library"
)

// CurrentSettings returns the library thresholds in effect.
func (h *Handler) CurrentSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.lib.CurrentSettings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validation": s})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch library.SettingsPatch
	if err := decode(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.lib.UpdateSettings(r.Context(), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validation": s})
}

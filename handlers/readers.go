package handlers

import (
	"net/http"

	"library-backend/library"
)

func (h *Handler) CreateReader(w http.ResponseWriter, r *http.Request) {
	var req library.ReaderRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rd, err := h.lib.CreateReader(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reader": rd})
}

func (h *Handler) ListReaders(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.Reader, error) {
		return h.lib.ListReaders(r.Context(), opts)
	})
}

func (h *Handler) MyReader(w http.ResponseWriter, r *http.Request) {
	rd, err := h.lib.MyReader(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader": rd})
}

// ExpiredReaders lists cards older than the configured lifetime.
func (h *Handler) ExpiredReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := h.lib.ExpiredReaders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, len(readers), readers)
}

func (h *Handler) GetReader(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rd, err := h.lib.GetReader(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader": rd})
}

func (h *Handler) UpdateReader(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch library.ReaderPatch
	if err := decode(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	rd, err := h.lib.UpdateReader(r.Context(), principal(r), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader": rd})
}

func (h *Handler) DeleteReader(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.DeleteReader(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

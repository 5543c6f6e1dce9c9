package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"library-backend/library"
)

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.Book, error) {
		return h.lib.ListBooks(r.Context(), opts)
	})
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req library.BookRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.lib.CreateBook(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"book": b})
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.lib.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (h *Handler) GetBookBySlug(w http.ResponseWriter, r *http.Request) {
	b, err := h.lib.GetBookBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch library.BookPatch
	if err := decode(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.lib.UpdateBook(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.DeleteBook(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

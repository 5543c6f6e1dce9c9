package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"library-backend/library"
)

// ListReviews lists all reviews, or those of the book in the path.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	var bookID int64
	if _, nested := mux.Vars(r)["id"]; nested {
		id, err := pathID(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		bookID = id
	}
	list(h, w, r, func(opts library.ListOptions) ([]library.Review, error) {
		return h.lib.ListReviews(r.Context(), bookID, opts)
	})
}

// CreateReview takes the book from the path when nested under /books/{id}.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req library.ReviewRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, nested := mux.Vars(r)["id"]; nested {
		id, err := pathID(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req.BookID = id
	}
	rv, err := h.lib.CreateReview(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"review": rv})
}

func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rv, err := h.lib.GetReview(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rv})
}

func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch library.ReviewPatch
	if err := decode(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	rv, err := h.lib.UpdateReview(r.Context(), principal(r), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rv})
}

func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.DeleteReview(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

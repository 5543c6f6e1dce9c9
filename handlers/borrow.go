package handlers

import (
	"net/http"
	"time"

	"library-backend/library"
)

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req library.BorrowRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.lib.Borrow(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"borrowBookForm": f})
}

func (h *Handler) ListBorrowForms(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.BorrowForm, error) {
		return h.lib.ListBorrowForms(r.Context(), principal(r), opts)
	})
}

// OverdueForms lists open forms past their expected return date.
func (h *Handler) OverdueForms(w http.ResponseWriter, r *http.Request) {
	forms, err := h.lib.OverdueForms(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, len(forms), forms)
}

func (h *Handler) GetBorrowForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.lib.GetBorrowForm(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"borrowBookForm": f})
}

func (h *Handler) ExtendBorrowForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body struct {
		ExpectedReturnDate *time.Time `json:"expectedReturnDate"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.ExpectedReturnDate == nil {
		h.writeError(w, r, errorf(library.ErrValidation, "expectedReturnDate is required"))
		return
	}
	f, err := h.lib.ExtendBorrowForm(r.Context(), id, *body.ExpectedReturnDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"borrowBookForm": f})
}

func (h *Handler) CancelBorrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.CancelBorrow(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	var req library.ReturnRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.lib.Return(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"returnBookForm": f})
}

func (h *Handler) ListReturnForms(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.ReturnForm, error) {
		return h.lib.ListReturnForms(r.Context(), principal(r), opts)
	})
}

func (h *Handler) GetReturnForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.lib.GetReturnForm(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returnBookForm": f})
}

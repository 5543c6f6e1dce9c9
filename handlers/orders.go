package handlers

import (
	"net/http"

	"library-backend/library"
)

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req library.OrderRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.lib.CreateOrder(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": o})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.Order, error) {
		return h.lib.ListOrders(r.Context(), opts)
	})
}

func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.Order, error) {
		return h.lib.MyOrders(r.Context(), principal(r), opts)
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.lib.GetOrder(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"library-backend/library"
)

func (h *Handler) ListFinancials(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.FinancialAccount, error) {
		return h.lib.ListFinancials(r.Context(), opts)
	})
}

func (h *Handler) MyFinancials(w http.ResponseWriter, r *http.Request) {
	h.sendFinancials(w, r, principal(r).UserID)
}

func (h *Handler) GetFinancials(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sendFinancials(w, r, userID)
}

func (h *Handler) sendFinancials(w http.ResponseWriter, r *http.Request, userID int64) {
	acc, err := h.lib.GetFinancials(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userFinancials": acc})
}

// AddDebt charges a user outside the return workflow, e.g. for damage.
func (h *Handler) AddDebt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64           `json:"user"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.UserID <= 0 {
		h.writeError(w, r, errorf(library.ErrValidation, "user is required"))
		return
	}
	if _, err := h.lib.GetUser(r.Context(), body.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	acc, err := h.lib.AddDebt(r.Context(), body.UserID, body.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userFinancials": acc})
}

func (h *Handler) SettleFee(w http.ResponseWriter, r *http.Request) {
	var req library.SettleRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rc, err := h.lib.SettleFee(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feeReceipt": rc})
}

func (h *Handler) ListFeeReceipts(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.FeeReceipt, error) {
		return h.lib.ListFeeReceipts(r.Context(), principal(r), opts)
	})
}

func (h *Handler) GetFeeReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rc, err := h.lib.GetFeeReceipt(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeReceipt": rc})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.Transaction, error) {
		return h.lib.ListTransactions(r.Context(), principal(r), opts)
	})
}

// ConfirmTopUp settles the latest pending top-up of the named user. Admin only.
func (h *Handler) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64  `json:"user"`
		Status string `json:"status"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.UserID <= 0 {
		h.writeError(w, r, errorf(library.ErrValidation, "user is required"))
		return
	}
	t, err := h.lib.ConfirmTopUp(r.Context(), principal(r), body.UserID, body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": t})
}

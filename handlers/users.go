package handlers

import (
	"net/http"

	"library-backend/library"
)

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.lib.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// UpdateMe changes the caller's profile. Passwords go through
// UpdatePassword instead.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		library.ProfilePatch
		Password        *string `json:"password"`
		PasswordConfirm *string `json:"passwordConfirm"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Password != nil || body.PasswordConfirm != nil {
		h.writeError(w, r, errorf(library.ErrValidation, "this route is not for password updates, please use /update-my-password"))
		return
	}
	u, err := h.lib.UpdateMe(r.Context(), principal(r), body.ProfilePatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// UpdatePassword changes a known password and signs the caller in again,
// since older tokens stop working.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req library.PasswordChange
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.UpdatePassword(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.createSendToken(w, r, u, http.StatusOK)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.Deactivate(r.Context(), principal(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req library.TopUpRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.lib.TopUp(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": t})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, func(opts library.ListOptions) ([]library.User, error) {
		return h.lib.ListUsers(r.Context(), opts)
	})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.lib.DeleteUser(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

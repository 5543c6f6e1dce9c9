package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"library-backend/library"
)

const refreshCookie = "jwt"

// createSendToken answers with a fresh access token in the body and a
// refresh token in an http-only cookie.
func (h *Handler) createSendToken(w http.ResponseWriter, r *http.Request, u *library.User, status int) {
	access, err := h.tokens.Access(u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	refresh, exp, err := h.tokens.Refresh(u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    refresh,
		Path:     "/api/v1/users",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"token":  access,
		"data":   map[string]any{"user": u},
	})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req library.SignupRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.Signup(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.createSendToken(w, r, u, http.StatusCreated)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req library.LoginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.Authenticate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.createSendToken(w, r, u, http.StatusOK)
}

// Refresh trades the refresh cookie for a new token pair.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		h.writeError(w, r, errorf(library.ErrUnauthorized, "no refresh token, please log in again"))
		return
	}
	claims, err := h.tokens.ParseRefresh(c.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.ActiveUser(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, errorf(library.ErrUnauthorized, "the user belonging to this token does no longer exist"))
		return
	}
	if u.PasswordChangedAfter(claims.IssuedAt.Time) {
		h.writeError(w, r, errorf(library.ErrUnauthorized, "user recently changed password, please log in again"))
		return
	}
	h.createSendToken(w, r, u, http.StatusOK)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "loggedout",
		Path:     "/api/v1/users",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
	})
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Email == "" {
		h.writeError(w, r, errorf(library.ErrValidation, "email is required"))
		return
	}
	if err := h.lib.ForgotPassword(r.Context(), req.Email, h.resetLink(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Token sent to email!")
}

// resetLink is the configured reset URL, or one built from the request.
func (h *Handler) resetLink(r *http.Request) string {
	if h.resetURL != "" {
		return h.resetURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/v1/users/reset-password", scheme, r.Host)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req library.PasswordReset
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.lib.ResetPassword(r.Context(), mux.Vars(r)["token"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.createSendToken(w, r, u, http.StatusOK)
}

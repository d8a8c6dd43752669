package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/mail-aggregator/internal/auth"
)

// AuthConfig tells the UI whether it needs a login screen.
func (h *Handlers) AuthConfig(w http.ResponseWriter, r *http.Request) {
	loginRequired := false
	resetAvailable := false
	if h.auth != nil {
		loginRequired = h.auth.LoginRequired(r.Context())
		resetAvailable = h.auth.ResetAvailable()
	}
	respondJSON(w, http.StatusOK, map[string]bool{
		"login_required":  loginRequired,
		"reset_available": resetAvailable,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges admin credentials for a session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		respondError(w, http.StatusBadRequest, auth.ErrLoginDisabled.Error())
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrBadCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, "login failed")
	default:
		respondJSON(w, http.StatusOK, session)
	}
}

// AuthMe confirms the caller's token is still valid.
func (h *Handlers) AuthMe(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil && !h.auth.IsAuthenticated(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword rotates the admin password for a logged-in caller.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		respondError(w, http.StatusBadRequest, auth.ErrLoginDisabled.Error())
		return
	}
	if !h.auth.IsAuthenticated(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.auth.ChangePassword(r.Context(), req.OldPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrBadCredentials):
		respondError(w, http.StatusUnauthorized, "invalid current password")
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, "failed to change password")
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type resetPasswordRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new admin password using the out-of-band reset
// token, for when the old password is lost.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		respondError(w, http.StatusBadRequest, auth.ErrResetDisabled.Error())
		return
	}
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.auth.ResetPassword(r.Context(), req.ResetToken, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrResetDisabled):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrBadResetToken):
		respondError(w, http.StatusUnauthorized, err.Error())
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, "failed to reset password")
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

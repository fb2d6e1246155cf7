package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// Handlers serves the /auth endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates auth handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the public authentication routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/token", h.Login).Methods("POST")
	router.HandleFunc("/auth/password-reset/request", h.RequestPasswordReset).Methods("POST")
	router.HandleFunc("/auth/password-reset/confirm", h.ConfirmPasswordReset).Methods("POST")
}

// Login exchanges credentials for an access token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	msg := "Login successful"
	if resp.RequiresTwoFactor {
		msg = "2FA code required"
	}
	httputil.WriteData(w, http.StatusOK, msg, resp)
}

// RequestPasswordReset always answers 202
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	h.service.RequestPasswordReset(r.Context(), req.Email)
	httputil.WriteData(w, http.StatusAccepted, "Password reset request sent", nil)
}

// ConfirmPasswordReset sets a new password using the emailed OTP
func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirm
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Password reset successful", nil)
}

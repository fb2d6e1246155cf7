package twofactor

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// CodeRequest is the body of /2fa/enable and /2fa/verify
type CodeRequest struct {
	TOTPCode string `json:"totp_code" validate:"required"`
}

// SetupRequest is the optional body of /2fa/setup. The password is only
// checked when 2FA is already enabled.
type SetupRequest struct {
	Password string `json:"password"`
}

// DisableRequest is the body of /2fa/disable
type DisableRequest struct {
	TOTPCode string `json:"totp_code" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Handlers serves the /2fa endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates 2FA handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers /2fa on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/2fa/setup", h.Setup).Methods("POST")
	router.HandleFunc("/2fa/enable", h.Enable).Methods("POST")
	router.HandleFunc("/2fa/disable", h.Disable).Methods("POST")
	router.HandleFunc("/2fa/verify", h.Verify).Methods("POST")
	router.HandleFunc("/2fa/status", h.Status).Methods("GET")
}

// Setup returns a new secret, QR code and backup codes
func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	resp, err := h.service.Setup(r.Context(), middleware.CurrentUser(r), req.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "2FA setup initiated", resp)
}

// Enable confirms the setup
func (h *Handlers) Enable(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.Enable(r.Context(), middleware.CurrentUser(r).ID, req.TOTPCode); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "2FA enabled successfully", nil)
}

// Disable turns 2FA off
func (h *Handlers) Disable(w http.ResponseWriter, r *http.Request) {
	var req DisableRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.Disable(r.Context(), middleware.CurrentUser(r), req.Password, req.TOTPCode); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "2FA disabled successfully", nil)
}

// Verify checks a code without changing state
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.Verify(r.Context(), middleware.CurrentUser(r).ID, req.TOTPCode); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "2FA code verified", nil)
}

// Status reports the caller's 2FA state
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Status(r.Context(), middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved 2FA status", resp)
}

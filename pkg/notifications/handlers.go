package notifications

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/pagination"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Permission codes
const (
	PermCreate = "notification:create"
	PermSend   = "notification:send"
)

// Handlers serves /notifications and /push
type Handlers struct {
	service *Service
	checker *rbac.PermissionChecker
}

// NewHandlers creates notification handlers
func NewHandlers(service *Service, checker *rbac.PermissionChecker) *Handlers {
	return &Handlers{service: service, checker: checker}
}

// RegisterRoutes registers the routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.List).Methods("GET")
	router.Handle("/notifications", h.checker.Guard(h.Create, PermCreate)).Methods("POST")
	router.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods("GET")
	router.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods("PATCH")
	router.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods("PATCH")

	router.HandleFunc("/push/register", h.RegisterToken).Methods("POST")
	router.HandleFunc("/push/unregister", h.UnregisterToken).Methods("DELETE")
	router.Handle("/push/send", h.checker.Guard(h.Send, PermSend)).Methods("POST")
}

// List returns a raw cursor page of the caller's notifications
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseCursorParams(r, Columns, "created_datetime")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	unreadOnly, err := httputil.ParseQueryBool(r, "unread_only", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), middleware.CurrentUser(r).ID, unreadOnly, params)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// Create stores a notification for any user
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	n, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusCreated, "Notification created successfully", n)
}

// MarkRead marks one notification read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	n, err := h.service.MarkRead(r.Context(), id, middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Notification marked as read", n)
}

// MarkAllRead marks every notification read
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkAllRead(r.Context(), middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Notifications marked as read", map[string]int64{"updated": n})
}

// UnreadCount returns the caller's unread count
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved unread count", n)
}

// RegisterToken registers a device token for the caller
func (h *Handlers) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	t, err := h.service.RegisterToken(r.Context(), middleware.CurrentUser(r).ID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusCreated, "Push token registered successfully", t)
}

// UnregisterToken removes ?token= from the caller's devices
func (h *Handlers) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.WriteError(w, r, httputil.Unprocessable(httputil.FieldError{
			Loc:  []string{"query", "token"},
			Msg:  "Field required",
			Type: "missing",
		}))
		return
	}
	if err := h.service.RemoveToken(r.Context(), middleware.CurrentUser(r).ID, token); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Send pushes a message to devices
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ok, err := h.service.Send(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	msg := "Push notification sent"
	if !ok {
		msg = "Failed to send push notification"
	}
	httputil.WriteData(w, http.StatusOK, msg, ok)
}

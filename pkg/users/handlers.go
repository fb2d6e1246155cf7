package users

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/pagination"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Permission codes guarding the admin endpoints
const (
	PermCreate = "user:create"
	PermRead   = "user:read"
	PermList   = "user:list"
	PermUpdate = "user:update"
	PermDelete = "user:delete"
)

// Handlers provides HTTP handlers for user management
type Handlers struct {
	service *Service
	checker *rbac.PermissionChecker
}

// NewHandlers creates user handlers
func NewHandlers(service *Service, checker *rbac.PermissionChecker) *Handlers {
	return &Handlers{service: service, checker: checker}
}

// RegisterRoutes registers the admin and self-service routes on an
// authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	guard := h.checker.Guard

	router.Handle("/admin/users", guard(h.Create, PermCreate)).Methods("POST")
	router.Handle("/admin/users", guard(h.List, PermList)).Methods("GET")
	router.Handle("/admin/users/{id}", guard(h.Get, PermRead)).Methods("GET")
	router.Handle("/admin/users/{id}", guard(h.Update, PermUpdate)).Methods("PATCH")
	router.Handle("/admin/users/{id}", guard(h.Delete, PermDelete)).Methods("DELETE")
	router.Handle("/admin/users/{id}/activate", guard(h.Activate, PermUpdate)).Methods("POST")
	router.Handle("/admin/users/{id}/deactivate", guard(h.Deactivate, PermUpdate)).Methods("POST")
	router.Handle("/admin/users/{id}/roles", guard(h.AddRole, PermUpdate)).Methods("POST")
	router.Handle("/admin/users/{id}/roles/{role_id}", guard(h.RemoveRole, PermUpdate)).Methods("DELETE")
	router.Handle("/admin/users/{id}/permissions", guard(h.AddPermission, PermUpdate)).Methods("POST")
	router.Handle("/admin/users/{id}/permissions/{permission_id}", guard(h.RemovePermission, PermUpdate)).Methods("DELETE")
	router.Handle("/admin/roles/{id}/users", guard(h.UsersByRole, PermList)).Methods("GET")

	router.HandleFunc("/users/me", h.Me).Methods("GET")
	router.HandleFunc("/users/me", h.UpdateMe).Methods("PATCH")
	router.HandleFunc("/users/me/change-password", h.ChangePassword).Methods("POST")
	router.HandleFunc("/users/me/verify", h.VerifyMe).Methods("POST")
}

// writeUser responds with u plus its roles and permissions
func (h *Handlers) writeUser(w http.ResponseWriter, r *http.Request, status int, msg string, u *auth.User) {
	resp, err := h.service.Response(r.Context(), u)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, status, msg, resp)
}

// Create creates a user
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusCreated, "User created successfully", u)
}

// List returns a raw cursor page of users
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseCursorParams(r, Columns, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	includeDeleted, err := httputil.ParseQueryBool(r, "include_deleted", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), params, includeDeleted)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// Get returns one user
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	includeDeleted, err := httputil.ParseQueryBool(r, "include_deleted", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	u, err := h.service.Get(r.Context(), id, includeDeleted)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Retrieved User details", u)
}

// Update edits a user
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "User details updated successfully", u)
}

// Delete soft-deletes a user
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Activate re-enables a user
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	u, err := h.service.Activate(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "User activated successfully", u)
}

// Deactivate disables a user
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	u, err := h.service.Deactivate(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "User deactivated successfully", u)
}

// AddRole assigns a role
func (h *Handlers) AddRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req RoleAssignment
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := h.service.AddRole(r.Context(), id, req.RoleID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Role assigned successfully", u)
}

// RemoveRole revokes a role
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "role_id")
	if !ok {
		return
	}

	u, err := h.service.RemoveRole(r.Context(), id, roleID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Role removed successfully", u)
}

// AddPermission grants a permission directly
func (h *Handlers) AddPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req PermissionAssignment
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := h.service.AddPermission(r.Context(), id, req.PermissionID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Permission granted successfully", u)
}

// RemovePermission revokes a direct permission
func (h *Handlers) RemovePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathUUIDOrError(w, r, "permission_id")
	if !ok {
		return
	}

	u, err := h.service.RemovePermission(r.Context(), id, permID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Permission revoked successfully", u)
}

// UsersByRole lists the holders of a role
func (h *Handlers) UsersByRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	list, err := h.service.UsersByRole(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved users", list)
}

// Me returns the caller's profile
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, http.StatusOK, "Retrieved user profile", middleware.CurrentUser(r))
}

// UpdateMe edits the caller's names and phone number
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := h.service.Update(r.Context(), middleware.CurrentUser(r).ID, req.asUpdate())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Profile updated successfully", u)
}

// ChangePassword changes the caller's password
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u := middleware.CurrentUser(r)
	if err := h.service.ChangePassword(r.Context(), u, req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "Password changed successfully", u)
}

// VerifyMe marks the caller verified
func (h *Handlers) VerifyMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Verify(r.Context(), middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, "User verified successfully", u)
}

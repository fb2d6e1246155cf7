package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/pagination"
)

// Permission codes guarding the management endpoints
const (
	PermRoleManage       = "role:manage"
	PermPermissionManage = "permission:manage"
)

// Handlers provides HTTP handlers for role and permission management
type Handlers struct {
	service *Service
	checker *PermissionChecker
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *Service, checker *PermissionChecker) *Handlers {
	return &Handlers{service: service, checker: checker}
}

// RegisterRoutes registers the /roles and /permissions routes. router must
// already authenticate requests.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	roles := router.PathPrefix("/roles").Subrouter()
	roles.Use(h.checker.RequirePermissions(PermRoleManage))
	roles.HandleFunc("", h.CreateRole).Methods("POST")
	roles.HandleFunc("", h.ListRoles).Methods("GET")
	roles.HandleFunc("/{id}", h.GetRole).Methods("GET")
	roles.HandleFunc("/{id}", h.UpdateRole).Methods("PATCH")
	roles.HandleFunc("/{id}", h.DeleteRole).Methods("DELETE")

	perms := router.PathPrefix("/permissions").Subrouter()
	perms.Use(h.checker.RequirePermissions(PermPermissionManage))
	perms.HandleFunc("", h.CreatePermission).Methods("POST")
	perms.HandleFunc("", h.ListPermissions).Methods("GET")
	perms.HandleFunc("/{id}", h.GetPermission).Methods("GET")
	perms.HandleFunc("/{id}", h.UpdatePermission).Methods("PATCH")
	perms.HandleFunc("/{id}", h.DeletePermission).Methods("DELETE")
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleCreate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Role created successfully", role)
}

// ListRoles lists roles page by page
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseParams(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	page, err := h.service.ListRoles(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved roles", page)
}

// GetRole returns a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved role", role)
}

// UpdateRole applies a partial update
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Role updated successfully", role)
}

// DeleteRole deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreatePermission creates a permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionCreate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p, err := h.service.CreatePermission(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Permission created successfully", p)
}

// ListPermissions lists permissions page by page
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseParams(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	page, err := h.service.ListPermissions(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved permissions", page)
}

// GetPermission returns one permission
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved permission", p)
}

// UpdatePermission applies a partial update
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req PermissionUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p, err := h.service.UpdatePermission(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Permission updated successfully", p)
}

// DeletePermission deletes a permission
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

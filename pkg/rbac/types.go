package rbac

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// ErrNotFound is returned by the store when no row matches
var ErrNotFound = errors.New("not found")

// Client-facing errors
var (
	ErrRoleNotFound         = httputil.NotFound("Role not found")
	ErrPermissionNotFound   = httputil.NotFound("Permission not found")
	ErrInvalidPermissionIDs = httputil.BadRequest("Some permission IDs are invalid")
	ErrSystemRole           = httputil.Forbidden("Cannot delete a system role")
	ErrNotEnoughPermissions = httputil.Forbidden("Not enough permissions")
	ErrRoleRequired         = httputil.Forbidden("Required role not found")
)

func errRoleExists(name string) error {
	return httputil.Conflict(fmt.Sprintf("Role with name '%s' already exists", name))
}

func errPermissionExists(code string) error {
	return httputil.Conflict(fmt.Sprintf("Permission with code '%s' already exists", code))
}

// Permission is a named capability checked by RequirePermissions, e.g. "user:read"
type Permission struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Code            string    `json:"code"`
	Description     *string   `json:"description"`
	CreatedDatetime time.Time `json:"created_datetime"`
	UpdatedDatetime time.Time `json:"updated_datetime"`
}

// Role groups permissions. At most one role is the default given to new
// users; system roles cannot be deleted.
type Role struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     *string      `json:"description"`
	IsDefault       bool         `json:"is_default"`
	IsSystem        bool         `json:"is_system"`
	Permissions     []Permission `json:"permissions"`
	CreatedDatetime time.Time    `json:"created_datetime"`
	UpdatedDatetime time.Time    `json:"updated_datetime"`
}

// PermissionCreate is the body of POST /permissions
type PermissionCreate struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Code        string  `json:"code" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// PermissionUpdate is the body of PATCH /permissions/{id}; nil fields are kept
type PermissionUpdate struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Code        *string `json:"code" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// RoleCreate is the body of POST /roles
type RoleCreate struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Description   *string  `json:"description" validate:"omitempty,max=255"`
	IsDefault     bool     `json:"is_default"`
	IsSystem      bool     `json:"is_system"`
	PermissionIDs []string `json:"permission_ids" validate:"omitempty,dive,uuid"`
}

// RoleUpdate is the body of PATCH /roles/{id}. PermissionIDs replaces the
// role's permissions when present, an empty list clears them.
type RoleUpdate struct {
	Name          *string   `json:"name" validate:"omitempty,min=1,max=100"`
	Description   *string   `json:"description" validate:"omitempty,max=255"`
	IsDefault     *bool     `json:"is_default"`
	PermissionIDs *[]string `json:"permission_ids" validate:"omitempty,dive,uuid"`
}

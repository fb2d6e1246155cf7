package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/pagination"
)

// Service implements role and permission management. Every change that can
// alter an effective permission set invalidates the checker's cache.
type Service struct {
	store   *Store
	checker *PermissionChecker
}

// NewService creates the role and permission service
func NewService(store *Store, checker *PermissionChecker) *Service {
	return &Service{store: store, checker: checker}
}

// Permissions

// CreatePermission creates a permission with a unique code
func (s *Service) CreatePermission(ctx context.Context, req PermissionCreate) (*Permission, error) {
	if _, err := s.store.GetPermissionByCode(ctx, req.Code); err == nil {
		return nil, errPermissionExists(req.Code)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p := &Permission{Name: req.Name, Code: req.Code, Description: req.Description}
	if err := s.store.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPermission returns a permission or ErrPermissionNotFound
func (s *Service) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, err := s.store.GetPermission(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPermissionNotFound
	}
	return p, err
}

// UpdatePermission applies the non-nil fields of req
func (s *Service) UpdatePermission(ctx context.Context, id string, req PermissionUpdate) (*Permission, error) {
	p, err := s.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}

	codeChanged := req.Code != nil && *req.Code != p.Code
	if codeChanged {
		if _, err := s.store.GetPermissionByCode(ctx, *req.Code); err == nil {
			return nil, errPermissionExists(*req.Code)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		p.Code = *req.Code
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = req.Description
	}

	if err := s.store.UpdatePermission(ctx, p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, err
	}
	// the cache holds codes
	if codeChanged {
		s.checker.InvalidateAll()
	}
	return p, nil
}

// DeletePermission deletes a permission
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	if err := s.store.DeletePermission(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPermissionNotFound
		}
		return err
	}
	s.checker.InvalidateAll()
	return nil
}

// ListPermissions returns one offset page of permissions
func (s *Service) ListPermissions(ctx context.Context, p pagination.Params) (pagination.OffsetPage[Permission], error) {
	items, total, err := s.store.ListPermissions(ctx, p.Offset(), p.PageSize)
	if err != nil {
		return pagination.OffsetPage[Permission]{}, err
	}
	return pagination.NewOffsetPage(items, total, p), nil
}

// Roles

// CreateRole creates a role with a unique name
func (s *Service) CreateRole(ctx context.Context, req RoleCreate) (*Role, error) {
	if _, err := s.store.GetRoleByName(ctx, req.Name); err == nil {
		return nil, errRoleExists(req.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.checkPermissionIDs(ctx, req.PermissionIDs); err != nil {
		return nil, err
	}

	role := &Role{
		Name:        req.Name,
		Description: req.Description,
		IsDefault:   req.IsDefault,
		IsSystem:    req.IsSystem,
	}
	if err := s.store.CreateRole(ctx, role, req.PermissionIDs); err != nil {
		return nil, err
	}
	return s.store.GetRole(ctx, role.ID)
}

// GetRole returns a role with its permissions or ErrRoleNotFound
func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	role, err := s.store.GetRole(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRoleNotFound
	}
	return role, err
}

// GetRoleByName returns a role or ErrRoleNotFound
func (s *Service) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := s.store.GetRoleByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRoleNotFound
	}
	return role, err
}

// UpdateRole applies the non-nil fields of req
func (s *Service) UpdateRole(ctx context.Context, id string, req RoleUpdate) (*Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != role.Name {
		if _, err := s.store.GetRoleByName(ctx, *req.Name); err == nil {
			return nil, errRoleExists(*req.Name)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = req.Description
	}
	if req.IsDefault != nil {
		role.IsDefault = *req.IsDefault
	}
	if req.PermissionIDs != nil {
		if err := s.checkPermissionIDs(ctx, *req.PermissionIDs); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateRole(ctx, role, req.PermissionIDs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	if req.PermissionIDs != nil {
		s.checker.InvalidateAll()
	}
	return s.store.GetRole(ctx, role.ID)
}

// DeleteRole deletes a non-system role
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	if err := s.store.DeleteRole(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	s.checker.InvalidateAll()
	return nil
}

// ListRoles returns one offset page of roles
func (s *Service) ListRoles(ctx context.Context, p pagination.Params) (pagination.OffsetPage[Role], error) {
	items, total, err := s.store.ListRoles(ctx, p.Offset(), p.PageSize)
	if err != nil {
		return pagination.OffsetPage[Role]{}, err
	}
	return pagination.NewOffsetPage(items, total, p), nil
}

// checkPermissionIDs fails unless every ID names an existing permission
func (s *Service) checkPermissionIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}

	found, err := s.store.GetPermissionsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to check permission IDs: %w", err)
	}
	if len(found) != len(unique) {
		return ErrInvalidPermissionIDs
	}
	return nil
}

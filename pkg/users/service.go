package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/pagination"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// AdminRole is the seeded role given to the bootstrap admin
const AdminRole = "admin"

// Service implements user management
type Service struct {
	store   *Store
	roles   *rbac.Store
	checker *rbac.PermissionChecker
	hasher  *auth.Hasher
}

// NewService creates the user service
func NewService(store *Store, roles *rbac.Store, checker *rbac.PermissionChecker, hasher *auth.Hasher) *Service {
	return &Service{store: store, roles: roles, checker: checker, hasher: hasher}
}

// Create registers a user and gives them the default role, if one exists
func (s *Service) Create(ctx context.Context, req CreateRequest) (*auth.User, error) {
	if _, err := s.store.GetByEmail(ctx, req.Email); err == nil {
		return nil, errEmailTaken(req.Email)
	} else if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	u := &auth.User{
		Email:      req.Email,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		IsActive:   true,
	}

	if req.PhoneNumber != nil && *req.PhoneNumber != "" {
		phone, err := s.uniquePhone(ctx, *req.PhoneNumber, "")
		if err != nil {
			return nil, err
		}
		u.PhoneNumber = &phone
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash

	defaultRole, err := s.roles.GetDefaultRole(ctx)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		return nil, err
	}

	err = postgres.WithTx(ctx, s.store.DB(), func(tx *sql.Tx) error {
		if err := s.store.Insert(ctx, tx, u); err != nil {
			return err
		}
		if defaultRole != nil {
			return s.roles.AssignRole(ctx, tx, u.ID, defaultRole.ID)
		}
		return nil
	})
	if err != nil {
		// lost a race with a concurrent create
		if postgres.IsUniqueViolation(err) {
			if strings.Contains(postgres.ConstraintName(err), "phone") && u.PhoneNumber != nil {
				return nil, errPhoneTaken(*u.PhoneNumber)
			}
			return nil, errEmailTaken(req.Email)
		}
		return nil, err
	}
	return u, nil
}

// uniquePhone normalizes raw and checks that no user other than selfID has it
func (s *Service) uniquePhone(ctx context.Context, raw, selfID string) (string, error) {
	phone, err := NormalizePhone(raw)
	if err != nil {
		return "", err
	}
	other, err := s.store.GetByPhone(ctx, phone)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return phone, nil
	case err != nil:
		return "", err
	case other.ID != selfID:
		return "", errPhoneTaken(phone)
	}
	return phone, nil
}

// Get returns a user or a 404 error
func (s *Service) Get(ctx context.Context, id string, includeDeleted bool) (*auth.User, error) {
	u, err := s.store.GetByID(ctx, id, includeDeleted)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, errUserNotFound(id)
	}
	return u, err
}

// Response attaches roles and direct permissions to u
func (s *Service) Response(ctx context.Context, u *auth.User) (*UserResponse, error) {
	out, err := s.Responses(ctx, []auth.User{*u})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// Responses attaches roles and direct permissions to every user with two queries
func (s *Service) Responses(ctx context.Context, users []auth.User) ([]UserResponse, error) {
	ids := make([]string, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}

	roles, err := s.roles.RolesByUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.DirectPermissionsByUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]UserResponse, len(users))
	for i := range users {
		r := roles[users[i].ID]
		if r == nil {
			r = []rbac.Role{}
		}
		p := perms[users[i].ID]
		if p == nil {
			p = []rbac.Permission{}
		}
		out[i] = UserResponse{User: &users[i], Roles: r, Permissions: p}
	}
	return out, nil
}

// List returns one cursor page of users
func (s *Service) List(ctx context.Context, p pagination.CursorParams, includeDeleted bool) (pagination.Page[UserResponse], error) {
	rows, err := s.store.List(ctx, p, includeDeleted)
	if err != nil {
		return pagination.Page[UserResponse]{}, err
	}
	items, err := s.Responses(ctx, rows)
	if err != nil {
		return pagination.Page[UserResponse]{}, err
	}
	return pagination.NewPage(items, p, cursorKey(p.OrderBy)), nil
}

func cursorKey(orderBy string) pagination.KeyFunc[UserResponse] {
	return func(u UserResponse) (interface{}, string) {
		switch orderBy {
		case "email":
			return u.Email, u.ID
		case "created_datetime":
			return pagination.TimeValue(u.CreatedDatetime), u.ID
		case "updated_datetime":
			return pagination.TimeValue(u.UpdatedDatetime), u.ID
		case "first_name":
			return u.FirstName, u.ID
		case "last_name":
			return u.LastName, u.ID
		default:
			return u.ID, u.ID
		}
	}
}

// Update applies the non-nil fields of req
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*auth.User, error) {
	u, err := s.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if req.PhoneNumber != nil {
		if *req.PhoneNumber == "" {
			u.PhoneNumber = nil
		} else {
			phone, err := s.uniquePhone(ctx, *req.PhoneNumber, u.ID)
			if err != nil {
				return nil, err
			}
			u.PhoneNumber = &phone
		}
	}
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.MiddleName != nil {
		u.MiddleName = req.MiddleName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsVerified != nil {
		u.IsVerified = *req.IsVerified
	}

	if err := s.store.Update(ctx, u); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, errUserNotFound(id)
		}
		if postgres.IsUniqueViolation(err) && u.PhoneNumber != nil {
			return nil, errPhoneTaken(*u.PhoneNumber)
		}
		return nil, err
	}
	return u, nil
}

// Delete soft-deletes a user
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return errUserNotFound(id)
		}
		return err
	}
	s.checker.InvalidateUser(id)
	return nil
}

// ChangePassword replaces the password after checking the current one
func (s *Service) ChangePassword(ctx context.Context, u *auth.User, req ChangePasswordRequest) error {
	if !s.hasher.Verify(req.CurrentPassword, u.PasswordHash) {
		return ErrWrongPassword
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// Verify marks the user verified
func (s *Service) Verify(ctx context.Context, id string) (*auth.User, error) {
	t := true
	return s.Update(ctx, id, UpdateRequest{IsVerified: &t})
}

// Activate re-enables login
func (s *Service) Activate(ctx context.Context, id string) (*auth.User, error) {
	t := true
	return s.Update(ctx, id, UpdateRequest{IsActive: &t})
}

// Deactivate blocks login without deleting
func (s *Service) Deactivate(ctx context.Context, id string) (*auth.User, error) {
	f := false
	return s.Update(ctx, id, UpdateRequest{IsActive: &f})
}

// AddRole assigns a role; assigning a held role is a no-op
func (s *Service) AddRole(ctx context.Context, userID, roleID string) (*auth.User, error) {
	u, err := s.Get(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.roleExists(ctx, roleID); err != nil {
		return nil, err
	}
	if err := s.roles.AssignRole(ctx, s.roles.DB(), userID, roleID); err != nil {
		return nil, err
	}
	s.checker.InvalidateUser(userID)
	return u, nil
}

// RemoveRole revokes a role; revoking a role not held is a no-op
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) (*auth.User, error) {
	u, err := s.Get(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := s.roles.RevokeRole(ctx, userID, roleID); err != nil {
		return nil, err
	}
	s.checker.InvalidateUser(userID)
	return u, nil
}

// AddPermission grants a permission directly
func (s *Service) AddPermission(ctx context.Context, userID, permissionID string) (*auth.User, error) {
	u, err := s.Get(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.roles.GetPermission(ctx, permissionID); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return nil, rbac.ErrPermissionNotFound
		}
		return nil, err
	}
	if err := s.roles.GrantPermission(ctx, userID, permissionID); err != nil {
		return nil, err
	}
	s.checker.InvalidateUser(userID)
	return u, nil
}

// RemovePermission revokes a directly granted permission
func (s *Service) RemovePermission(ctx context.Context, userID, permissionID string) (*auth.User, error) {
	u, err := s.Get(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := s.roles.RevokePermission(ctx, userID, permissionID); err != nil {
		return nil, err
	}
	s.checker.InvalidateUser(userID)
	return u, nil
}

// UsersByRole lists the users holding a role
func (s *Service) UsersByRole(ctx context.Context, roleID string) ([]UserResponse, error) {
	if _, err := s.roleExists(ctx, roleID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return s.Responses(ctx, list)
}

func (s *Service) roleExists(ctx context.Context, roleID string) (*rbac.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, rbac.ErrRoleNotFound
	}
	return role, err
}

// EnsureAdmin creates the bootstrap admin when configured and makes sure it
// holds the admin role. An existing account keeps its password.
func (s *Service) EnsureAdmin(ctx context.Context, cfg config.SeedConfig, logger *observability.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}

	role, err := s.roles.GetRoleByName(ctx, AdminRole)
	if err != nil {
		return fmt.Errorf("failed to find %s role: %w", AdminRole, err)
	}

	u, err := s.store.GetByEmail(ctx, cfg.AdminEmail)
	if errors.Is(err, auth.ErrUserNotFound) {
		u, err = s.Create(ctx, CreateRequest{
			Email:     cfg.AdminEmail,
			Password:  cfg.AdminPassword,
			FirstName: cfg.AdminFirstName,
			LastName:  cfg.AdminLastName,
		})
		if err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		logger.WithField("email", cfg.AdminEmail).Info("Created admin user")
	} else if err != nil {
		return err
	}

	if err := s.roles.AssignRole(ctx, s.roles.DB(), u.ID, role.ID); err != nil {
		return err
	}
	s.checker.InvalidateUser(u.ID)
	return nil
}

package users

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Phone numbers are stored as "+" followed by 10 to 15 digits
const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

var (
	// ErrWrongPassword is returned by ChangePassword
	ErrWrongPassword = httputil.Unprocessable(httputil.FieldError{
		Loc:  []string{"body", "current_password"},
		Msg:  "Current password is incorrect",
		Type: "value_error",
	})
	ErrInvalidPhone = httputil.Unprocessable(httputil.FieldError{
		Loc:  []string{"body", "phone_number"},
		Msg:  "Phone number must be between 10 and 15 digits",
		Type: "value_error",
	})
)

func errUserNotFound(id string) error {
	return httputil.NotFound(fmt.Sprintf("User with id %s not found", id))
}

func errEmailTaken(email string) error {
	return httputil.Conflict(fmt.Sprintf("Email %s is already taken", email))
}

func errPhoneTaken(phone string) error {
	return httputil.Conflict(fmt.Sprintf("Phone number %s is already taken", phone))
}

// NormalizePhone keeps only the digits of raw and prefixes "+". It fails
// unless 10 to 15 digits remain.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.Len() - 1
	if n < minPhoneDigits || n > maxPhoneDigits {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}

// UserResponse is a user with their roles and directly granted permissions
type UserResponse struct {
	*auth.User
	Roles       []rbac.Role       `json:"roles"`
	Permissions []rbac.Permission `json:"permissions"`
}

// CreateRequest is the body of POST /admin/users
type CreateRequest struct {
	Email       string  `json:"email" validate:"required,email,max=255"`
	Password    string  `json:"password" validate:"required,min=8"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	FirstName   string  `json:"first_name" validate:"required,max=100"`
	MiddleName  *string `json:"middle_name" validate:"omitempty,max=100"`
	LastName    string  `json:"last_name" validate:"required,max=100"`
}

// UpdateRequest is the body of PATCH /admin/users/{id}. Nil fields are left alone.
type UpdateRequest struct {
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	FirstName   *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	MiddleName  *string `json:"middle_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	IsActive    *bool   `json:"is_active"`
	IsVerified  *bool   `json:"is_verified"`
}

// ProfileUpdate is the body of PATCH /users/me
type ProfileUpdate struct {
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	FirstName   *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	MiddleName  *string `json:"middle_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,min=1,max=100"`
}

// asUpdate converts a self-service edit; status flags stay unset
func (p ProfileUpdate) asUpdate() UpdateRequest {
	return UpdateRequest{
		PhoneNumber: p.PhoneNumber,
		FirstName:   p.FirstName,
		MiddleName:  p.MiddleName,
		LastName:    p.LastName,
	}
}

// ChangePasswordRequest is the body of POST /users/me/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// RoleAssignment is the body of POST /admin/users/{id}/roles
type RoleAssignment struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}

// PermissionAssignment is the body of POST /admin/users/{id}/permissions
type PermissionAssignment struct {
	PermissionID string `json:"permission_id" validate:"required,uuid"`
}

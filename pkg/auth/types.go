package auth

import (
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned by user lookups that match no row
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens
	ErrInvalidToken = errors.New("invalid token")
)

// User is an account. PasswordHash never leaves the process.
type User struct {
	ID                string     `json:"id"`
	PublicID          string     `json:"public_id"`
	Email             string     `json:"email"`
	PhoneNumber       *string    `json:"phone_number"`
	PasswordHash      string     `json:"-"`
	FirstName         string     `json:"first_name"`
	MiddleName        *string    `json:"middle_name"`
	LastName          string     `json:"last_name"`
	IsActive          bool       `json:"is_active"`
	IsVerified        bool       `json:"is_verified"`
	LastLoginDatetime *time.Time `json:"last_login_datetime"`
	CreatedDatetime   time.Time  `json:"created_datetime"`
	UpdatedDatetime   time.Time  `json:"updated_datetime"`
	DeletedDatetime   *time.Time `json:"deleted_datetime"`
}

// IsDeleted reports whether the user was soft deleted
func (u *User) IsDeleted() bool {
	return u.DeletedDatetime != nil
}

// AuthContext holds the authenticated user of a request
type AuthContext struct {
	User *User
}

// UserID returns the authenticated user's ID, or "" for a nil context
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.User == nil {
		return ""
	}
	return ac.User.ID
}

// LoginRequest is the body of POST /auth/token
type LoginRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required"`
	TOTPCode *string `json:"totp_code"`
}

// LoginResponse carries the access token. When RequiresTwoFactor is set the
// token is empty and the client must repeat the login with a TOTP code.
type LoginResponse struct {
	AccessToken       string `json:"access_token"`
	TokenType         string `json:"token_type"`
	RequiresTwoFactor bool   `json:"requires_2fa"`
}

// PasswordResetRequest is the body of POST /auth/password-reset/request
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordResetConfirm is the body of POST /auth/password-reset/confirm
type PasswordResetConfirm struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,len=6"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

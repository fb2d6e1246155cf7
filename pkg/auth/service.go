package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Messages returned to clients
var (
	ErrInvalidCredentials = httputil.Unauthorized("Invalid email or password")
	ErrInvalidTOTP        = httputil.Unauthorized("Invalid TOTP code")
	ErrInvalidOTP         = httputil.BadRequest("Invalid or expired OTP")
	ErrInvalidEmail       = httputil.BadRequest("Invalid email")
)

// UserStore is the slice of the user repository the auth flows need
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	TouchLastLogin(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SecondFactor checks TOTP or backup codes for users with 2FA enabled.
// Check consumes a matching backup code.
type SecondFactor interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Check(ctx context.Context, userID, code string) (bool, error)
}

// Mailer delivers password reset codes
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, otp string, ttl time.Duration) error
}

// Dispatcher runs background tasks; *async.WorkerPool satisfies it
type Dispatcher interface {
	Submit(name string, fn async.Task) error
}

// ServiceDeps are the collaborators of Service
type ServiceDeps struct {
	Users        UserStore
	SecondFactor SecondFactor
	OTPs         *OTPStore
	Hasher       *Hasher
	Tokens       *TokenManager
	Mailer       Mailer
	Dispatcher   Dispatcher
	Metrics      *observability.Metrics
	Logger       *observability.Logger
	ResetTTL     time.Duration
}

// Service implements login and password reset
type Service struct {
	ServiceDeps
}

// NewService creates the auth service
func NewService(deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	return &Service{ServiceDeps: deps}
}

// Login checks the credentials and, for users with 2FA enabled, the TOTP or
// backup code. Without a code such users get RequiresTwoFactor and no token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		s.Metrics.RecordLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.IsDeleted() || !s.Hasher.Verify(req.Password, user.PasswordHash) {
		s.Metrics.RecordLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	enabled, err := s.SecondFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read 2FA state: %w", err)
	}
	if enabled {
		if req.TOTPCode == nil || *req.TOTPCode == "" {
			s.Metrics.RecordLogin("2fa_required")
			return &LoginResponse{TokenType: "bearer", RequiresTwoFactor: true}, nil
		}
		ok, err := s.SecondFactor.Check(ctx, user.ID, *req.TOTPCode)
		if err != nil {
			return nil, fmt.Errorf("failed to verify 2FA code: %w", err)
		}
		if !ok {
			s.Metrics.RecordLogin("invalid_totp")
			return nil, ErrInvalidTOTP
		}
	}

	token, err := s.Tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.Users.TouchLastLogin(ctx, user.ID); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("user_id", user.ID).Warn("Failed to update last login")
	}

	s.Metrics.RecordLogin("success")
	return &LoginResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// RequestPasswordReset queues the OTP mail and returns at once. Whether the
// email belongs to an account is never revealed.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) {
	err := s.Dispatcher.Submit("password-reset", func(ctx context.Context) error {
		return s.sendResetCode(ctx, email)
	})
	if err != nil {
		s.Metrics.RecordPasswordReset("request", "dropped")
		observability.FromContext(ctx).WithError(err).Warn("Password reset request dropped")
	}
}

func (s *Service) sendResetCode(ctx context.Context, email string) error {
	user, err := s.Users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) || (err == nil && user.IsDeleted()) {
		s.Metrics.RecordPasswordReset("request", "unknown_email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	otp, err := GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.OTPs.Save(ctx, email, otp); err != nil {
		return err
	}
	if err := s.Mailer.SendPasswordReset(ctx, email, otp, s.ResetTTL); err != nil {
		s.Metrics.RecordPasswordReset("request", "failure")
		return fmt.Errorf("failed to send password reset email: %w", err)
	}

	s.Metrics.RecordPasswordReset("request", "success")
	return nil
}

// ResetPassword replaces the password when otp matches the stored code
func (s *Service) ResetPassword(ctx context.Context, req PasswordResetConfirm) error {
	ok, err := s.OTPs.Consume(ctx, req.Email, req.OTP)
	if err != nil {
		return err
	}
	if !ok {
		s.Metrics.RecordPasswordReset("confirm", "invalid_otp")
		return ErrInvalidOTP
	}

	user, err := s.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidEmail
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := s.Hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.Metrics.RecordPasswordReset("confirm", "success")
	observability.FromContext(ctx).WithField("user_id", user.ID).Info("Password reset")
	return nil
}

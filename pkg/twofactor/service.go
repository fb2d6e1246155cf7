package twofactor

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

const (
	backupCodeCount = 10
	qrSize          = 256
	period          = 30
)

// Client-facing errors
var (
	ErrNotSetUp        = httputil.BadRequest("2FA not set up")
	ErrNotEnabled      = httputil.BadRequest("2FA not enabled")
	ErrInvalidCode     = httputil.BadRequest("Invalid TOTP code")
	ErrInvalidPassword = httputil.Unauthorized("Invalid password")
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// SetupResponse is returned once by POST /2fa/setup
type SetupResponse struct {
	SecretKey   string   `json:"secret_key"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// StatusResponse is returned by GET /2fa/status
type StatusResponse struct {
	IsEnabled            bool       `json:"is_enabled"`
	CreatedDatetime      *time.Time `json:"created_datetime"`
	LastUsedDatetime     *time.Time `json:"last_used_datetime"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}

// Service manages TOTP two-factor authentication. It implements
// auth.SecondFactor.
type Service struct {
	store   *Store
	hasher  *auth.Hasher
	issuer  string
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates the 2FA service. issuer is shown by authenticator apps.
func NewService(store *Store, hasher *auth.Hasher, issuer string, metrics *observability.Metrics) *Service {
	return &Service{store: store, hasher: hasher, issuer: issuer, metrics: metrics, now: time.Now}
}

// Setup generates a new secret and backup codes. 2FA stays disabled until
// Enable confirms a code from the new secret. Replacing a setup that is
// already enabled turns 2FA off, so it needs the account password.
func (s *Service) Setup(ctx context.Context, user *auth.User, password string) (*SetupResponse, error) {
	existing, err := s.store.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsEnabled && !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordTwoFactor("setup", "failure")
		return nil, ErrInvalidPassword
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	qr, err := qrDataURI(key)
	if err != nil {
		return nil, err
	}

	rec := &Record{UserID: user.ID, SecretKey: key.Secret(), BackupCodes: codes}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	s.metrics.RecordTwoFactor("setup", "success")
	return &SetupResponse{SecretKey: key.Secret(), QRCode: qr, BackupCodes: codes}, nil
}

// Enable turns 2FA on after checking a TOTP code
func (s *Service) Enable(ctx context.Context, userID, code string) error {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotSetUp
	}
	if err != nil {
		return err
	}

	if !s.validTOTP(rec.SecretKey, code) {
		s.metrics.RecordTwoFactor("enable", "failure")
		return ErrInvalidCode
	}
	if err := s.store.SetEnabled(ctx, userID, true); err != nil {
		return err
	}
	s.metrics.RecordTwoFactor("enable", "success")
	return nil
}

// Disable turns 2FA off. It needs the password and a TOTP or backup code.
func (s *Service) Disable(ctx context.Context, user *auth.User, password, code string) error {
	rec, err := s.enabledRecord(ctx, user.ID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordTwoFactor("disable", "failure")
		return ErrInvalidPassword
	}

	ok, err := s.check(ctx, rec, code)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordTwoFactor("disable", "failure")
		return ErrInvalidCode
	}

	if err := s.store.SetEnabled(ctx, user.ID, false); err != nil {
		return err
	}
	s.metrics.RecordTwoFactor("disable", "success")
	return nil
}

// Verify checks a TOTP or backup code of a user with 2FA enabled
func (s *Service) Verify(ctx context.Context, userID, code string) error {
	rec, err := s.enabledRecord(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.check(ctx, rec, code)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordTwoFactor("verify", "failure")
		return ErrInvalidCode
	}
	s.metrics.RecordTwoFactor("verify", "success")
	return nil
}

// Status reports whether 2FA is on and how many backup codes are left
func (s *Service) Status(ctx context.Context, userID string) (*StatusResponse, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &StatusResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	created := rec.CreatedDatetime
	return &StatusResponse{
		IsEnabled:            rec.IsEnabled,
		CreatedDatetime:      &created,
		LastUsedDatetime:     rec.LastUsedDatetime,
		RemainingBackupCodes: len(rec.BackupCodes),
	}, nil
}

// IsEnabled implements auth.SecondFactor
func (s *Service) IsEnabled(ctx context.Context, userID string) (bool, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.IsEnabled, nil
}

// Check implements auth.SecondFactor. A matching backup code is consumed.
func (s *Service) Check(ctx context.Context, userID, code string) (bool, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.IsEnabled {
		return false, nil
	}
	ok, err := s.check(ctx, rec, code)
	if err == nil {
		s.metrics.RecordTwoFactor("login", resultLabel(ok))
	}
	return ok, err
}

func (s *Service) enabledRecord(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !rec.IsEnabled {
		return nil, ErrNotEnabled
	}
	return rec, nil
}

// check accepts a current TOTP code or an unused backup code
func (s *Service) check(ctx context.Context, rec *Record, code string) (bool, error) {
	if s.validTOTP(rec.SecretKey, code) {
		return true, s.store.TouchLastUsed(ctx, rec.UserID)
	}
	return s.store.ConsumeBackupCode(ctx, rec.UserID, code)
}

func (s *Service) validTOTP(secret, code string) bool {
	// malformed codes come back as errors; they are simply wrong
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), validateOpts)
	return err == nil && ok
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// generateBackupCodes returns n random 8 character base32 codes
func generateBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	buf := make([]byte, 5)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = base32.StdEncoding.EncodeToString(buf)
	}
	return codes, nil
}

func qrDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

const otpKeyPrefix = "password_reset:"

// GenerateOTP returns a zero padded 6 digit code
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// OTPStore keeps password reset codes in Redis under password_reset:<email>
type OTPStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOTPStore creates an OTP store; codes expire after ttl
func NewOTPStore(client *redis.Client, ttl time.Duration) *OTPStore {
	return &OTPStore{client: client, ttl: ttl}
}

// Save stores the code for email, replacing any earlier one
func (s *OTPStore) Save(ctx context.Context, email, otp string) error {
	if err := s.client.Set(ctx, otpKeyPrefix+email, otp, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache OTP: %w", err)
	}
	return nil
}

// Consume reports whether otp matches the stored code. A match deletes the
// key so each code works once.
func (s *OTPStore) Consume(ctx context.Context, email, otp string) (bool, error) {
	key := otpKeyPrefix + email

	stored, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read OTP: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(otp)) != 1 {
		return false, nil
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("failed to delete OTP: %w", err)
	}
	return true, nil
}

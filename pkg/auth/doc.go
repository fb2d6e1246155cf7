// Package auth handles password login, access tokens and password reset.
//
// # Overview
//
// Users log in at POST /auth/token with email and password. The response
// carries a JWT access token (subject = user ID, HS256/384/512, default
// lifetime 15 minutes) used as a Bearer token by pkg/middleware. Users with
// two-factor authentication enabled must also send totp_code; without it the
// response has requires_2fa set and an empty token.
//
//	tokens, _ := auth.NewTokenManager(cfg.Auth.JWTSecret, "HS256", 15*time.Minute)
//	svc := auth.NewService(auth.ServiceDeps{
//		Users:        userStore,
//		SecondFactor: twoFactorService,
//		OTPs:         auth.NewOTPStore(redisClient, 10*time.Minute),
//		Hasher:       auth.NewHasher(bcrypt.DefaultCost),
//		Tokens:       tokens,
//		Mailer:       mailer,
//		Dispatcher:   pool,
//	})
//
// # Password reset
//
// POST /auth/password-reset/request always answers 202. The lookup, the
// 6 digit OTP (stored in Redis at password_reset:<email>) and the email are
// handled by a background worker, so response timing does not reveal whether
// an account exists. POST /auth/password-reset/confirm consumes the OTP once.
//
// # Errors
//
//	401 Invalid email or password
//	401 Invalid TOTP code
//	400 Invalid or expired OTP
//	400 Invalid email
package auth

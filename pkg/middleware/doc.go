// Package middleware provides HTTP middleware for authentication and rate
// limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, userStore)
//	protected := router.NewRoute().Subrouter()
//	protected.Use(authMW.Handler)
//
// Missing, malformed, expired or unknown tokens get 401 "Could not validate
// credentials" with WWW-Authenticate: Bearer; deactivated users get 403
// "Inactive user". Handlers read the caller with CurrentUser(r).
//
// RateLimiter: Redis fixed-window limit per client IP, shared across
// instances. Mounted on the unauthenticated /auth routes.
//
//	limiter := middleware.NewRateLimiter(redisClient, 20, time.Minute, "ratelimit:auth")
//	authRoutes.Use(limiter.Handler)
//
// Redis errors fail open unless SetFailOpen(false) is called. The client IP
// is the connection address; X-Forwarded-For and X-Real-IP are only read when
// the peer is listed through SetTrustedProxies.
//
// # Related Packages
//
//   - pkg/auth: token parsing
//   - pkg/rbac: permission and role guards layered on top of AuthMiddleware
package middleware

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// ErrCredentials is the 401 for any missing, malformed or unknown token
var ErrCredentials = &httputil.Error{
	Status:  http.StatusUnauthorized,
	Message: "Could not validate credentials",
	Headers: map[string]string{"WWW-Authenticate": "Bearer"},
}

// ErrInactiveUser is returned for authenticated but deactivated accounts
var ErrInactiveUser = httputil.Forbidden("Inactive user")

// TokenParser returns the user ID carried by an access token
type TokenParser interface {
	Parse(token string) (string, error)
}

// UserLoader loads the user a token refers to
type UserLoader interface {
	GetByID(ctx context.Context, id string, includeDeleted bool) (*auth.User, error)
}

// AuthMiddleware authenticates Bearer tokens
type AuthMiddleware struct {
	tokens TokenParser
	users  UserLoader
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenParser, users UserLoader) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handler rejects requests without a valid token for an active user and
// stores the AuthContext for the rest of the chain.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticate(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user})
		ctx = contextkeys.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*auth.User, error) {
	// Format: "Bearer <token>"
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, ErrCredentials
	}

	userID, err := m.tokens.Parse(parts[1])
	if err != nil {
		return nil, ErrCredentials
	}

	user, err := m.users.GetByID(r.Context(), userID, false)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, ErrCredentials
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to load token user")
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// CurrentUser returns the authenticated user, or nil outside AuthMiddleware
func CurrentUser(r *http.Request) *auth.User {
	if authCtx := GetAuthContext(r); authCtx != nil {
		return authCtx.User
	}
	return nil
}

// WithUser returns a copy of r authenticated as user; handler tests use it
// in place of the full middleware.
func WithUser(r *http.Request, user *auth.User) *http.Request {
	ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user})
	return r.WithContext(contextkeys.WithUserID(ctx, user.ID))
}

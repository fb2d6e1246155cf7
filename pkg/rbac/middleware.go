package rbac

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// RequirePermissions creates middleware that requires every one of codes.
// It must run after middleware.AuthMiddleware.
func (pc *PermissionChecker) RequirePermissions(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := middleware.CurrentUser(r)
			if user == nil {
				httputil.WriteError(w, r, middleware.ErrCredentials)
				return
			}

			ok, err := pc.HasPermissions(r.Context(), user.ID, codes...)
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			if !ok {
				httputil.WriteError(w, r, ErrNotEnoughPermissions)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles creates middleware that requires any one of names
func (pc *PermissionChecker) RequireRoles(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := middleware.CurrentUser(r)
			if user == nil {
				httputil.WriteError(w, r, middleware.ErrCredentials)
				return
			}

			ok, err := pc.HasAnyRole(r.Context(), user.ID, names...)
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			if !ok {
				httputil.WriteError(w, r, ErrRoleRequired)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Guard wraps a single handler with RequirePermissions
func (pc *PermissionChecker) Guard(h http.HandlerFunc, codes ...string) http.Handler {
	return pc.RequirePermissions(codes...)(h)
}

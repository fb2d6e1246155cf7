// Package rbac provides role-based access control.
//
// # Overview
//
// Permissions are named capabilities identified by a code such as
// "user:read". Roles group permissions. A user's effective permissions are
// the union of the permissions of every role they hold and the permissions
// granted to them directly.
//
// One role may be flagged as the default; pkg/users assigns it to every new
// account. Setting the flag on a role clears it on the previous default in
// the same transaction. System roles (the seeded "admin" and "user") cannot
// be deleted.
//
// # Checking permissions
//
// PermissionChecker caches each user's permission codes in an expiring LRU.
// The service invalidates one user when their assignments change and the
// whole cache when a role's permission set changes or a role or permission
// is deleted.
//
//	checker := rbac.NewPermissionChecker(store, 10000, time.Minute, metrics)
//	router.Handle("/admin/users", checker.Guard(h.ListUsers, "user:list"))
//
// RequirePermissions needs every listed code. RequireRoles needs any one of
// the listed roles. Both answer 401 when no user is in the request context
// and 403 otherwise.
//
// # Seeding
//
// At startup ApplySeed creates the permissions and roles of a YAML document
// (the embedded default_seed.yaml unless WARDEN_SEED_FILE is set). A role
// listing "*" receives every seeded permission. Existing rows are never
// removed, so seeding is safe to repeat.
//
// # Endpoints
//
//	POST/GET           /roles               role:manage
//	GET/PATCH/DELETE   /roles/{id}          role:manage
//	POST/GET           /permissions         permission:manage
//	GET/PATCH/DELETE   /permissions/{id}    permission:manage
//
// Lists take page and page_size query parameters.
package rbac

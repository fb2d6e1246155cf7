// Package users manages accounts: admin CRUD under /admin/users and
// self-service under /users/me.
//
// Users are soft deleted. A deleted user keeps its row (and email) until
// the maintenance job purges it, cannot log in and is hidden from lists
// unless include_deleted=true is passed.
//
// Phone numbers are normalized to "+" and 10 to 15 digits. Every new user
// receives the current default role. Responses carry the user's roles and
// directly granted permissions; GET /admin/users is cursor paginated and
// returns the raw page without the response envelope.
//
// Store satisfies auth.UserStore and middleware.UserLoader.
package users

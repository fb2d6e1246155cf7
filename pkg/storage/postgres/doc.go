// Package postgres opens the PostgreSQL and Redis connections, owns the
// versioned schema migrations and classifies driver errors.
package postgres

package database

import (
	"net/http"
)

// WithScopeContext creates middleware that attaches the pool as the request's
// database scope so repositories can run outside a transaction.
func WithScopeContext(db *DB) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r.WithContext(db.WithScope(r.Context())))
		}
	}
}

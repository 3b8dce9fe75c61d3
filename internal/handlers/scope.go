package handlers

import (
	"database/sql"
	"net/http"

	"github.com/expense-tracker/apiserver/internal/store"
)

// DBScope reserves one database connection per request and releases it
// when the handler returns, including on panic.
func DBScope(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, release, err := store.Acquire(r.Context(), db)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			defer release()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

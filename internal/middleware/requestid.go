// Package middleware carries the HTTP cross-cutting concerns of the
// query service: request identification and per-client rate limiting.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

type ridKey struct{}

// requestIDHeader is shared with clients: the facade reuses the id as
// the default query id, so a caller can pass its own and later cancel
// or correlate by it.
const requestIDHeader = "X-Request-ID"

// inbound ids are only trusted when they cannot forge log lines or
// headers. Anything else is replaced with a fresh UUID.
var ridPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// RequestID assigns every request an identifier, echoes it on the
// response, and stores it in the request context for the handlers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !ridPattern.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ridKey{}, id)))
	})
}

// RequestIDFromContext returns the id RequestID stored, or "" when the
// middleware did not run.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ridKey{}).(string)
	return id
}

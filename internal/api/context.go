package api

import (
	"context"
	"net/http"
)

// ClientHeader carries the client instance id. Updates record it so a
// client can recognise its own edits in the log.
const ClientHeader = "X-Looper-Client"

// clientIDContextKey is the context key for the requesting client's id.
type clientIDContextKey struct{}

// WithClientID returns a new context with the client id attached.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDContextKey{}, id)
}

// ClientIDFromContext extracts the client id from the context.
// Returns "" if not present.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey{}).(string)
	return id
}

// ClientIDMiddleware copies the ClientHeader value into the request context.
func ClientIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(ClientHeader); id != "" {
			r = r.WithContext(WithClientID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

type contextKey string

const (
	userIDContextKey      contextKey = "user_id"
	syncEventIDContextKey contextKey = "sync_event_id"
)

// ContextWithUserID returns a derived context containing the authenticated user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the authenticated user id from context if available.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithSyncEventID injects the sync event identifier resolved from the request path.
func ContextWithSyncEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, syncEventIDContextKey, id)
}

// SyncEventIDFromContext extracts a sync event identifier previously associated with the context.
func SyncEventIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(syncEventIDContextKey).(string)
	return id, ok && strings.TrimSpace(id) != ""
}

// withSyncEventID adapts handlers that read the :id path parameter.
func withSyncEventID(next http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := ContextWithSyncEventID(r.Context(), ps.ByName("id"))
		next(w, r.WithContext(ctx))
	}
}

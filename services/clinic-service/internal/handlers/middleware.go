package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/eceaydogan/dentaplan/libs/auth"
	"github.com/eceaydogan/dentaplan/libs/httpx"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/model"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
)

type ctxKey int

const identityKey ctxKey = iota

// WithAuth verifies the Bearer token and stores the caller's identity in
// the request context. Requests without a valid token are rejected; the
// Stripe webhook mounts outside this middleware because its signature
// check is the auth.
func WithAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			id := scheduler.Identity{Role: claims.Role}
			if claims.Role != model.RoleStaff {
				id.PatientID = claims.Sub
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFrom(r *http.Request) (scheduler.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(scheduler.Identity)
	return id, ok
}

// requireIdentity pulls the verified identity or ends the request. A
// missing identity here means the route was mounted without WithAuth.
func requireIdentity(w http.ResponseWriter, r *http.Request) (scheduler.Identity, bool) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return scheduler.Identity{}, false
	}
	return id, true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (scheduler.Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return scheduler.Identity{}, false
	}
	if !id.IsStaff() {
		http.Error(w, "staff only", http.StatusForbidden)
		return scheduler.Identity{}, false
	}
	return id, true
}

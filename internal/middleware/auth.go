// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/auth"
	"github.com/pawpal/conversation-service/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated user.
	IdentityKey ContextKey = "identity"
)

// Auth authenticates requests with the bearer credential of the
// Authorization header.
func Auth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return authenticate(verifier, false)
}

// StreamAuth authenticates long-lived subscription requests. Clients that
// cannot set headers pass the credential in the token query parameter.
func StreamAuth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return authenticate(verifier, true)
}

func authenticate(verifier auth.Verifier, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok && allowQuery {
				credential = r.URL.Query().Get("token")
			}
			if credential == "" {
				WriteError(w, apperr.Unauthenticated("missing authorization header", nil))
				return
			}

			identity, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				WriteError(w, err)
				return
			}

			recordUserID(r.Context(), identity.ID)
			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity gets the authenticated user from context.
func GetIdentity(ctx context.Context) *model.UserIdentity {
	if v, ok := ctx.Value(IdentityKey).(*model.UserIdentity); ok {
		return v
	}
	return nil
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if identity := GetIdentity(ctx); identity != nil {
		return identity.ID
	}
	return ""
}

// WriteError writes err as a JSON error document with the status of its kind.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	json.NewEncoder(w).Encode(apperr.ToBody(err))
}

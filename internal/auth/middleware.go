package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

type contextKey string

const actingAsKey contextKey = "acting_as"

func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			actor, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActingAs(r.Context(), actor)))
		})
	}
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActingAsFrom(r.Context())
			for _, role := range roles {
				if actor.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func WithActingAs(ctx context.Context, actor models.ActingAs) context.Context {
	return context.WithValue(ctx, actingAsKey, actor)
}

// ActingAsFrom returns the authenticated caller, or the zero value.
func ActingAsFrom(ctx context.Context) models.ActingAs {
	if actor, ok := ctx.Value(actingAsKey).(models.ActingAs); ok {
		return actor
	}
	return models.ActingAs{}
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	return ActingAsFrom(ctx).UserID
}

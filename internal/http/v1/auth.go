package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/security/auth"
)

type ctxKey struct{}

// UserFrom returns the authenticated user stored by the auth middleware.
func UserFrom(ctx context.Context) (deployments.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(deployments.User)
	return u, ok
}

// authenticate requires a valid bearer JWT that is also the token currently
// stored on an active user.
func (a *api) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.VerifyToken(a.JWTSecret, raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		u, err := a.Users.FindUserByToken(r.Context(), raw)
		if err != nil || u.ID != claims.Subject || u.Status != deployments.UserStatusActive {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

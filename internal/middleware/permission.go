package middleware

import (
	"context"
	"net/http"
)

// PermissionChecker is the subset of *rbac.Resolver the permission guard
// needs.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// RequirePermission returns middleware that 403s unless the authenticated
// user (set by RequireAuth earlier in the chain) holds the named
// permission. Must run after RequireAuth.
func RequirePermission(checker PermissionChecker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			ok, err := checker.HasPermission(r.Context(), userID, permission)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "permission check failed")
				return
			}
			if !ok {
				respondError(w, http.StatusForbidden, "FORBIDDEN", "missing required permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

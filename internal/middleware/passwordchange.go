package middleware

import (
	"context"
	"net/http"
)

// PasswordChangeChecker reports whether the given user must change their
// password before using any other protected endpoint.
type PasswordChangeChecker interface {
	PasswordChangeRequired(ctx context.Context, userID string) (bool, error)
}

// RequirePasswordCurrent returns middleware that 403s with
// PASSWORD_CHANGE_REQUIRED for any authenticated user flagged as needing a
// password change. Mount this on every protected route except
// force-change-password itself. Must run after RequireAuth.
func RequirePasswordCurrent(checker PasswordChangeChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			required, err := checker.PasswordChangeRequired(r.Context(), userID)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "account status check failed")
				return
			}
			if required {
				respondError(w, http.StatusForbidden, "PASSWORD_CHANGE_REQUIRED", "password change required before continuing")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

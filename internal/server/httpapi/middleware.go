package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mbalashov/sessiond/internal/common"
	"github.com/mbalashov/sessiond/internal/server/auth"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// userIDFromContext returns the verified token subject placed there by
// requireBearer.
func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok
}

// requireBearer verifies the Authorization bearer token and stores the
// subject user ID in the request context. Expired and invalid tokens both
// produce 401; the messages differ so clients can tell which, but the status
// is the retry signal.
func (h *Handler) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, common.BearerPrefix)

		claims, err := auth.ParseToken(tokenString, h.jwtSecret)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, claims.UserID)
		next(w, r.WithContext(ctx))
	}
}

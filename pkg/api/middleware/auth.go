package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-flashkv/pkg/auth"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// Auth requires a valid bearer token. GET and HEAD need any role; every
// other method needs a writer token.
func Auth(validator TokenValidator, logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="flashkv"`)
				writeError(w, http.StatusUnauthorized, status.Unauthorized, "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				logger.Debug("token rejected",
					logging.String("method", r.Method),
					logging.Path(r.URL.Path),
					logging.Error(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="flashkv", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, status.Unauthorized, "invalid or expired token")
				return
			}

			if r.Method != http.MethodGet && r.Method != http.MethodHead && !claims.CanWrite() {
				logger.Warn("write refused for reader token",
					logging.String("subject", claims.Subject),
					logging.String("method", r.Method),
					logging.Path(r.URL.Path))
				writeError(w, http.StatusForbidden, status.Unauthorized, "token does not allow writes")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

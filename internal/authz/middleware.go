package authz

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// PrincipalFromRequest extracts the effective principal: the X-User-Id header
// as "user:<id>", else "user:anonymous".
func PrincipalFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-Id")); v != "" {
		return "user:" + v
	}
	return "user:anonymous"
}

// Require returns a middleware that enforces an authz check.
// objectRel returns object and relation. If object is empty, the check is skipped.
// Errors from the authorization backend deny the request.
func Require(c Client, logger *zap.Logger, objectRel func(*http.Request) (string, string)) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			obj, rel := objectRel(r)
			if obj == "" || rel == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal := PrincipalFromRequest(r)
			allowed, err := c.Check(r.Context(), principal, obj, rel)
			if err != nil {
				logger.Warn("authz check error",
					zap.String("principal", principal),
					zap.String("object", obj),
					zap.String("relation", rel),
					zap.Error(err),
				)
				http.Error(w, "authorization error", http.StatusForbidden)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

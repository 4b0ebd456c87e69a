package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/audit"
	"authhub/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer access token and stores its claims in the
// request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="authhub"`)
			a.fail(w, r, err)
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="authhub", error="invalid_token"`)
			a.fail(w, r, apperr.Wrap(apperr.Unauthenticated, err, "invalid access token"))
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = audit.WithActor(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require rejects callers whose token lacks perm.
func (a *API) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := requirePermission(r, perm); err != nil {
				a.logger.Info("permission denied",
					zap.String("event", "http.permission.denied"),
					zap.String("request_id", audit.RequestIDFromContext(r.Context())),
					zap.String("permission", perm),
					zap.String("path", r.URL.Path))
				a.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requirePermission(r *http.Request, perms ...string) error {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return apperr.ErrUnauthenticated
	}
	for _, perm := range perms {
		if claims.HasPermission(perm) {
			return nil
		}
	}
	return apperr.Errorf(apperr.Forbidden, "missing permission %s", strings.Join(perms, " or "))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.New(apperr.Unauthenticated, "missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", apperr.New(apperr.Unauthenticated, "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperr.New(apperr.Unauthenticated, "missing bearer token")
	}
	return token, nil
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"gatehouse.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

const principalKey ctxKey = "principal"

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/auth/otp/request",
	"/v1/auth/otp/verify",
	"/v1/auth/totp/verify",
}

// withAuth verifies the bearer token and resolves the acting principal with
// its live role and permissions. Authority always comes from the current
// database state, never from token contents.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.sessions.Verifier().Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal, err := a.rbac.Principal(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			handleError(w, r, err)
			return
		}
		if principal.User.Status != identity.UserStatusActive {
			writeError(w, r, http.StatusForbidden, "account is not active")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the resolved actor, if authentication ran.
func PrincipalFromContext(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(principalKey).(identity.Principal)
	return p, ok
}

// ensurePermission answers whether the request may proceed, writing the
// response when it may not.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) (identity.Principal, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.Principal{}, false
	}
	if !principal.HasPermission(perm) {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return identity.Principal{}, false
	}
	return principal, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"lookbook/internal/domain"
	"lookbook/pkg/hs256"
)

// IdentityClaims is the bearer token payload accepted by Identity.
type IdentityClaims struct {
	hs256.Claims
	Guest bool `json:"guest,omitempty"`
}

type identityKey struct{}

// Identity resolves the caller into a domain.RequestContext. Requests without
// a bearer token run as the guest user; a token that fails verification is
// rejected with 401.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := domain.GuestContext()
			if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || secret == "" {
					writeUnauthorized(w, "invalid authorization")
					return
				}
				var claims IdentityClaims
				if err := hs256.Verify(secret, parts[1], &claims); err != nil {
					writeUnauthorized(w, "invalid token")
					return
				}
				rc = domain.RequestContext{UserID: claims.Subject, IsGuest: claims.Guest}.Normalize()
			}
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
		})
	}
}

// SignIdentity issues a token Identity accepts. Used by tooling and tests.
func SignIdentity(secret string, claims IdentityClaims) (string, error) {
	return hs256.Sign(secret, claims)
}

func WithRequestContext(ctx context.Context, rc domain.RequestContext) context.Context {
	return context.WithValue(ctx, identityKey{}, rc)
}

// RequestContextFrom returns the caller identity, or the guest identity when
// the middleware did not run.
func RequestContextFrom(ctx context.Context) domain.RequestContext {
	if rc, ok := ctx.Value(identityKey{}).(domain.RequestContext); ok {
		return rc
	}
	return domain.GuestContext()
}

func writeUnauthorized(w http.ResponseWriter, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + domain.ErrUnauthorized.Error() + `","details":"` + details + `"}`))
}

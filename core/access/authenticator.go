package access

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ormgate-tech/ormgate/core/envelope"
	"github.com/ormgate-tech/ormgate/core/logger"
)

// Validator resolves a bearer secret to its token and owning principal.
// The TokenStore is the canonical implementation.
type Validator interface {
	FindValidBySecret(ctx context.Context, secret string) (Token, Principal, error)
}

// TokenFromRequest extracts the bearer credential from the request headers.
// It accepts "Authorization: Bearer <token>" (the Bearer prefix is optional)
// with "X-API-Key: <token>" as fallback. It returns the empty string if the
// request carries no credential.
func TokenFromRequest(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.Header.Get("X-API-Key")
	}
	return strings.TrimPrefix(token, "Bearer ")
}

// NewMiddleware returns a mux middleware which authenticates requests
// against the validator. A request with a valid token continues with the
// resolved principal in its context and the principal's login as logger
// identity; a request without one continues with no principal at all.
// Handlers of protected routes reject requests with a nil principal, which
// keeps unauthenticated routes like login working through the same router.
// When the token lookup itself fails the request is answered with an
// internal server error rather than downgraded to unauthenticated.
func NewMiddleware(v Validator) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := TokenFromRequest(r)
			if secret == "" {
				h.ServeHTTP(w, r)
				return
			}
			_, principal, err := v.FindValidBySecret(r.Context(), secret)
			if errors.Is(err, ErrNoToken) {
				h.ServeHTTP(w, r)
				return
			}
			if err != nil {
				logger.FromContext(r.Context()).WithError(err).Errorln("token lookup failed")
				envelope.Write(w, envelope.Error("Internal server error: cannot validate token", http.StatusInternalServerError))
				return
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), principal.Login)
			ctx = principal.ContextWithPrincipal(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

/*Package access provides the token-based authentication layer of the gateway:
persisted access tokens, the per-request authenticator, and the recurring
expiry sweep.
*/
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyPrincipal contextKey = "_principal_"
)

/*Principal is the authenticated identity a valid token resolves to.

The gateway only needs an identifier and a display attribute; everything
else about the identity lives in the external store.

Principals are added to a request context by the authenticator middleware with

	ctx = principal.ContextWithPrincipal(ctx)

and retrieved by handlers with

	principal := access.PrincipalFromContext(ctx)

A nil principal means the request did not carry a valid token. This layer
deliberately has no role or permission tier beyond "is there a valid token";
any finer-grained access control is the external store's responsibility.
*/
type Principal struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// ContextWithPrincipal returns a new context with this principal added to it
func (p *Principal) ContextWithPrincipal(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFromContext retrieves a principal from the context
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(contextKeyPrincipal).(*Principal)
	if ok {
		return p
	}
	return nil
}

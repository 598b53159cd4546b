package auth

import (
	"context"
	"strings"
)

// Identity captures the authenticated caller extracted from a bearer token.
type Identity struct {
	UID    string
	Email  string
	Scopes []string

	Claims map[string]any
}

// HasScope reports whether the identity carries the requested scope.
func (i *Identity) HasScope(scope string) bool {
	if i == nil {
		return false
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return false
	}
	for _, s := range i.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/litlb/coupon-api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

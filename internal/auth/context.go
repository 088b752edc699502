// ABOUTME: Request context helpers carrying the authenticated principal
// ABOUTME: Set by the HTTP middleware, read by handlers

package auth

import "context"

type principalKey struct{}

// WithPrincipal returns a context carrying principalID.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalKey{}, principalID)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

package tenant

import "context"

type contextKey struct{}

// WithInstitution returns a context carrying the institution code for the
// current request. The code scopes cache keys and external fee lookups.
func WithInstitution(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, contextKey{}, code)
}

// InstitutionFromContext returns the institution code from the context,
// or an empty string when none was set.
func InstitutionFromContext(ctx context.Context) string {
	code, _ := ctx.Value(contextKey{}).(string)
	return code
}

// Package tenancy carries the caller's tenant scope through every core
// operation. The core never infers a tenant on its own: the (external)
// API layer resolves one per request and passes it down explicitly.
package tenancy

import "context"

// ctxKey is an unexported type used as the context key for Context.
type ctxKey struct{}

// Context identifies the tenant and membership on whose behalf an
// operation runs. PlatformAdmin is an explicit bypass flag that stores
// only honor where they opt in; it is never assumed.
type Context struct {
	TenantID      string
	MembershipID  string
	Role          string
	PlatformAdmin bool
}

// Actor returns the membership id recorded in audit columns
// (created_by, updated_by, deleted_by, changed_by).
func (c Context) Actor() string { return c.MembershipID }

// WithContext returns a new context with the given tenancy Context attached.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves the tenancy Context from the context.
// Returns the zero value and false if none is set.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// TenantFromContext is a convenience function that returns the tenant id
// from the context, or "" if no tenancy context is set.
func TenantFromContext(ctx context.Context) string {
	tc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return tc.TenantID
}

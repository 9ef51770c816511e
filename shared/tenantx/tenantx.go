// Package tenantx carries the utility a request is scoped to.
package tenantx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// TenantContext is set when a request is scoped to one utility. Requests
// without one see data across all tenants their role allows.
type TenantContext struct {
	ID   string
	Slug string
	Name string
}

func WithTenant(ctx context.Context, tenant TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tenant)
}

func FromContext(ctx context.Context) (TenantContext, bool) {
	t, ok := ctx.Value(contextKey{}).(TenantContext)
	return t, ok
}

// UUIDFromContext returns nil for unscoped requests, which repositories read
// as "all tenants".
func UUIDFromContext(ctx context.Context) *uuid.UUID {
	t, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return nil
	}
	return &id
}

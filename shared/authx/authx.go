// Package authx verifies bearer tokens. Locally issued HS256 tokens and
// tokens from an external OpenID Connect provider resolve to the same
// AuthContext; role and active state are decided later from the user store.
package authx

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

const (
	ProviderLocal = "local"
	ProviderOIDC  = "oidc"
)

type AuthContext struct {
	Subject  string
	Email    string
	Name     string
	Roles    []string
	Provider string
	Claims   map[string]any
}

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (AuthContext, error)
}

// Chain tries each verifier in order. A key lookup failure is reported over a
// plain rejection so operators can tell a stale key set from a bad token.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	failure := ErrInvalidToken
	for _, v := range c {
		if v == nil {
			continue
		}
		auth, err := v.Verify(ctx, rawToken)
		if err == nil {
			return auth, nil
		}
		if errors.Is(err, ErrUnknownKID) {
			failure = err
		}
	}
	return AuthContext{}, failure
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(contextKey{}).(AuthContext)
	return a, ok
}

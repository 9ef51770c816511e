package authx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// OIDCConfig describes an external identity provider. JWKSURL defaults to the
// issuer's well-known key set.
type OIDCConfig struct {
	Issuer          string
	Audience        string
	JWKSURL         string
	RefreshInterval time.Duration
	ClockSkew       time.Duration
}

// keySource resolves a signing key by kid.
type keySource interface {
	Lookup(ctx context.Context, kid string) (any, error)
}

type OIDCVerifier struct {
	keys   keySource
	parser *jwt.Parser
}

func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("%w: missing issuer or audience", ErrInvalidToken)
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	keys, err := newRemoteKeys(ctx, cfg.JWKSURL, cfg.RefreshInterval)
	if err != nil {
		return nil, err
	}
	return newOIDCVerifier(cfg, keys), nil
}

func newOIDCVerifier(cfg OIDCConfig, keys keySource) *OIDCVerifier {
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	return &OIDCVerifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(cfg.Audience),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	var keyErr error
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, err := v.keys.Lookup(ctx, strings.TrimSpace(kid))
		keyErr = err
		return key, err
	})
	if err != nil {
		if keyErr != nil {
			return AuthContext{}, keyErr
		}
		return AuthContext{}, ErrInvalidToken
	}

	subject := claimString(claims, "sub")
	if subject == "" {
		return AuthContext{}, ErrInvalidToken
	}
	name := claimString(claims, "name")
	if name == "" {
		name = claimString(claims, "preferred_username")
	}
	return AuthContext{
		Subject:  subject,
		Email:    claimString(claims, "email"),
		Name:     name,
		Roles:    providerRoles(claims),
		Provider: ProviderOIDC,
		Claims:   map[string]any(claims),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

// providerRoles collects role names from the claim shapes common IdPs emit:
// a flat "roles"/"role" claim, Keycloak's realm_access.roles and group paths.
// Values are lowercased; mapping to application roles happens downstream.
func providerRoles(claims map[string]any) []string {
	seen := map[string]bool{}
	var roles []string
	add := func(raw string) {
		role := strings.ToLower(strings.TrimSpace(raw))
		if i := strings.LastIndex(role, "/"); i >= 0 {
			role = role[i+1:]
		}
		if role == "" || seen[role] {
			return
		}
		seen[role] = true
		roles = append(roles, role)
	}

	for _, key := range []string{"roles", "role", "groups"} {
		for _, r := range stringList(claims[key]) {
			add(r)
		}
	}
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		for _, r := range stringList(realm["roles"]) {
			add(r)
		}
	}
	return roles
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.Fields(t)
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// remoteKeys wraps a jwk.Cache that refreshes the provider key set in the
// background. An unknown kid forces one refresh, at most once per interval,
// so rotated keys are picked up without hammering the provider.
type remoteKeys struct {
	url      string
	cache    *jwk.Cache
	interval time.Duration

	mu         sync.Mutex
	lastForced time.Time
	now        func() time.Time
}

func newRemoteKeys(ctx context.Context, url string, interval time.Duration) (*remoteKeys, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(interval)); err != nil {
		return nil, fmt.Errorf("register jwks %s: %w", url, err)
	}
	return &remoteKeys{url: url, cache: cache, interval: interval, now: time.Now}, nil
}

func (k *remoteKeys) Lookup(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}
	set, err := k.cache.Get(ctx, k.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKID, err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok && k.allowForcedRefresh() {
		if set, err = k.cache.Refresh(ctx, k.url); err == nil {
			key, ok = set.LookupKeyID(kid)
		}
	}
	if !ok {
		return nil, ErrUnknownKID
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKID, err)
	}
	return raw, nil
}

func (k *remoteKeys) allowForcedRefresh() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if now.Sub(k.lastForced) < k.interval {
		return false
	}
	k.lastForced = now
	return true
}

package authx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestProviderRoles(t *testing.T) {
	claims := map[string]any{
		"roles":        []any{"Manager", "operator", 7},
		"groups":       []any{"/utilities/north/Analyst"},
		"realm_access": map[string]any{"roles": []any{"offline_access", "manager"}},
		"scp":          "read write",
	}
	got := providerRoles(claims)
	want := []string{"manager", "operator", "analyst", "offline_access"}
	if len(got) != len(want) {
		t.Fatalf("providerRoles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providerRoles = %v, want %v", got, want)
		}
	}
}

func TestNewOIDCVerifierValidation(t *testing.T) {
	if _, err := NewOIDCVerifier(context.Background(), OIDCConfig{Audience: "aud"}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
}

type staticKeys map[string]any

func (k staticKeys) Lookup(_ context.Context, kid string) (any, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, ErrUnknownKID
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := newOIDCVerifier(OIDCConfig{Issuer: "https://idp.example.org", Audience: "dashboard"}, staticKeys{"k1": &key.PublicKey})

	sign := func(kid string, claims jwt.MapClaims) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = kid
		raw, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		return raw
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                "https://idp.example.org",
		"aud":                "dashboard",
		"sub":                "ext-42",
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"preferred_username": "field.tech",
		"realm_access":       map[string]any{"roles": []any{"Operator"}},
	}

	auth, err := v.Verify(context.Background(), sign("k1", claims))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if auth.Subject != "ext-42" || auth.Name != "field.tech" || auth.Provider != ProviderOIDC {
		t.Fatalf("unexpected auth %+v", auth)
	}
	if len(auth.Roles) != 1 || auth.Roles[0] != "operator" {
		t.Fatalf("unexpected roles %v", auth.Roles)
	}

	if _, err := v.Verify(context.Background(), sign("k2", claims)); !errors.Is(err, ErrUnknownKID) {
		t.Fatalf("expected ErrUnknownKID, got %v", err)
	}

	wrongAud := jwt.MapClaims{}
	for k, val := range claims {
		wrongAud[k] = val
	}
	wrongAud["aud"] = "other"
	if _, err := v.Verify(context.Background(), sign("k1", wrongAud)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign audience, got %v", err)
	}

	noExp := jwt.MapClaims{"iss": "https://idp.example.org", "aud": "dashboard", "sub": "ext-42"}
	if _, err := v.Verify(context.Background(), sign("k1", noExp)); err == nil {
		t.Fatalf("token without exp must fail")
	}
}

func TestRemoteKeysForcedRefreshIsThrottled(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	k := &remoteKeys{interval: time.Minute, now: func() time.Time { return now }}
	if !k.allowForcedRefresh() {
		t.Fatalf("first forced refresh should be allowed")
	}
	if k.allowForcedRefresh() {
		t.Fatalf("second forced refresh within the interval should be refused")
	}
	now = now.Add(time.Minute)
	if !k.allowForcedRefresh() {
		t.Fatalf("forced refresh should be allowed again after the interval")
	}
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", 30*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	pair, err := issuer.Issue("user-1", "op@example.com", "operator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.TokenType != "bearer" || pair.ExpiresIn != 1800 {
		t.Fatalf("unexpected pair %+v", pair)
	}

	auth, err := issuer.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if auth.Subject != "user-1" || auth.Email != "op@example.com" || auth.Provider != ProviderLocal {
		t.Fatalf("unexpected auth %+v", auth)
	}
	if len(auth.Roles) != 1 || auth.Roles[0] != "operator" {
		t.Fatalf("unexpected roles %v", auth.Roles)
	}

	if _, err := issuer.Verify(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass as access token")
	}
	if _, err := issuer.VerifyRefresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not pass as refresh token")
	}
	if _, err := issuer.VerifyRefresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestTokenIssuerRejectsForeignAndExpired(t *testing.T) {
	a, _ := NewTokenIssuer("secret-a", time.Minute, time.Hour)
	b, _ := NewTokenIssuer("secret-b", time.Minute, time.Hour)
	pair, _ := a.Issue("u", "e", "public")
	if _, err := b.Verify(context.Background(), pair.AccessToken); err == nil {
		t.Fatalf("token signed with another secret must fail")
	}

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := a.Issue("u", "e", "public")
	a.now = time.Now
	if _, err := a.Verify(context.Background(), old.AccessToken); err == nil {
		t.Fatalf("expired token must fail")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(" ", time.Minute, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

type stubVerifier struct {
	auth AuthContext
	err  error
}

func (s stubVerifier) Verify(context.Context, string) (AuthContext, error) { return s.auth, s.err }

func TestChain(t *testing.T) {
	c := Chain{stubVerifier{err: ErrInvalidToken}, nil, stubVerifier{auth: AuthContext{Subject: "x"}}}
	auth, err := c.Verify(context.Background(), "tok")
	if err != nil || auth.Subject != "x" {
		t.Fatalf("expected second verifier to win, got %+v %v", auth, err)
	}
	if _, err := (Chain{stubVerifier{err: ErrInvalidToken}}).Verify(context.Background(), "tok"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := (Chain{stubVerifier{err: ErrUnknownKID}, stubVerifier{err: ErrInvalidToken}}).Verify(context.Background(), "tok"); !errors.Is(err, ErrUnknownKID) {
		t.Fatalf("expected ErrUnknownKID to surface, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	hash, err := HashPassword("correct-horse-1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword("correct-horse-1", hash); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := CheckPassword("wrong-password", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

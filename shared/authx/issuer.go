package authx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	localIssuer = "water-infra-dashboard"
)

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenIssuer signs and verifies HS256 tokens for locally registered users.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrInvalidToken)
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(localIssuer),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}, nil
}

func (i *TokenIssuer) Issue(userID, email, role string) (TokenPair, error) {
	access, err := i.sign(userID, email, role, TokenTypeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(userID, email, role, TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) sign(userID, email, role, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Role:  role,
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    localIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Verify accepts access tokens only.
func (i *TokenIssuer) Verify(_ context.Context, rawToken string) (AuthContext, error) {
	return i.verify(rawToken, TokenTypeAccess)
}

func (i *TokenIssuer) VerifyRefresh(_ context.Context, rawToken string) (AuthContext, error) {
	return i.verify(rawToken, TokenTypeRefresh)
}

func (i *TokenIssuer) verify(rawToken, wantType string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := i.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return AuthContext{}, ErrInvalidToken
	}
	if claims.Type != wantType || strings.TrimSpace(claims.Subject) == "" {
		return AuthContext{}, ErrInvalidToken
	}
	var roles []string
	if claims.Role != "" {
		roles = []string{claims.Role}
	}
	return AuthContext{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Roles:    roles,
		Provider: ProviderLocal,
		Claims: map[string]any{
			"type": claims.Type,
			"jti":  claims.ID,
		},
	}, nil
}

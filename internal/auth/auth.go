// Package auth verifies bearer tokens and carries the authenticated principal
// through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the permission level of a principal within its tenant.
type Role string

const (
	// RoleViewer may list and read records.
	RoleViewer Role = "viewer"
	// RoleEditor may also upload and delete.
	RoleEditor Role = "editor"
	// RoleAdmin may also override classification results.
	RoleAdmin Role = "admin"
)

// IsValid returns true for the three known roles.
func (r Role) IsValid() bool {
	return r == RoleViewer || r == RoleEditor || r == RoleAdmin
}

// Static errors for token verification.
var (
	// ErrMissingToken is returned when no token was presented.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrEmptySecret is returned when a verifier is built without a signing secret.
	ErrEmptySecret = errors.New("auth: empty signing secret")
)

// Principal is the verified identity behind a request.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}

// Claims is the token payload.
type Claims struct {
	UserID   string `json:"id"`
	TenantID string `json:"tenantId"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Verifier turns an opaque token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// JWTVerifier verifies and issues HS256 tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &JWTVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses token and returns its principal. Tokens with an unknown role or
// without a user or tenant are rejected.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.TenantID == "" || !claims.Role.IsValid() {
		return Principal{}, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}

	return Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

// Issue signs a token for p valid for ttl. A non-positive ttl yields a token
// without expiry.
func (v *JWTVerifier) Issue(p Principal, ttl time.Duration) (string, error) {
	if !p.Role.IsValid() {
		return "", fmt.Errorf("auth: unknown role %q", p.Role)
	}
	now := v.now()
	claims := Claims{
		UserID:   p.UserID,
		TenantID: p.TenantID,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

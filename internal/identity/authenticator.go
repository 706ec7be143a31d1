// Package identity turns bearer tokens into principals. Token issuance lives
// with the municipal SSO; this service only verifies and extracts claims.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Authentication errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidRole  = errors.New("token carries an unknown role")
)

// Claims is the JWT claim set issued for drainflow principals.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens. It implements the
// httputil.TokenValidator interface used by the auth middleware.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. issuer is matched against the
// token's iss claim when non-empty.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer, now: time.Now}
}

// ValidateToken verifies the token and returns the caller's id and role.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrTokenExpired
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleWorker, domain.RoleLeader, domain.RoleManager, domain.RoleAdmin:
	default:
		return "", "", ErrInvalidRole
	}

	return claims.Subject, role, nil
}

// IssueToken signs a token for the given principal. Used by tests and
// operational tooling; production tokens come from the SSO.
func (a *Authenticator) IssueToken(userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Package auth verifies the bearer credentials presented by clients. Tokens
// are issued by the login service; this package only checks them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for any missing, malformed, expired or
// mismatched credential.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Verifier checks that token is a valid credential for userID.
type Verifier interface {
	Verify(ctx context.Context, token, userID string) error
}

// Claims are the token claims written by the login flow: the user id under
// "id" plus the registered claims.
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HS256 tokens signed with a shared secret.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT verifier.
func NewJWT(secret string) (*JWT, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Authenticate parses token and returns the user id it was issued for.
func (j *JWT) Authenticate(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return "", fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	return claims.ID, nil
}

// Verify checks token and that it was issued for userID.
func (j *JWT) Verify(_ context.Context, token, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUnauthenticated)
	}
	id, err := j.Authenticate(token)
	if err != nil {
		return err
	}
	if id != userID {
		return fmt.Errorf("%w: token does not belong to user %s", ErrUnauthenticated, userID)
	}
	return nil
}

// Issue signs a token for userID valid for ttl.
func (j *JWT) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: issue: user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("auth: issue: ttl must be positive")
	}
	now := j.now()
	claims := Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("auth: issue: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. It returns "" when the header has another form.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

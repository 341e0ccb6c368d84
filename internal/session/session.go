// Package session resolves the resource owner behind an HTTP request.
// Owners authenticate out of band and carry a signed JWT in a cookie; a
// request without a valid cookie has no owner and cannot approve grants.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pkt.systems/grantd/internal/clock"
)

// CookieName is the cookie carrying the owner's session token.
const CookieName = "session-token"

// Resolver identifies the resource owner behind a request.
// The second return is false when no owner could be established.
type Resolver interface {
	Resolve(r *http.Request) (ownerID string, ok bool)
}

// JWTResolver validates HS256-signed session cookies.
type JWTResolver struct {
	secret []byte
	clk    clock.Clock
}

// NewJWTResolver returns a resolver validating cookies against secret.
// An empty secret yields a resolver that identifies nobody.
func NewJWTResolver(secret []byte, clk clock.Clock) *JWTResolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &JWTResolver{secret: secret, clk: clk}
}

// Resolve extracts and validates the session cookie. Any failure, from a
// missing cookie to a bad signature, resolves to no owner.
func (j *JWTResolver) Resolve(r *http.Request) (string, bool) {
	if len(j.secret) == 0 {
		return "", false
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(cookie.Value, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return j.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.clk.Now),
	)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// Mint signs a session token for ownerID, valid for ttl. Used by the
// out-of-band login surface and by tests.
func (j *JWTResolver) Mint(ownerID string, ttl time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", fmt.Errorf("session: no signing secret configured")
	}
	now := j.clk.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

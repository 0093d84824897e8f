// ABOUTME: JWT token verification for authenticating gateway requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity is the verified caller identity carried through a request.
type Identity struct {
	UserID    string
	Tier      string // FREE or PAID, as reported by the identity provider
	Anonymous bool
	Admin     bool
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the identity from its claims.
// The "sub" claim is required; "tier", "anon", and "role" are optional
// with safe defaults (FREE, not anonymous, not admin).
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	identity := &Identity{UserID: sub, Tier: "FREE"}
	if tier, ok := claims["tier"].(string); ok && tier != "" {
		identity.Tier = tier
	}
	if anon, ok := claims["anon"].(bool); ok {
		identity.Anonymous = anon
	}
	if role, ok := claims["role"].(string); ok && role == "admin" {
		identity.Admin = true
	}

	return identity, nil
}

// Generate creates a new JWT token for the given identity with expiration.
// Used by tests and the operator tooling.
func (v *JWTVerifier) Generate(identity *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  identity.UserID,
		"tier": identity.Tier,
		"anon": identity.Anonymous,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	if identity.Admin {
		claims["role"] = "admin"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ABOUTME: Tests for JWT verification and identity claims
// ABOUTME: Covers claim extraction, defaults, expiry, and signing method checks

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-for-auth-tests")

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(&Identity{
		UserID:    "user-1",
		Tier:      "PAID",
		Anonymous: false,
		Admin:     true,
	}, time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "PAID", identity.Tier)
	assert.False(t, identity.Anonymous)
	assert.True(t, identity.Admin)
}

func TestVerify_DefaultsForMissingClaims(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	identity, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "FREE", identity.Tier)
	assert.False(t, identity.Anonymous)
	assert.False(t, identity.Admin)
}

func TestVerify_MissingSubject(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestVerify_Expired(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(&Identity{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	other := NewJWTVerifier([]byte("different-secret"))

	token, err := other.Generate(&Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsNonHMAC(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}

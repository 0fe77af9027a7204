package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearerRejectsMissingHeader(t *testing.T) {
	v := NewVerifier("secret")
	_, err := v.ParseBearer("")
	assert.ErrorIs(t, err, ErrMissingBearer)
}

func TestParseBearerRejectsNonBearer(t *testing.T) {
	v := NewVerifier("secret")
	_, err := v.ParseBearer("Basic abc123")
	assert.ErrorIs(t, err, ErrMissingBearer)
}

func TestParseBearerEmptySecretDisablesVerification(t *testing.T) {
	v := NewVerifier("")
	claims, err := v.ParseBearer("Bearer anything")
	require.NoError(t, err)
	assert.NotNil(t, claims)
}

func TestParseBearerAcceptsValidToken(t *testing.T) {
	secret := "s3cret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	v := NewVerifier(secret)
	claims, err := v.ParseBearer("Bearer " + signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestParseBearerRejectsBadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	v := NewVerifier("s3cret")
	_, err = v.ParseBearer("Bearer " + signed)
	assert.Error(t, err)
}

func TestParseBearerRejectsExpiredToken(t *testing.T) {
	secret := "s3cret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	v := NewVerifier(secret)
	_, err = v.ParseBearer("Bearer " + signed)
	assert.Error(t, err)
}

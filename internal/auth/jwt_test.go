package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("secret", "alice", time.Hour)
	require.NoError(t, err)

	sub, err := ValidateJWT("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestValidateJWT_Rejects(t *testing.T) {
	token, err := GenerateJWT("secret", "alice", time.Hour)
	require.NoError(t, err)

	_, err = ValidateJWT("other-secret", token)
	assert.Error(t, err)

	_, err = ValidateJWT("secret", "not-a-token")
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ValidateJWT("secret", signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, err = noSub.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ValidateJWT("secret", signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateJWT_EmptySecret(t *testing.T) {
	_, err := GenerateJWT("", "alice", 0)
	assert.Error(t, err)
}

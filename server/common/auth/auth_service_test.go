package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	svc := NewService("secret", 5)
	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	userID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	token, err := NewService("other", 5).GenerateToken("alice")
	require.NoError(t, err)

	_, err = NewService("secret", 5).VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := &Service{secret: []byte("secret"), ttl: -time.Minute}
	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	svc := NewService("secret", 5)
	claims := jwt.RegisteredClaims{Subject: "bob", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	userID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)
}

func TestVerifyRejectsMissingIdentity(t *testing.T) {
	svc := NewService("secret", 5)
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

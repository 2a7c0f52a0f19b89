package middleware

import (
	"testing"
	"time"

	"evently-core/internal/shared/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func testConfig() *config.Config {
	return &config.Config{JWT: config.JWTConfig{Secret: testSecret}}
}

func mintToken(t *testing.T, secret, tokenType string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": "3f0c8e26-31d4-4f3f-9a2e-5b7d1c9e0a11",
		"email":   "u@example.com",
		"role":    "USER",
		"type":    tokenType,
		"exp":     time.Now().Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseAccessToken_Valid(t *testing.T) {
	tokenString := mintToken(t, testSecret, "access", time.Hour)

	claims, err := ParseAccessToken(testConfig(), tokenString)
	require.NoError(t, err)
	require.Equal(t, "3f0c8e26-31d4-4f3f-9a2e-5b7d1c9e0a11", claims["user_id"])
	require.Equal(t, "USER", claims["role"])
}

func TestParseAccessToken_RejectsRefreshToken(t *testing.T) {
	tokenString := mintToken(t, testSecret, "refresh", time.Hour)

	_, err := ParseAccessToken(testConfig(), tokenString)
	require.Error(t, err, "a refresh token must never pass the access boundary")
}

func TestParseAccessToken_RejectsWrongSecret(t *testing.T) {
	tokenString := mintToken(t, "some-other-secret", "access", time.Hour)

	_, err := ParseAccessToken(testConfig(), tokenString)
	require.Error(t, err)
}

func TestParseAccessToken_RejectsExpired(t *testing.T) {
	tokenString := mintToken(t, testSecret, "access", -time.Minute)

	_, err := ParseAccessToken(testConfig(), tokenString)
	require.Error(t, err)
}

func TestParseAccessToken_RejectsGarbage(t *testing.T) {
	_, err := ParseAccessToken(testConfig(), "not.a.jwt")
	require.Error(t, err)
}

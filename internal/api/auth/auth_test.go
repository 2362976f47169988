package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	raw, err := IssueToken("s3cret", "ops", "ops@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)

	c, err := ParseToken("s3cret", raw)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, c.Role)
	assert.Equal(t, "ops", c.Subject)
	assert.Equal(t, "ops@example.com", c.Email)
	assert.Equal(t, "breatheasy", c.Issuer)
}

func TestParseRejectsWrongSecretAndExpired(t *testing.T) {
	raw, err := IssueToken("s3cret", "ops", "", RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken("other", raw)
	assert.Error(t, err)

	expired, err := IssueToken("s3cret", "ops", "", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("s3cret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRequiresExpiry(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAdmin}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken("s3cret", raw)
	assert.Error(t, err)
}

func TestEmptySecret(t *testing.T) {
	_, err := IssueToken("", "ops", "", RoleAdmin, time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = ParseToken("", "x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), &Claims{Role: RoleAdmin})
	c, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, c.Role)
}

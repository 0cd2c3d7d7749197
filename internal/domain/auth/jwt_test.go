package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))

	token, expires, err := svc.GenerateAccessToken("admin", []string{"editor"}, "de")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, time.Minute)

	viewer, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", viewer.Subject)
	assert.Equal(t, []string{"editor"}, viewer.Roles)
	assert.Equal(t, "de", viewer.Locale)
	assert.True(t, viewer.Authenticated)
}

func TestJWT_Rejects(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))

	_, _, err := svc.GenerateAccessToken("", nil, "")
	assert.Error(t, err)

	other := NewJWTService(DefaultJWTConfig("other"))
	token, _, err := other.GenerateAccessToken("admin", nil, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "foreign signature")

	cfg := DefaultJWTConfig("secret")
	cfg.Issuer = "someone-else"
	token, _, err = NewJWTService(cfg).GenerateAccessToken("admin", nil, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "foreign issuer")

	expired := NewJWTService(DefaultJWTConfig("secret"))
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = expired.GenerateAccessToken("admin", nil, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "expired")

	_, err = svc.ValidateToken("garbage")
	assert.Error(t, err)
}

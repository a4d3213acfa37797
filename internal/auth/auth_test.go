package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$"))

	assert.True(t, VerifyPassword(hash, "correct horse"))
	assert.False(t, VerifyPassword(hash, "wrong horse"))
	assert.False(t, VerifyPassword("garbage", "correct horse"))
	assert.False(t, VerifyPassword(hash, strings.Repeat("x", MaxPasswordLength+1)))

	other, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salt must differ")
}

func TestHashPassword_Limits(t *testing.T) {
	_, err := HashPassword("")
	assert.ErrorIs(t, err, ErrPasswordEmpty)

	_, err = HashPassword(strings.Repeat("x", MaxPasswordLength+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestLoadOrGenerateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	assert.Len(t, first, keyHexSize)

	second, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFile), []byte("short"), 0o600))
	_, err = LoadOrGenerateKey(dir)
	assert.Error(t, err)
}

func testSession(expires time.Time) (*domain.User, *domain.Session) {
	user := &domain.User{ID: "user-1", Email: "ann@example.com", DisplayName: "Ann"}
	session := &domain.Session{ID: "sess-1", UserID: user.ID, ExpiresAt: expires}
	return user, session
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, err := NewTokenService(testKey, 15*time.Minute)
	require.NoError(t, err)

	user, session := testSession(time.Now().Add(24 * time.Hour))
	token, expires, err := svc.GenerateAccessToken(user, session)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v4.local."))
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, 5*time.Second)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{
		UserID:      "user-1",
		DisplayName: "Ann",
		Email:       "ann@example.com",
		SessionID:   "sess-1",
	}, claims.Identity())
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokenService_ExpiryCappedBySession(t *testing.T) {
	svc, err := NewTokenService(testKey, time.Hour)
	require.NoError(t, err)

	sessionEnd := time.Now().Add(10 * time.Minute)
	user, session := testSession(sessionEnd)
	_, expires, err := svc.GenerateAccessToken(user, session)
	require.NoError(t, err)
	assert.Equal(t, sessionEnd, expires)
}

func TestTokenService_Rejects(t *testing.T) {
	svc, err := NewTokenService(testKey, time.Hour)
	require.NoError(t, err)
	otherKey := strings.Repeat("f", keyHexSize)
	other, err := NewTokenService(otherKey, time.Hour)
	require.NoError(t, err)

	user, session := testSession(time.Now().Add(time.Hour))
	token, _, err := svc.GenerateAccessToken(user, session)
	require.NoError(t, err)

	_, expiredSession := testSession(time.Now().Add(-time.Hour))
	expired, _, err := svc.GenerateAccessToken(user, expiredSession)
	require.NoError(t, err)

	tests := []struct {
		name  string
		svc   *TokenService
		token string
	}{
		{name: "wrong key", svc: other, token: token},
		{name: "tampered", svc: svc, token: token[:len(token)-4] + "AAAA"},
		{name: "garbage", svc: svc, token: "not-a-token"},
		{name: "expired", svc: svc, token: expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.VerifyAccessToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewTokenService_InvalidKey(t *testing.T) {
	_, err := NewTokenService("abc", time.Hour)
	assert.Error(t, err)

	_, err = NewTokenService(strings.Repeat("z", keyHexSize), time.Hour)
	assert.Error(t, err)

	_, err = NewTokenService(testKey, 0)
	assert.Error(t, err)
}

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens() *Tokens {
	return NewTokens(
		strings.Repeat("a", 32),
		strings.Repeat("b", 32),
		15*time.Minute,
		7*24*time.Hour,
	)
}

func TestTokens_AccessRoundTrip(t *testing.T) {
	t.Parallel()

	tk := newTestTokens()
	p := Principal{UserID: uuid.New(), Username: "alice"}

	token, err := tk.IssueAccess(p)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := tk.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTokens_RefreshRoundTrip(t *testing.T) {
	t.Parallel()

	tk := newTestTokens()
	p := Principal{UserID: uuid.New(), Username: "bob"}

	token, err := tk.IssueRefresh(p)
	require.NoError(t, err)

	got, err := tk.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTokens_KindsNotInterchangeable(t *testing.T) {
	t.Parallel()

	tk := newTestTokens()
	p := Principal{UserID: uuid.New(), Username: "alice"}

	access, err := tk.IssueAccess(p)
	require.NoError(t, err)
	refresh, err := tk.IssueRefresh(p)
	require.NoError(t, err)

	_, err = tk.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tk.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Expired(t *testing.T) {
	t.Parallel()

	tk := NewTokens(strings.Repeat("a", 32), strings.Repeat("b", 32), -time.Minute, -time.Minute)
	token, err := tk.IssueAccess(Principal{UserID: uuid.New(), Username: "alice"})
	require.NoError(t, err)

	_, err = tk.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	t.Parallel()

	tk := newTestTokens()
	other := NewTokens(strings.Repeat("x", 32), strings.Repeat("y", 32), time.Minute, time.Minute)

	token, err := tk.IssueAccess(Principal{UserID: uuid.New(), Username: "alice"})
	require.NoError(t, err)

	_, err = other.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Garbage(t *testing.T) {
	t.Parallel()

	tk := newTestTokens()
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := tk.VerifyAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	t.Parallel()

	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-opd/internal/authz"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	s := Session{TenantID: "t1", UserID: "u1", Role: authz.RoleDoctor, Name: "Dr. Rao"}

	token, exp, err := issuer.Issue(s)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	got, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.True(t, got.Can(authz.Consult))
	assert.False(t, got.Can(authz.Dispense))
}

func TestParseRejectsBadTokens(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	token, _, err := issuer.Issue(Session{TenantID: "t1", UserID: "u1", Role: authz.RoleAdmin})
	require.NoError(t, err)

	_, err = NewIssuer("other-secret", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue(Session{TenantID: "t1", UserID: "u1", Role: authz.RoleAdmin})
	require.NoError(t, err)
	_, err = issuer.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID:         "t1",
		Role:             "Owner",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	raw, err := forged.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter23"), ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("", "hunter22"), ErrInvalidCredentials)
}

func TestContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	s := Session{TenantID: "t1", UserID: "u1", Role: authz.RoleReceptionist}
	got, err := FromContext(WithSession(context.Background(), s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

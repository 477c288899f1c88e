package library

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	admin, err := mgr.Authenticate(ctx, "  admin ", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "Administrator", admin.Name)
	assert.True(t, admin.IsAdmin())

	tests := []struct {
		name     string
		login    string
		password string
		want     error
	}{
		{"wrong password", "admin", "nope", ErrAuthFailed},
		{"unknown user", "ghost", "admin123", ErrAuthFailed},
		{"login is case sensitive", "ADMIN", "admin123", ErrAuthFailed},
		{"empty login", "", "admin123", ErrInput},
		{"empty password", "admin", "", ErrInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Authenticate(ctx, tt.login, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Failed attempts leave the account usable.
	again, err := mgr.Authenticate(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, admin, again)
}

func TestAuthenticateAcceptsLegacyDigest(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.Store().InsertUser(ctx, "Old Timer", "old", LegacyDigest("secret"), RoleStudent)
	require.NoError(t, err)

	id, err := mgr.Authenticate(ctx, "old", "secret")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, id.Role)

	_, err = mgr.Authenticate(ctx, "old", "Secret")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("admin123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.True(t, VerifyPassword(hash, "admin123"))
	assert.False(t, VerifyPassword(hash, "admin124"))

	legacy := LegacyDigest("admin123")
	assert.Len(t, legacy, 64)
	assert.True(t, VerifyPassword(legacy, "admin123"))
	assert.False(t, VerifyPassword(legacy, "admin12"))

	assert.False(t, VerifyPassword("", "admin123"))
}

func TestRegisterStudent(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	auth := mgr.Auth()

	id, err := auth.RegisterStudent(ctx, admin, "Alice Smith", "alice", "pw")
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = auth.RegisterStudent(ctx, admin, "Another Alice", "alice", "pw2")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = auth.RegisterStudent(ctx, admin, "", "bob", "pw")
	assert.ErrorIs(t, err, ErrInput)

	student, err := mgr.Authenticate(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, student.Role)

	_, err = auth.RegisterStudent(ctx, student, "Bob Jones", "bob", "pw")
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := mgr.Store().FindUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", stored.PasswordHash)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	created, err := mgr.Auth().Bootstrap(ctx, testSeed)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = mgr.Auth().Bootstrap(ctx, AdminSeed{Name: "Root", Login: "root", Password: "x"})
	require.NoError(t, err)
	assert.False(t, created, "an admin already exists")

	_, err = mgr.Store().FindUserByLogin(ctx, "root")
	assert.ErrorIs(t, err, ErrNotFound)
}

package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = AdminSeed{Name: "Administrator", Login: "admin", Password: "admin123"}

var fixedDay = time.Date(2024, time.May, 4, 15, 30, 0, 0, time.UTC)

func newManager(t *testing.T) *LibraryManager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := NewLibraryManager(context.Background(), ManagerConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(dir, "lib.db"),
		Admin:  testSeed,
		Clock:  func() time.Time { return fixedDay },
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func loginAdmin(t *testing.T, mgr *LibraryManager) UserIdentity {
	t.Helper()
	admin, err := mgr.Authenticate(context.Background(), testSeed.Login, testSeed.Password)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, admin.Role)
	return admin
}

// newStudent registers a student through the admin and logs them in.
func newStudent(t *testing.T, mgr *LibraryManager, name, login string) UserIdentity {
	t.Helper()
	ctx := context.Background()
	_, err := mgr.Auth().RegisterStudent(ctx, loginAdmin(t, mgr), name, login, "pw-"+login)
	require.NoError(t, err)
	student, err := mgr.Authenticate(ctx, login, "pw-"+login)
	require.NoError(t, err)
	return student
}

func TestNewLibraryManagerSeedsAdminOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	cfg := ManagerConfig{Driver: DriverSQLite, DSN: path, Admin: testSeed}

	first, err := NewLibraryManager(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, first.AdminCreated())
	require.NoError(t, first.Close())

	second, err := NewLibraryManager(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Close()
	assert.False(t, second.AdminCreated())

	admins, err := second.Store().CountUsers(context.Background(), RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestNewLibraryManagerRejectsBadDriver(t *testing.T) {
	_, err := NewLibraryManager(context.Background(), ManagerConfig{Driver: "nope", DSN: "x", Admin: testSeed})
	assert.Error(t, err)
}

func TestNewLibraryManagerRequiresSeed(t *testing.T) {
	_, err := NewLibraryManager(context.Background(), ManagerConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "lib.db"),
	})
	assert.ErrorIs(t, err, ErrInput)
}

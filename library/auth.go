package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	logMsgAuthFailed    = "authentication failed"
	logMsgAuthenticated = "user authenticated"
	logMsgStudentAdded  = "student registered"
	logMsgAdminSeeded   = "default admin created"
	logMsgAdminExists   = "admin account already exists"
	logAttrLogin        = "login"
	logAttrRole         = "role"
	logAttrUserID       = "user_id"

	dummyPasswordForTiming = "library-catalog-timing-equaliser"
)

// AdminSeed holds the well-known administrator created on first start.
type AdminSeed struct {
	Name     string
	Login    string
	Password string
}

// AuthGate verifies credentials and manages accounts.
type AuthGate struct {
	store  Store
	logger Logger

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption configures an AuthGate.
type AuthOption func(*AuthGate)

// WithAuthLogger sets the logger for the AuthGate.
func WithAuthLogger(logger Logger) AuthOption {
	return func(g *AuthGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewAuthGate creates an AuthGate reading users from store.
func NewAuthGate(store Store, options ...AuthOption) *AuthGate {
	g := &AuthGate{store: store, logger: discardLogger()}
	for _, option := range options {
		option(g)
	}
	return g
}

// Authenticate resolves login and password to an identity. Unknown logins and
// wrong passwords both yield ErrAuthFailed.
func (g *AuthGate) Authenticate(ctx context.Context, login, password string) (UserIdentity, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return UserIdentity{}, inputError("username and password are required")
	}

	user, err := g.store.FindUserByLogin(ctx, login)
	switch {
	case errors.Is(err, ErrNotFound):
		// Burn the same bcrypt work so response time does not reveal the miss.
		VerifyPassword(g.timingHash(), password)
		g.logger.Warn(logMsgAuthFailed, logAttrLogin, login)
		return UserIdentity{}, ErrAuthFailed
	case err != nil:
		return UserIdentity{}, persistenceError("find user", err)
	}

	// Login names are matched case-sensitively even on collations that are not.
	if user.Login != login || !VerifyPassword(user.PasswordHash, password) {
		g.logger.Warn(logMsgAuthFailed, logAttrLogin, login)
		return UserIdentity{}, ErrAuthFailed
	}

	g.logger.Debug(logMsgAuthenticated, logAttrLogin, login, logAttrRole, user.Role)
	return user.Identity(), nil
}

func (g *AuthGate) timingHash() string {
	g.dummyOnce.Do(func() {
		g.dummyHash, _ = HashPassword(dummyPasswordForTiming)
	})
	return g.dummyHash
}

// RegisterStudent creates a student account. Only admins may call it.
func (g *AuthGate) RegisterStudent(ctx context.Context, caller UserIdentity, name, login, password string) (int64, error) {
	if !caller.IsAdmin() {
		return 0, fmt.Errorf("register student: %w", ErrForbidden)
	}
	name, login = strings.TrimSpace(name), strings.TrimSpace(login)
	if name == "" || login == "" || password == "" {
		return 0, inputError("name, username and password are required")
	}

	digest, err := HashPassword(password)
	if err != nil {
		return 0, err
	}

	var id int64
	err = g.store.WithTx(ctx, func(s Store) error {
		if _, err := s.FindUserByLogin(ctx, login); err == nil {
			return fmt.Errorf("login %q: %w", login, ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		newID, err := s.InsertUser(ctx, name, login, digest, RoleStudent)
		id = newID
		return err
	})
	if err != nil {
		return 0, persistenceError("register student", err)
	}

	g.logger.Info(logMsgStudentAdded, logAttrLogin, login, logAttrUserID, id)
	return id, nil
}

// Bootstrap creates the default admin when no admin exists yet and reports
// whether it did. Running it again is a no-op.
func (g *AuthGate) Bootstrap(ctx context.Context, seed AdminSeed) (bool, error) {
	seed.Name, seed.Login = strings.TrimSpace(seed.Name), strings.TrimSpace(seed.Login)
	if seed.Name == "" || seed.Login == "" || seed.Password == "" {
		return false, inputError("default admin name, username and password are required")
	}

	created := false
	err := g.store.WithTx(ctx, func(s Store) error {
		admins, err := s.CountUsers(ctx, RoleAdmin)
		if err != nil {
			return err
		}
		if admins > 0 {
			return nil
		}
		digest, err := HashPassword(seed.Password)
		if err != nil {
			return err
		}
		if _, err := s.InsertUser(ctx, seed.Name, seed.Login, digest, RoleAdmin); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, persistenceError("seed admin", err)
	}

	if created {
		g.logger.Info(logMsgAdminSeeded, logAttrLogin, seed.Login)
	} else {
		g.logger.Debug(logMsgAdminExists)
	}
	return created, nil
}

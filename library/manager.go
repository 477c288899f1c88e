package library

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ManagerConfig describes how to open a LibraryManager.
type ManagerConfig struct {
	Driver string
	DSN    string
	Admin  AdminSeed
	Logger *slog.Logger
	// Clock overrides time.Now for lending dates.
	Clock func() time.Time
}

// LibraryManager is a thin façade over the store, AuthGate and LendingCatalog,
// keeping CLI code simple.
type LibraryManager struct {
	db      *Database
	auth    *AuthGate
	catalog *LendingCatalog
	logger  *slog.Logger

	adminCreated bool
}

// NewLibraryManager opens (or creates) the database, ensures the schema exists
// and seeds the default admin when there is none. Any failure here is fatal
// for the caller.
func NewLibraryManager(ctx context.Context, cfg ManagerConfig) (*LibraryManager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := NewDatabase(cfg.Driver, cfg.DSN, WithSQLLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	lm := &LibraryManager{
		db:      db,
		auth:    NewAuthGate(db, WithAuthLogger(logger)),
		catalog: NewLendingCatalog(db, WithCatalogLogger(logger), WithClock(cfg.Clock)),
		logger:  logger,
	}

	if lm.adminCreated, err = lm.auth.Bootstrap(ctx, cfg.Admin); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// AdminCreated reports whether this start seeded the default admin.
func (lm *LibraryManager) AdminCreated() bool { return lm.adminCreated }

// Authenticate resolves credentials to an identity.
func (lm *LibraryManager) Authenticate(ctx context.Context, login, password string) (UserIdentity, error) {
	return lm.auth.Authenticate(ctx, login, password)
}

func (lm *LibraryManager) Auth() *AuthGate          { return lm.auth }
func (lm *LibraryManager) Catalog() *LendingCatalog { return lm.catalog }
func (lm *LibraryManager) Store() Store             { return lm.db }

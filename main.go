package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"library-catalog/config"
	"library-catalog/library"
)

// app carries what every subcommand needs once the root has been set up.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	mgr    *library.LibraryManager

	driver    string
	dsn       string
	logLevel  string
	logFormat string
	login     string
	asJSON    bool
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library catalog manager for administrators and students",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShell(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.driver, "driver", "", "database driver: sqlite3, postgres, pgx or mysql (env LIBRARY_DB_DRIVER)")
	pf.StringVar(&a.dsn, "db", "", "database file or DSN (env LIBRARY_DB_DSN)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (env LIBRARY_LOG_LEVEL)")
	pf.StringVar(&a.logFormat, "log-format", "", "text or json (env LIBRARY_LOG_FORMAT)")

	root.AddCommand(
		newShellCmd(a),
		newInitCmd(a),
		newBooksCmd(a),
		newHistoryCmd(a),
		newStudentsCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and opens the catalog.
// Schema or bootstrap failures abort before any prompt is shown.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.DBDriver = a.driver
	}
	if flags.Changed("db") {
		cfg.DBDSN = a.dsn
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger()

	mgr, err := library.NewLibraryManager(cmd.Context(), library.ManagerConfig{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Admin: library.AdminSeed{
			Name:     cfg.AdminName,
			Login:    cfg.AdminLogin,
			Password: cfg.AdminPassword,
		},
		Logger: a.logger,
	})
	if err != nil {
		a.logger.Error("database initialization failed", "error", err)
		return err
	}
	a.mgr = mgr

	if mgr.AdminCreated() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Default admin created: username=%s password=%s\n", cfg.AdminLogin, cfg.AdminPassword)
	}
	return nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
}

// identity authenticates the --login user for one-shot commands. The password
// comes from LIBRARY_PASSWORD or a masked prompt.
func (a *app) identity(ctx context.Context, cmd *cobra.Command) (library.UserIdentity, error) {
	login := a.login
	if login == "" {
		return library.UserIdentity{}, fmt.Errorf("--login is required")
	}
	password := os.Getenv("LIBRARY_PASSWORD")
	if password == "" {
		var err error
		if password, err = readPassword(cmd.ErrOrStderr(), fmt.Sprintf("Password for %s: ", login)); err != nil {
			return library.UserIdentity{}, fmt.Errorf("failed to read password: %w", err)
		}
	}
	return a.mgr.Authenticate(ctx, login, password)
}

package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/config"
	"library-catalog/library"
)

func main() {
	if err := newImportCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var skipHeader bool
	cmd := &cobra.Command{
		Use:          "import_books <file.csv>",
		Short:        "Bulk-add books from a title,author CSV file as the configured admin",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			manager, err := library.NewLibraryManager(cmd.Context(), library.ManagerConfig{
				Driver: cfg.DBDriver,
				DSN:    cfg.DBDSN,
				Admin: library.AdminSeed{
					Name:     cfg.AdminName,
					Login:    cfg.AdminLogin,
					Password: cfg.AdminPassword,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			admin, err := manager.Authenticate(cmd.Context(), cfg.AdminLogin, cfg.AdminPassword)
			if err != nil {
				return fmt.Errorf("authenticate %s: %w", cfg.AdminLogin, err)
			}

			ok, failed, err := importBooks(cmd.Context(), manager, admin, f, skipHeader, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nImport complete!\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully imported: %d books\n", ok)
			fmt.Fprintf(cmd.OutOrStdout(), "Errors: %d\n", failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&skipHeader, "header", false, "skip the first row")
	return cmd
}

// importBooks adds one copy per title,author row. Rows that fail are reported
// and counted; a malformed CSV stops the import.
func importBooks(ctx context.Context, mgr *library.LibraryManager, admin library.UserIdentity, r io.Reader, skipHeader bool, out io.Writer) (ok, failed int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ok, failed, nil
		}
		if err != nil {
			return ok, failed, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && skipHeader {
			continue
		}

		title, author := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		fmt.Fprintf(out, "Importing: %s by %s... ", title, author)

		res, err := mgr.Dispatch(ctx, admin, library.Request{Op: library.OpAddBook, Title: title, Author: author})
		if err != nil {
			fmt.Fprintf(out, "ERROR - line %d: %v\n", line, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", res.ID)
		ok++
	}
}

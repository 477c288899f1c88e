package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-catalog/library"
)

const dateLayout = "2006-01-02"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema and seed the default admin, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.mgr.AdminCreated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Database initialized; default admin created.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Database already initialized.")
			}
			return nil
		},
	}
}

func newBooksCmd(a *app) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the catalog, or search it with --query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := library.Request{Op: library.OpListBooks}
			if cmd.Flags().Changed("query") {
				req = library.Request{Op: library.OpSearchBooks, Query: query}
			}
			res, err := a.dispatch(cmd, req)
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Books)
			}
			printBooks(cmd.OutOrStdout(), res.Books, "No books found.")
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "case-insensitive substring of title or author")
	a.identityFlags(cmd)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the borrow history, newest first (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.dispatch(cmd, library.Request{Op: library.OpListHistory})
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(cmd.OutOrStdout(), res.History)
			}
			printHistory(cmd.OutOrStdout(), res.History)
			return nil
		},
	}
	a.identityFlags(cmd)
	return cmd
}

func newStudentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "students",
		Short: "List registered students (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.dispatch(cmd, library.Request{Op: library.OpListStudents})
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Users)
			}
			printStudents(cmd.OutOrStdout(), res.Users)
			return nil
		},
	}
	a.identityFlags(cmd)
	return cmd
}

func (a *app) identityFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.login, "login", "", "username to authenticate as (password from LIBRARY_PASSWORD or prompt)")
	cmd.Flags().BoolVar(&a.asJSON, "json", false, "print JSON instead of a table")
}

func (a *app) dispatch(cmd *cobra.Command, req library.Request) (library.Result, error) {
	caller, err := a.identity(cmd.Context(), cmd)
	if err != nil {
		return library.Result{}, err
	}
	res, err := a.mgr.Dispatch(cmd.Context(), caller, req)
	if err != nil {
		return res, errors.New(describeError(err))
	}
	return res, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBooks(w io.Writer, books []*library.Book, empty string) {
	if len(books) == 0 {
		fmt.Fprintln(w, empty)
		return
	}

	fmt.Fprintf(w, "%-5s %-30s %-25s %-10s %-20s %s\n", "ID", "Title", "Author", "Status", "Issued To", "Issued On")
	fmt.Fprintln(w, strings.Repeat("-", 105))
	for _, b := range books {
		issuedOn := "-"
		if b.IssuedOn != nil {
			issuedOn = b.IssuedOn.Format(dateLayout)
		}
		borrower := b.Borrower()
		if borrower == "" {
			borrower = "-"
		}
		fmt.Fprintf(w, "%-5d %-30s %-25s %-10s %-20s %s\n",
			b.ID,
			truncateString(b.Title, 30),
			truncateString(b.Author, 25),
			b.Status,
			truncateString(borrower, 20),
			issuedOn)
	}
}

func printStudents(w io.Writer, users []*library.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No students registered.")
		return
	}

	fmt.Fprintf(w, "%-5s %-30s %s\n", "ID", "Name", "Username")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, u := range users {
		fmt.Fprintf(w, "%-5d %-30s %s\n", u.ID, truncateString(u.Name, 30), u.Login)
	}
}

func printHistory(w io.Writer, records []*library.BorrowRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No borrow history.")
		return
	}

	fmt.Fprintf(w, "%-20s %-30s %-25s %-10s %s\n", "Student", "Title", "Author", "Issued On", "Returned On")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range records {
		returned := "Not returned"
		if r.ReturnedOn != nil {
			returned = r.ReturnedOn.Format(dateLayout)
		}
		fmt.Fprintf(w, "%-20s %-30s %-25s %-10s %s\n",
			truncateString(r.StudentName, 20),
			truncateString(r.BookTitle, 30),
			truncateString(r.BookAuthor, 25),
			r.IssuedOn.Format(dateLayout),
			returned)
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

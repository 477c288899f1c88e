package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-catalog/library"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive login shell (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShell(cmd)
		},
	}
}

func (a *app) runShell(cmd *cobra.Command) error {
	sc := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	sh := &shell{
		mgr: a.mgr,
		sc:  sc,
		out: out,
		readPassword: func(prompt string) (string, error) {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return readPassword(out, prompt)
			}
			return scanLine(sc, out, prompt)
		},
	}
	return sh.run(cmd.Context())
}

// readPassword reads a password from the terminal with echo disabled.
func readPassword(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanLine(sc *bufio.Scanner, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sc.Text(), nil
}

type shell struct {
	mgr          *library.LibraryManager
	sc           *bufio.Scanner
	out          io.Writer
	readPassword func(prompt string) (string, error)
}

type sessionEnd int

const (
	sessionLogout sessionEnd = iota
	sessionExit
)

func (s *shell) run(ctx context.Context) error {
	fmt.Fprintln(s.out, "Welcome to the Library Management System!")
	fmt.Fprintln(s.out, "Log in to continue, or type 'exit' as the username to quit.")

	for {
		caller, err := s.login(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "Login failed: %s\n", describeError(err))
			continue
		}

		if s.session(ctx, caller) == sessionExit {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		fmt.Fprintln(s.out, "Logged out.")
	}
}

// login prompts for credentials. io.EOF means the user wants to leave.
func (s *shell) login(ctx context.Context) (library.UserIdentity, error) {
	username, err := scanLine(s.sc, s.out, "\nUsername: ")
	if err != nil {
		return library.UserIdentity{}, io.EOF
	}
	username = strings.TrimSpace(username)
	if username == "exit" {
		return library.UserIdentity{}, io.EOF
	}

	password, err := s.readPassword("Password: ")
	if err != nil {
		return library.UserIdentity{}, io.EOF
	}
	return s.mgr.Authenticate(ctx, username, password)
}

func (s *shell) printMenu(caller library.UserIdentity) {
	fmt.Fprintf(s.out, "\nLogged in as %s (%s). Available commands:\n", caller.Name, caller.Role)
	for _, op := range library.OpsFor(caller.Role) {
		fmt.Fprintf(s.out, "  %s\n", op)
	}
	fmt.Fprintln(s.out, "  help")
	fmt.Fprintln(s.out, "  logout")
	fmt.Fprintln(s.out, "  exit")
}

func (s *shell) session(ctx context.Context, caller library.UserIdentity) sessionEnd {
	s.printMenu(caller)
	for {
		line, err := scanLine(s.sc, s.out, fmt.Sprintf("\n%s> ", caller.Login))
		if err != nil {
			return sessionExit
		}
		cmd := strings.TrimSpace(line)

		switch cmd {
		case "":
			continue
		case "help":
			s.printMenu(caller)
			continue
		case "logout":
			return sessionLogout
		case "exit":
			return sessionExit
		}

		op, ok := library.ParseOp(cmd)
		if !ok {
			fmt.Fprintln(s.out, "Unknown command. Type 'help' to see the available commands.")
			continue
		}
		if !library.Allowed(op, caller.Role) {
			fmt.Fprintf(s.out, "'%s' is not available for %s accounts.\n", op, caller.Role)
			continue
		}

		req, err := s.request(op)
		if err != nil {
			return sessionExit
		}
		res, err := s.mgr.Dispatch(ctx, caller, req)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %s\n", describeError(err))
			continue
		}
		s.render(caller, res)
	}
}

// request collects the fields op needs from the user.
func (s *shell) request(op library.Op) (library.Request, error) {
	req := library.Request{Op: op}
	var err error
	switch op {
	case library.OpAddBook, library.OpRemoveBook, library.OpIssueBook, library.OpReturnBook:
		if req.Title, err = scanLine(s.sc, s.out, "Title: "); err != nil {
			return req, err
		}
		req.Author, err = scanLine(s.sc, s.out, "Author: ")
	case library.OpSearchBooks:
		req.Query, err = scanLine(s.sc, s.out, "Search (title or author): ")
	case library.OpRegisterStudent:
		if req.Name, err = scanLine(s.sc, s.out, "Full name: "); err != nil {
			return req, err
		}
		if req.Login, err = scanLine(s.sc, s.out, "Username: "); err != nil {
			return req, err
		}
		req.Password, err = s.readPassword(fmt.Sprintf("Password for %s: ", strings.TrimSpace(req.Login)))
	}
	return req, err
}

func (s *shell) render(caller library.UserIdentity, res library.Result) {
	switch res.Op {
	case library.OpListBooks:
		printBooks(s.out, res.Books, "No books in library.")
	case library.OpSearchBooks:
		printBooks(s.out, res.Books, "No books matched your search.")
	case library.OpAddBook:
		fmt.Fprintf(s.out, "Added book ID %d\n", res.ID)
	case library.OpRemoveBook:
		fmt.Fprintf(s.out, "Deleted %d book(s)\n", res.Removed)
	case library.OpIssueBook:
		fmt.Fprintf(s.out, "Book '%s' issued to %s on %s\n", res.Book.Title, caller.Name, res.Book.IssuedOn.Format(dateLayout))
	case library.OpReturnBook:
		fmt.Fprintf(s.out, "Book '%s' returned\n", res.Book.Title)
	case library.OpRegisterStudent:
		fmt.Fprintf(s.out, "Registered student with ID %d\n", res.ID)
	case library.OpListStudents:
		printStudents(s.out, res.Users)
	case library.OpListHistory:
		printHistory(s.out, res.History)
	}
}

// describeError renders err for the user. Store failures stay generic; the
// details are in the log.
func describeError(err error) string {
	switch {
	case errors.Is(err, library.ErrPersistence):
		return "the operation could not be completed, please try again"
	case errors.Is(err, library.ErrAuthFailed):
		return library.ErrAuthFailed.Error()
	default:
		return err.Error()
	}
}

package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	logMsgBookAdded       = "book added"
	logMsgBooksRemoved    = "books removed"
	logMsgBookIssued      = "book issued"
	logMsgBookReturned    = "book returned"
	logMsgHistoryNotFound = "book returned but no open borrow record matched"
	logAttrBookID         = "book_id"
	logAttrTitle          = "title"
	logAttrAuthor         = "author"
	logAttrBorrower       = "borrower"
	logAttrRemoved        = "removed"
)

// LendingCatalog owns the catalog and lending rules. Every call receives the
// caller's identity; nothing about the session is kept between calls.
type LendingCatalog struct {
	store  Store
	logger Logger
	now    func() time.Time
}

// CatalogOption configures a LendingCatalog.
type CatalogOption func(*LendingCatalog)

// WithCatalogLogger sets the logger for the LendingCatalog.
func WithCatalogLogger(logger Logger) CatalogOption {
	return func(c *LendingCatalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now as the source of issue and return dates.
func WithClock(now func() time.Time) CatalogOption {
	return func(c *LendingCatalog) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLendingCatalog creates a LendingCatalog on top of store.
func NewLendingCatalog(store Store, options ...CatalogOption) *LendingCatalog {
	c := &LendingCatalog{store: store, logger: discardLogger(), now: time.Now}
	for _, option := range options {
		option(c)
	}
	return c
}

// today is the calendar date of the clock, as a UTC midnight.
func (c *LendingCatalog) today() time.Time {
	y, m, d := c.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func requireRole(caller UserIdentity, role Role, action string) error {
	if caller.Role != role {
		return fmt.Errorf("%s requires role %s: %w", action, role, ErrForbidden)
	}
	return nil
}

func requireSignedIn(caller UserIdentity, action string) error {
	if caller.Role != RoleAdmin && caller.Role != RoleStudent {
		return fmt.Errorf("%s requires a signed-in user: %w", action, ErrForbidden)
	}
	return nil
}

func titleAuthor(title, author string) (string, string, error) {
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" || author == "" {
		return "", "", inputError("title and author are required")
	}
	return title, author, nil
}

// AddBook inserts a new available copy. Identical title/author pairs may coexist.
func (c *LendingCatalog) AddBook(ctx context.Context, caller UserIdentity, title, author string) (int64, error) {
	if err := requireRole(caller, RoleAdmin, "add book"); err != nil {
		return 0, err
	}
	title, author, err := titleAuthor(title, author)
	if err != nil {
		return 0, err
	}

	id, err := c.store.InsertBook(ctx, title, author)
	if err != nil {
		return 0, persistenceError("add book", err)
	}
	c.logger.Info(logMsgBookAdded, logAttrBookID, id, logAttrTitle, title, logAttrAuthor, author)
	return id, nil
}

// RemoveBook deletes every copy matching title and author and returns how many
// were removed.
func (c *LendingCatalog) RemoveBook(ctx context.Context, caller UserIdentity, title, author string) (int64, error) {
	if err := requireRole(caller, RoleAdmin, "remove book"); err != nil {
		return 0, err
	}
	title, author, err := titleAuthor(title, author)
	if err != nil {
		return 0, err
	}

	n, err := c.store.DeleteBooks(ctx, title, author)
	if err != nil {
		return 0, persistenceError("remove book", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("no book with that title and author: %w", ErrNotFound)
	}
	c.logger.Info(logMsgBooksRemoved, logAttrTitle, title, logAttrAuthor, author, logAttrRemoved, n)
	return n, nil
}

// IssueBook lends the lowest-id available copy of title/author to the caller
// and opens a borrow record, both in one transaction.
func (c *LendingCatalog) IssueBook(ctx context.Context, caller UserIdentity, title, author string) (*Book, error) {
	if err := requireRole(caller, RoleStudent, "issue book"); err != nil {
		return nil, err
	}
	title, author, err := titleAuthor(title, author)
	if err != nil {
		return nil, err
	}

	borrower := caller.Name
	day := c.today()
	var issued *Book

	err = c.store.WithTx(ctx, func(s Store) error {
		copies, err := s.FindBooksByTitleAuthor(ctx, title, author)
		if err != nil {
			return err
		}
		if len(copies) == 0 {
			return fmt.Errorf("book %q by %q: %w", title, author, ErrNotFound)
		}

		var target *Book
		for _, b := range copies {
			if b.Available() {
				target = b
				break
			}
		}
		if target == nil {
			return fmt.Errorf("book %q by %q: %w", title, author, ErrNotAvailable)
		}

		n, err := s.UpdateBookStatus(ctx, BookUpdate{
			ID:       target.ID,
			From:     StatusAvailable,
			To:       StatusIssued,
			IssuedTo: &borrower,
			IssuedOn: &day,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			// Someone else issued it between our read and the update.
			return fmt.Errorf("book %q by %q: %w", title, author, ErrNotAvailable)
		}

		if _, err := s.InsertHistory(ctx, target.Title, target.Author, borrower, day); err != nil {
			return err
		}

		target.Status = StatusIssued
		target.IssuedTo = &borrower
		target.IssuedOn = &day
		issued = target
		return nil
	})
	if err != nil {
		return nil, persistenceError("issue book", err)
	}

	c.logger.Info(logMsgBookIssued, logAttrBookID, issued.ID, logAttrTitle, title, logAttrBorrower, borrower)
	return issued, nil
}

// ReturnBook gives back the copy of title/author issued to the caller and
// closes the newest open borrow record. A missing borrow record is logged, not
// treated as a failure: the book state wins.
func (c *LendingCatalog) ReturnBook(ctx context.Context, caller UserIdentity, title, author string) (*Book, error) {
	if err := requireRole(caller, RoleStudent, "return book"); err != nil {
		return nil, err
	}
	title, author, err := titleAuthor(title, author)
	if err != nil {
		return nil, err
	}

	borrower := caller.Name
	day := c.today()
	errNoMatch := fmt.Errorf("no matching issued book: %w", ErrNotFound)
	var (
		returned *Book
		closed   int64
	)

	err = c.store.WithTx(ctx, func(s Store) error {
		b, err := s.FindIssuedBook(ctx, title, author, borrower)
		if errors.Is(err, ErrNotFound) {
			return errNoMatch
		}
		if err != nil {
			return err
		}

		n, err := s.UpdateBookStatus(ctx, BookUpdate{ID: b.ID, From: StatusIssued, To: StatusAvailable})
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoMatch
		}

		if closed, err = s.CloseLatestOpenHistory(ctx, title, author, borrower, day); err != nil {
			return err
		}

		b.Status = StatusAvailable
		b.IssuedTo = nil
		b.IssuedOn = nil
		returned = b
		return nil
	})
	if err != nil {
		return nil, persistenceError("return book", err)
	}

	if closed == 0 {
		c.logger.Warn(logMsgHistoryNotFound, logAttrBookID, returned.ID, logAttrTitle, title, logAttrBorrower, borrower)
	}
	c.logger.Info(logMsgBookReturned, logAttrBookID, returned.ID, logAttrTitle, title, logAttrBorrower, borrower)
	return returned, nil
}

// SearchBooks returns copies whose title or author contains query, ignoring case.
func (c *LendingCatalog) SearchBooks(ctx context.Context, caller UserIdentity, query string) ([]*Book, error) {
	if err := requireSignedIn(caller, "search books"); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, inputError("search query is required")
	}
	books, err := c.store.SearchBooks(ctx, query)
	if err != nil {
		return nil, persistenceError("search books", err)
	}
	return books, nil
}

// ListBooks returns the whole catalog.
func (c *LendingCatalog) ListBooks(ctx context.Context, caller UserIdentity) ([]*Book, error) {
	if err := requireSignedIn(caller, "list books"); err != nil {
		return nil, err
	}
	books, err := c.store.ListBooks(ctx)
	if err != nil {
		return nil, persistenceError("list books", err)
	}
	return books, nil
}

// ListBorrowHistory returns every borrow record, newest first.
func (c *LendingCatalog) ListBorrowHistory(ctx context.Context, caller UserIdentity) ([]*BorrowRecord, error) {
	if err := requireRole(caller, RoleAdmin, "list borrow history"); err != nil {
		return nil, err
	}
	records, err := c.store.ListHistory(ctx)
	if err != nil {
		return nil, persistenceError("list borrow history", err)
	}
	return records, nil
}

// ListStudents returns all student accounts.
func (c *LendingCatalog) ListStudents(ctx context.Context, caller UserIdentity) ([]*User, error) {
	if err := requireRole(caller, RoleAdmin, "list students"); err != nil {
		return nil, err
	}
	users, err := c.store.ListUsers(ctx, RoleStudent)
	if err != nil {
		return nil, persistenceError("list students", err)
	}
	return users, nil
}

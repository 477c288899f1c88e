package library

import (
	"context"
	"time"
)

// BookUpdate moves one book row from the From status to the To status. The
// row is only touched while it still has status From.
type BookUpdate struct {
	ID       int64
	From     BookStatus
	To       BookStatus
	IssuedTo *string
	IssuedOn *time.Time
}

// Store is the persistence contract consumed by AuthGate and LendingCatalog.
// Lookups that match nothing return ErrNotFound.
type Store interface {
	FindUserByLogin(ctx context.Context, login string) (*User, error)
	InsertUser(ctx context.Context, name, login, passwordDigest string, role Role) (int64, error)
	ListUsers(ctx context.Context, role Role) ([]*User, error)
	CountUsers(ctx context.Context, role Role) (int, error)

	InsertBook(ctx context.Context, title, author string) (int64, error)
	DeleteBooks(ctx context.Context, title, author string) (int64, error)
	// FindBookByTitleAuthor returns the lowest-id copy.
	FindBookByTitleAuthor(ctx context.Context, title, author string) (*Book, error)
	// FindBooksByTitleAuthor returns every copy ordered by id.
	FindBooksByTitleAuthor(ctx context.Context, title, author string) ([]*Book, error)
	// FindIssuedBook returns the lowest-id copy issued to borrower.
	FindIssuedBook(ctx context.Context, title, author, borrower string) (*Book, error)
	UpdateBookStatus(ctx context.Context, u BookUpdate) (int64, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	SearchBooks(ctx context.Context, pattern string) ([]*Book, error)

	InsertHistory(ctx context.Context, title, author, student string, issuedOn time.Time) (int64, error)
	CloseLatestOpenHistory(ctx context.Context, title, author, student string, returnedOn time.Time) (int64, error)
	// ListHistory returns records newest first.
	ListHistory(ctx context.Context) ([]*BorrowRecord, error)

	// WithTx runs fn inside one transaction. fn must use the Store it is given.
	// Returning an error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

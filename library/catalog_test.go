package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBookAllowsDuplicates(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)

	id1, err := mgr.Catalog().AddBook(ctx, admin, "Dune", "Herbert")
	require.NoError(t, err)
	id2, err := mgr.Catalog().AddBook(ctx, admin, "  Dune ", "Herbert  ")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	books, err := mgr.Catalog().ListBooks(ctx, admin)
	require.NoError(t, err)
	require.Len(t, books, 2)
	for _, b := range books {
		assert.Equal(t, "Dune", b.Title)
		assert.Equal(t, StatusAvailable, b.Status)
	}
}

func TestAddBookValidation(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	student := newStudent(t, mgr, "Alice Smith", "alice")

	_, err := mgr.Catalog().AddBook(ctx, admin, "", "Herbert")
	assert.ErrorIs(t, err, ErrInput)
	_, err = mgr.Catalog().AddBook(ctx, admin, "Dune", "   ")
	assert.ErrorIs(t, err, ErrInput)
	_, err = mgr.Catalog().AddBook(ctx, student, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRemoveBook(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	c := mgr.Catalog()

	c.AddBook(ctx, admin, "Dune", "Herbert")
	c.AddBook(ctx, admin, "Dune", "Herbert")
	c.AddBook(ctx, admin, "Emma", "Austen")

	n, err := c.RemoveBook(ctx, admin, "Dune", "Herbert")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = mgr.Store().FindBookByTitleAuthor(ctx, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.RemoveBook(ctx, admin, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotFound)

	books, err := c.ListBooks(ctx, admin)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Emma", books[0].Title)
}

func TestIssueAndReturnRoundTrip(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	c := mgr.Catalog()

	_, err := c.AddBook(ctx, admin, "Dune", "Herbert")
	require.NoError(t, err)

	issued, err := c.IssueBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, issued.Status)
	assert.Equal(t, "Alice Smith", issued.Borrower())
	require.NotNil(t, issued.IssuedOn)
	assert.Equal(t, "2024-05-04", issued.IssuedOn.Format("2006-01-02"))

	history, err := c.ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Alice Smith", history[0].StudentName)
	assert.True(t, history[0].Open())

	returned, err := c.ReturnBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)
	assert.True(t, returned.Available())
	assert.Nil(t, returned.IssuedTo)
	assert.Nil(t, returned.IssuedOn)

	books, err := c.ListBooks(ctx, alice)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, StatusAvailable, books[0].Status)
	assert.Nil(t, books[0].IssuedTo)

	history, err = c.ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ReturnedOn)
	assert.Equal(t, "2024-05-04", history[0].ReturnedOn.Format("2006-01-02"))
}

func TestIssueBookErrors(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	bob := newStudent(t, mgr, "Bob Jones", "bob")
	c := mgr.Catalog()

	_, err := c.IssueBook(ctx, alice, "Missing", "Nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	c.AddBook(ctx, admin, "Dune", "Herbert")
	_, err = c.IssueBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)

	_, err = c.IssueBook(ctx, bob, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotAvailable)

	_, err = c.IssueBook(ctx, admin, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = c.IssueBook(ctx, alice, "", "Herbert")
	assert.ErrorIs(t, err, ErrInput)

	// The failed attempts must not leave history behind.
	history, err := c.ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIssuePicksLowestAvailableCopy(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	bob := newStudent(t, mgr, "Bob Jones", "bob")
	c := mgr.Catalog()

	first, _ := c.AddBook(ctx, admin, "Dune", "Herbert")
	second, _ := c.AddBook(ctx, admin, "Dune", "Herbert")

	b, err := c.IssueBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)
	assert.Equal(t, first, b.ID)

	b, err = c.IssueBook(ctx, bob, "Dune", "Herbert")
	require.NoError(t, err)
	assert.Equal(t, second, b.ID)

	_, err = c.IssueBook(ctx, alice, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestReturnBookRequiresBorrower(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	bob := newStudent(t, mgr, "Bob Jones", "bob")
	c := mgr.Catalog()

	c.AddBook(ctx, admin, "Dune", "Herbert")

	_, err := c.ReturnBook(ctx, alice, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotFound, "an available book cannot be returned")

	_, err = c.IssueBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)

	_, err = c.ReturnBook(ctx, bob, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrNotFound, "only the borrower may return")

	books, _ := c.ListBooks(ctx, alice)
	require.Len(t, books, 1)
	assert.Equal(t, StatusIssued, books[0].Status)

	_, err = c.ReturnBook(ctx, admin, "Dune", "Herbert")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReturnWithoutOpenHistoryStillSucceeds(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")

	id, err := mgr.Catalog().AddBook(ctx, admin, "Dune", "Herbert")
	require.NoError(t, err)

	// Issue behind the catalog's back so no borrow record exists.
	name, when := alice.Name, fixedDay
	n, err := mgr.Store().UpdateBookStatus(ctx, BookUpdate{ID: id, From: StatusAvailable, To: StatusIssued, IssuedTo: &name, IssuedOn: &when})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	b, err := mgr.Catalog().ReturnBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)
	assert.True(t, b.Available())

	history, err := mgr.Catalog().ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSearchBooks(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	c := mgr.Catalog()

	c.AddBook(ctx, admin, "The Hobbit", "J.R.R. Tolkien")
	c.AddBook(ctx, admin, "Emma", "Jane Austen")

	res, err := c.SearchBooks(ctx, alice, "HOBB")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "The Hobbit", res[0].Title)

	res, err = c.SearchBooks(ctx, admin, "austen")
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = c.SearchBooks(ctx, alice, "zzz")
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = c.SearchBooks(ctx, alice, "  ")
	assert.ErrorIs(t, err, ErrInput)

	_, err = c.SearchBooks(ctx, UserIdentity{}, "emma")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminOnlyListings(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	newStudent(t, mgr, "Bob Jones", "bob")
	c := mgr.Catalog()

	students, err := c.ListStudents(ctx, admin)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "alice", students[0].Login)
	assert.Equal(t, RoleStudent, students[1].Role)

	_, err = c.ListStudents(ctx, alice)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.ListBorrowHistory(ctx, alice)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHistoryIsNewestFirst(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	alice := newStudent(t, mgr, "Alice Smith", "alice")
	c := mgr.Catalog()

	c.AddBook(ctx, admin, "Dune", "Herbert")
	c.AddBook(ctx, admin, "Emma", "Austen")
	_, err := c.IssueBook(ctx, alice, "Dune", "Herbert")
	require.NoError(t, err)
	_, err = c.IssueBook(ctx, alice, "Emma", "Austen")
	require.NoError(t, err)

	history, err := c.ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Emma", history[0].BookTitle)
	assert.Equal(t, "Dune", history[1].BookTitle)
}

func TestConcurrentIssueLendsOnce(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	admin := loginAdmin(t, mgr)
	c := mgr.Catalog()
	_, err := c.AddBook(ctx, admin, "Dune", "Herbert")
	require.NoError(t, err)

	students := []UserIdentity{
		newStudent(t, mgr, "Alice Smith", "alice"),
		newStudent(t, mgr, "Bob Jones", "bob"),
		newStudent(t, mgr, "Carol White", "carol"),
		newStudent(t, mgr, "Dan Brown", "dan"),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for _, s := range students {
		wg.Add(1)
		go func(s UserIdentity) {
			defer wg.Done()
			_, err := c.IssueBook(ctx, s, "Dune", "Herbert")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrNotAvailable), "unexpected error: %v", err)
	}
	history, err := c.ListBorrowHistory(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCatalogUsesUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	c := NewLendingCatalog(nil, WithClock(func() time.Time {
		return time.Date(2024, time.May, 4, 23, 0, 0, 0, loc)
	}))
	assert.Equal(t, time.Date(2024, time.May, 4, 0, 0, 0, 0, time.UTC), c.today())
}

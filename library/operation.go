package library

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Op is one user-facing operation. The set is closed; every Op has exactly
// one handler.
type Op int

const (
	OpListBooks Op = iota + 1
	OpSearchBooks
	OpAddBook
	OpRemoveBook
	OpIssueBook
	OpReturnBook
	OpRegisterStudent
	OpListStudents
	OpListHistory
)

const (
	logMsgOpFailed    = "operation failed"
	logMsgOpCompleted = "operation completed"
	logAttrOp         = "op"
	logAttrOpID       = "op_id"
	logAttrDurationMS = "duration_ms"
	logAttrErr        = "error"
)

var opNames = map[Op]string{
	OpListBooks:       "list books",
	OpSearchBooks:     "search books",
	OpAddBook:         "add book",
	OpRemoveBook:      "remove book",
	OpIssueBook:       "issue book",
	OpReturnBook:      "return book",
	OpRegisterStudent: "register student",
	OpListStudents:    "list students",
	OpListHistory:     "borrow history",
}

// Menu order per role, as the dashboards present them.
var opsByRole = map[Role][]Op{
	RoleAdmin: {
		OpRegisterStudent, OpListStudents, OpAddBook, OpListBooks,
		OpSearchBooks, OpRemoveBook, OpListHistory,
	},
	RoleStudent: {
		OpListBooks, OpSearchBooks, OpIssueBook, OpReturnBook,
	},
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp maps a menu command such as "issue book" to its Op.
func ParseOp(s string) (Op, bool) {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	for op, name := range opNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// OpsFor lists the operations available to role in menu order.
func OpsFor(role Role) []Op {
	return slices.Clone(opsByRole[role])
}

// Allowed reports whether role may run op.
func Allowed(op Op, role Role) bool {
	return slices.Contains(opsByRole[role], op)
}

// Request carries the raw fields an operation reads. Unused fields are ignored.
type Request struct {
	Op       Op
	Title    string
	Author   string
	Query    string
	Name     string
	Login    string
	Password string
}

// Result carries whatever an operation produced.
type Result struct {
	Op      Op
	ID      int64
	Removed int64
	Book    *Book
	Books   []*Book
	Users   []*User
	History []*BorrowRecord
}

type opHandler func(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error)

var opHandlers = map[Op]opHandler{
	OpListBooks:       handleListBooks,
	OpSearchBooks:     handleSearchBooks,
	OpAddBook:         handleAddBook,
	OpRemoveBook:      handleRemoveBook,
	OpIssueBook:       handleIssueBook,
	OpReturnBook:      handleReturnBook,
	OpRegisterStudent: handleRegisterStudent,
	OpListStudents:    handleListStudents,
	OpListHistory:     handleListHistory,
}

// Dispatch runs req on behalf of caller. Operations outside the caller's role
// fail with ErrForbidden before touching the store.
func (lm *LibraryManager) Dispatch(ctx context.Context, caller UserIdentity, req Request) (Result, error) {
	handler, ok := opHandlers[req.Op]
	if !ok {
		return Result{}, inputError("unknown operation %v", req.Op)
	}
	if !Allowed(req.Op, caller.Role) {
		return Result{}, fmt.Errorf("%s: %w", req.Op, ErrForbidden)
	}

	log := lm.logger.With(logAttrOpID, uuid.NewString(), logAttrOp, req.Op.String(), logAttrLogin, caller.Login)
	start := time.Now()
	res, err := handler(ctx, lm, caller, req)
	res.Op = req.Op
	if err != nil {
		log.Warn(logMsgOpFailed, logAttrErr, err.Error())
		return res, err
	}
	log.Debug(logMsgOpCompleted, logAttrDurationMS, time.Since(start).Milliseconds())
	return res, nil
}

func handleListBooks(ctx context.Context, lm *LibraryManager, caller UserIdentity, _ Request) (Result, error) {
	books, err := lm.catalog.ListBooks(ctx, caller)
	return Result{Books: books}, err
}

func handleSearchBooks(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	books, err := lm.catalog.SearchBooks(ctx, caller, req.Query)
	return Result{Books: books}, err
}

func handleAddBook(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	id, err := lm.catalog.AddBook(ctx, caller, req.Title, req.Author)
	return Result{ID: id}, err
}

func handleRemoveBook(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	n, err := lm.catalog.RemoveBook(ctx, caller, req.Title, req.Author)
	return Result{Removed: n}, err
}

func handleIssueBook(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	b, err := lm.catalog.IssueBook(ctx, caller, req.Title, req.Author)
	return Result{Book: b}, err
}

func handleReturnBook(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	b, err := lm.catalog.ReturnBook(ctx, caller, req.Title, req.Author)
	return Result{Book: b}, err
}

func handleRegisterStudent(ctx context.Context, lm *LibraryManager, caller UserIdentity, req Request) (Result, error) {
	id, err := lm.auth.RegisterStudent(ctx, caller, req.Name, req.Login, req.Password)
	return Result{ID: id}, err
}

func handleListStudents(ctx context.Context, lm *LibraryManager, caller UserIdentity, _ Request) (Result, error) {
	users, err := lm.catalog.ListStudents(ctx, caller)
	return Result{Users: users}, err
}

func handleListHistory(ctx context.Context, lm *LibraryManager, caller UserIdentity, _ Request) (Result, error) {
	records, err := lm.catalog.ListBorrowHistory(ctx, caller)
	return Result{History: records}, err
}

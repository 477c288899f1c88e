package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverMySQL    = "mysql"
)

const (
	tableUsers   = "users"
	tableBooks   = "books"
	tableHistory = "borrow_history"
	tableMeta    = "meta"

	colID           = "id"
	colName         = "name"
	colUsername     = "username"
	colPasswordHash = "password_hash"
	colRole         = "role"
	colTitle        = "title"
	colAuthor       = "author"
	colStatus       = "status"
	colIssuedTo     = "issued_to"
	colIssuedOn     = "issued_on"
	colBookTitle    = "book_title"
	colBookAuthor   = "book_author"
	colStudentName  = "student_name"
	colReturnedOn   = "returned_on"
	colMetaKey      = "meta_key"
	colMetaValue    = "meta_value"

	metaSchemaVersion = "schema_version"

	pgUniqueViolation = "23505"
	myDuplicateEntry  = 1062

	logMsgSQL       = "executing sql"
	logMsgMigrated  = "schema migrated"
	logAttrQuery    = "query"
	logAttrArgCount = "arg_count"
	logAttrVersion  = "version"
	logAttrDriver   = "driver"
)

var (
	userColumns    = []any{colID, colName, colUsername, colPasswordHash, colRole}
	bookColumns    = []any{colID, colTitle, colAuthor, colStatus, colIssuedTo, colIssuedOn}
	historyColumns = []any{colID, colBookTitle, colBookAuthor, colStudentName, colIssuedOn, colReturnedOn}
)

// Logger receives structured log lines. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func discardLogger() Logger { return slog.New(slog.DiscardHandler) }

// Database implements Store over any of the supported SQL drivers.
type Database struct {
	db      *sqlx.DB
	q       sqlx.ExtContext // db, or the open transaction
	tx      *sqlx.Tx
	driver  string
	dialect goqu.DialectWrapper
	logger  Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithSQLLogger logs every generated statement at debug level.
func WithSQLLogger(logger Logger) DatabaseOption {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDatabase opens the database behind dsn, applies schema migrations and
// returns a ready Store. For sqlite3 the dsn is a file path.
func NewDatabase(driver, dsn string, options ...DatabaseOption) (*Database, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverSQLite:
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// DATE columns must come back as time.Time.
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	database := &Database{
		db:      db,
		q:       db,
		driver:  driver,
		dialect: goqu.Dialect(dialect),
		logger:  discardLogger(),
	}
	for _, option := range options {
		option(database)
	}

	if err := database.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres, DriverPGX:
		return "postgres", nil
	case DriverMySQL:
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

func sqliteDSN(path string) (string, error) {
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}
	// Transactions take the write lock at BEGIN so concurrent issues queue up
	// instead of failing on lock upgrade.
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path), nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'student' CHECK (role IN ('admin','student')),
            name TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'Available',
            issued_to TEXT,
            issued_on DATE
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_title TEXT NOT NULL,
            book_author TEXT NOT NULL,
            student_name TEXT NOT NULL,
            issued_on DATE NOT NULL,
            returned_on DATE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_books_title_author ON books(title, author);`,
		`CREATE INDEX IF NOT EXISTS idx_history_lookup ON borrow_history(book_title, book_author, student_name);`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(100) NOT NULL UNIQUE,
            password_hash VARCHAR(128) NOT NULL,
            role VARCHAR(16) NOT NULL DEFAULT 'student' CHECK (role IN ('admin','student')),
            name VARCHAR(100) NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id BIGSERIAL PRIMARY KEY,
            title VARCHAR(255) NOT NULL,
            author VARCHAR(255) NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'Available',
            issued_to VARCHAR(100),
            issued_on DATE
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_history (
            id BIGSERIAL PRIMARY KEY,
            book_title VARCHAR(255) NOT NULL,
            book_author VARCHAR(255) NOT NULL,
            student_name VARCHAR(100) NOT NULL,
            issued_on DATE NOT NULL,
            returned_on DATE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_books_title_author ON books(title, author);`,
		`CREATE INDEX IF NOT EXISTS idx_history_lookup ON borrow_history(book_title, book_author, student_name);`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS users (
            id BIGINT AUTO_INCREMENT PRIMARY KEY,
            username VARCHAR(100) NOT NULL UNIQUE,
            password_hash VARCHAR(128) NOT NULL,
            role ENUM('admin','student') NOT NULL DEFAULT 'student',
            name VARCHAR(100) NOT NULL
        ) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin;`,
		`CREATE TABLE IF NOT EXISTS books (
            id BIGINT AUTO_INCREMENT PRIMARY KEY,
            title VARCHAR(255) NOT NULL,
            author VARCHAR(255) NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'Available',
            issued_to VARCHAR(100),
            issued_on DATE,
            INDEX idx_books_title_author (title, author)
        ) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin;`,
		`CREATE TABLE IF NOT EXISTS borrow_history (
            id BIGINT AUTO_INCREMENT PRIMARY KEY,
            book_title VARCHAR(255) NOT NULL,
            book_author VARCHAR(255) NOT NULL,
            student_name VARCHAR(100) NOT NULL,
            issued_on DATE NOT NULL,
            returned_on DATE,
            INDEX idx_history_lookup (book_title, book_author, student_name)
        ) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin;`,
	},
}

func (d *Database) schemaStatements() []string {
	if d.driver == DriverPGX {
		return schemas[DriverPostgres]
	}
	return schemas[d.driver]
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// WAL lets readers proceed while a lending transaction writes.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (
        meta_key VARCHAR(64) PRIMARY KEY,
        meta_value VARCHAR(64) NOT NULL
    );`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	var current int
	_ = d.get(ctx, &current, d.dialect.From(tableMeta).
		Select(colMetaValue).
		Where(goqu.C(colMetaKey).Eq(metaSchemaVersion)))
	if current >= schemaVersion {
		return nil
	}

	return d.WithTx(ctx, func(s Store) error {
		tx := s.(*Database)
		for _, stmt := range d.schemaStatements() {
			if _, err := tx.q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		if _, err := tx.exec(ctx, tx.dialect.Delete(tableMeta).
			Where(goqu.C(colMetaKey).Eq(metaSchemaVersion))); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
		if _, err := tx.exec(ctx, tx.dialect.Insert(tableMeta).
			Rows(goqu.Record{colMetaKey: metaSchemaVersion, colMetaValue: fmt.Sprint(schemaVersion)})); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
		d.logger.Info(logMsgMigrated, logAttrVersion, schemaVersion, logAttrDriver, d.driver)
		return nil
	})
}

// ---------------------------------------------------------------------------
// Statement helpers
// ---------------------------------------------------------------------------

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (d *Database) render(b sqlBuilder) (string, []any, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	d.logger.Debug(logMsgSQL, logAttrQuery, query, logAttrArgCount, len(args))
	return query, args, nil
}

func (d *Database) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := d.render(ds.Prepared(true))
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, d.q, dest, query, args...)
}

func (d *Database) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := d.render(ds.Prepared(true))
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, d.q, dest, query, args...)
}

func (d *Database) exec(ctx context.Context, b any) (sql.Result, error) {
	var built sqlBuilder
	switch ds := b.(type) {
	case *goqu.InsertDataset:
		built = ds.Prepared(true)
	case *goqu.UpdateDataset:
		built = ds.Prepared(true)
	case *goqu.DeleteDataset:
		built = ds.Prepared(true)
	default:
		return nil, fmt.Errorf("build query: unsupported dataset %T", b)
	}
	query, args, err := d.render(built)
	if err != nil {
		return nil, err
	}
	return d.q.ExecContext(ctx, query, args...)
}

// insert returns the generated id. lib/pq has no LastInsertId, so postgres
// dialects use RETURNING instead.
func (d *Database) insert(ctx context.Context, ds *goqu.InsertDataset) (int64, error) {
	if d.driver == DriverPostgres || d.driver == DriverPGX {
		query, args, err := d.render(ds.Returning(goqu.C(colID)).Prepared(true))
		if err != nil {
			return 0, err
		}
		var id int64
		if err := sqlx.GetContext(ctx, d.q, &id, query, args...); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := d.exec(ctx, ds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// isUniqueViolation recognises duplicate-key errors from every supported driver.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == myDuplicateEntry
	}
	return false
}

// WithTx runs fn in a transaction. Nested calls reuse the open transaction.
func (d *Database) WithTx(ctx context.Context, fn func(Store) error) error {
	if d.tx != nil {
		return fn(d)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	scoped := *d
	scoped.q = tx
	scoped.tx = tx
	if err := fn(&scoped); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (d *Database) FindUserByLogin(ctx context.Context, login string) (*User, error) {
	var u User
	err := d.get(ctx, &u, d.dialect.From(tableUsers).
		Select(userColumns...).
		Where(goqu.C(colUsername).Eq(login)).
		Order(goqu.C(colID).Asc()).
		Limit(1))
	if err != nil {
		return nil, notFound(err, "user "+login)
	}
	return &u, nil
}

func (d *Database) InsertUser(ctx context.Context, name, login, passwordDigest string, role Role) (int64, error) {
	id, err := d.insert(ctx, d.dialect.Insert(tableUsers).Rows(goqu.Record{
		colName:         name,
		colUsername:     login,
		colPasswordHash: passwordDigest,
		colRole:         string(role),
	}))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("login %q: %w", login, ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

// ListUsers returns users with the given role; an empty role lists everyone.
func (d *Database) ListUsers(ctx context.Context, role Role) ([]*User, error) {
	ds := d.dialect.From(tableUsers).Select(userColumns...).Order(goqu.C(colID).Asc())
	if role != "" {
		ds = ds.Where(goqu.C(colRole).Eq(string(role)))
	}
	users := []*User{}
	if err := d.selectAll(ctx, &users, ds); err != nil {
		return nil, err
	}
	return users, nil
}

func (d *Database) CountUsers(ctx context.Context, role Role) (int, error) {
	var n int
	err := d.get(ctx, &n, d.dialect.From(tableUsers).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colRole).Eq(string(role))))
	return n, err
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (d *Database) InsertBook(ctx context.Context, title, author string) (int64, error) {
	return d.insert(ctx, d.dialect.Insert(tableBooks).Rows(goqu.Record{
		colTitle:  title,
		colAuthor: author,
		colStatus: string(StatusAvailable),
	}))
}

func (d *Database) DeleteBooks(ctx context.Context, title, author string) (int64, error) {
	res, err := d.exec(ctx, d.dialect.Delete(tableBooks).
		Where(goqu.C(colTitle).Eq(title), goqu.C(colAuthor).Eq(author)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Database) booksByTitleAuthor(title, author string) *goqu.SelectDataset {
	return d.dialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.C(colTitle).Eq(title), goqu.C(colAuthor).Eq(author)).
		Order(goqu.C(colID).Asc())
}

func (d *Database) FindBookByTitleAuthor(ctx context.Context, title, author string) (*Book, error) {
	var b Book
	if err := d.get(ctx, &b, d.booksByTitleAuthor(title, author).Limit(1)); err != nil {
		return nil, notFound(err, fmt.Sprintf("book %q by %q", title, author))
	}
	return &b, nil
}

func (d *Database) FindBooksByTitleAuthor(ctx context.Context, title, author string) ([]*Book, error) {
	books := []*Book{}
	if err := d.selectAll(ctx, &books, d.booksByTitleAuthor(title, author)); err != nil {
		return nil, err
	}
	return books, nil
}

func (d *Database) FindIssuedBook(ctx context.Context, title, author, borrower string) (*Book, error) {
	var b Book
	err := d.get(ctx, &b, d.booksByTitleAuthor(title, author).
		Where(goqu.C(colStatus).Eq(string(StatusIssued)), goqu.C(colIssuedTo).Eq(borrower)).
		Limit(1))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("book %q by %q issued to %q", title, author, borrower))
	}
	return &b, nil
}

// UpdateBookStatus applies u and reports how many rows changed (0 or 1).
func (d *Database) UpdateBookStatus(ctx context.Context, u BookUpdate) (int64, error) {
	rec := goqu.Record{colStatus: string(u.To), colIssuedTo: nil, colIssuedOn: nil}
	if u.IssuedTo != nil {
		rec[colIssuedTo] = *u.IssuedTo
	}
	if u.IssuedOn != nil {
		rec[colIssuedOn] = *u.IssuedOn
	}
	res, err := d.exec(ctx, d.dialect.Update(tableBooks).
		Set(rec).
		Where(goqu.C(colID).Eq(u.ID), goqu.C(colStatus).Eq(string(u.From))))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListBooks returns every copy ordered by id.
func (d *Database) ListBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	if err := d.selectAll(ctx, &books, d.dialect.From(tableBooks).
		Select(bookColumns...).
		Order(goqu.C(colID).Asc())); err != nil {
		return nil, err
	}
	return books, nil
}

// SearchBooks matches pattern as a case-insensitive substring of title or author.
func (d *Database) SearchBooks(ctx context.Context, pattern string) ([]*Book, error) {
	like := "%" + strings.ToLower(pattern) + "%"
	books := []*Book{}
	err := d.selectAll(ctx, &books, d.dialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.Or(
			goqu.Func("LOWER", goqu.C(colTitle)).Like(like),
			goqu.Func("LOWER", goqu.C(colAuthor)).Like(like),
		)).
		Order(goqu.C(colID).Asc()))
	if err != nil {
		return nil, err
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// Borrow history
// ---------------------------------------------------------------------------

func (d *Database) InsertHistory(ctx context.Context, title, author, student string, issuedOn time.Time) (int64, error) {
	return d.insert(ctx, d.dialect.Insert(tableHistory).Rows(goqu.Record{
		colBookTitle:   title,
		colBookAuthor:  author,
		colStudentName: student,
		colIssuedOn:    issuedOn,
	}))
}

// CloseLatestOpenHistory stamps returnedOn on the newest open record for
// (title, author, student). Run it inside WithTx; the lookup and the update
// are two statements because MySQL cannot update a table it sub-selects from.
func (d *Database) CloseLatestOpenHistory(ctx context.Context, title, author, student string, returnedOn time.Time) (int64, error) {
	var id int64
	err := d.get(ctx, &id, d.dialect.From(tableHistory).
		Select(colID).
		Where(
			goqu.C(colBookTitle).Eq(title),
			goqu.C(colBookAuthor).Eq(author),
			goqu.C(colStudentName).Eq(student),
			goqu.C(colReturnedOn).IsNull(),
		).
		Order(goqu.C(colID).Desc()).
		Limit(1))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res, err := d.exec(ctx, d.dialect.Update(tableHistory).
		Set(goqu.Record{colReturnedOn: returnedOn}).
		Where(goqu.C(colID).Eq(id), goqu.C(colReturnedOn).IsNull()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Database) ListHistory(ctx context.Context) ([]*BorrowRecord, error) {
	records := []*BorrowRecord{}
	if err := d.selectAll(ctx, &records, d.dialect.From(tableHistory).
		Select(historyColumns...).
		Order(goqu.C(colID).Desc())); err != nil {
		return nil, err
	}
	return records, nil
}

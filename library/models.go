package library

import "time"

// Role is the fixed role a user is created with.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// BookStatus is the lending state of a single catalog row.
type BookStatus string

const (
	StatusAvailable BookStatus = "Available"
	StatusIssued    BookStatus = "Issued"
)

// User is a registered account. The login name is unique and the role never changes.
type User struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Login        string `db:"username" json:"login"`
	PasswordHash string `db:"password_hash" json:"-"` // Don't serialize password hash
	Role         Role   `db:"role" json:"role"`
}

// UserIdentity is the resolved caller handed to every catalog operation.
type UserIdentity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Login string `json:"login"`
	Role  Role   `json:"role"`
}

// Identity strips the credential from u.
func (u *User) Identity() UserIdentity {
	return UserIdentity{ID: u.ID, Name: u.Name, Login: u.Login, Role: u.Role}
}

// IsAdmin reports whether the identity carries the admin role.
func (id UserIdentity) IsAdmin() bool { return id.Role == RoleAdmin }

// Book is one physical copy in the catalog. IssuedTo and IssuedOn are set only
// while Status is StatusIssued.
type Book struct {
	ID       int64      `db:"id" json:"id"`
	Title    string     `db:"title" json:"title"`
	Author   string     `db:"author" json:"author"`
	Status   BookStatus `db:"status" json:"status"`
	IssuedTo *string    `db:"issued_to" json:"issued_to,omitempty"`
	IssuedOn *time.Time `db:"issued_on" json:"issued_on,omitempty"`
}

// Available reports whether the copy can be issued.
func (b *Book) Available() bool { return b.Status == StatusAvailable }

// Borrower returns the student name the copy is issued to, or "".
func (b *Book) Borrower() string {
	if b.IssuedTo == nil {
		return ""
	}
	return *b.IssuedTo
}

// BorrowRecord is one line of the lending history. A record is open while
// ReturnedOn is nil.
type BorrowRecord struct {
	ID          int64      `db:"id" json:"id"`
	BookTitle   string     `db:"book_title" json:"book_title"`
	BookAuthor  string     `db:"book_author" json:"book_author"`
	StudentName string     `db:"student_name" json:"student_name"`
	IssuedOn    time.Time  `db:"issued_on" json:"issued_on"`
	ReturnedOn  *time.Time `db:"returned_on" json:"returned_on,omitempty"`
}

// Open reports whether the book has not been returned yet.
func (r *BorrowRecord) Open() bool { return r.ReturnedOn == nil }

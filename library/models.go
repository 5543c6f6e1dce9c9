package library

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Roles understood by the API.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Top-up transaction states.
const (
	TransactionPending = "pending"
	TransactionSuccess = "success"
	TransactionFail    = "fail"
)

// LineItem is one (book, quantity) pair on a borrow or return form.
type LineItem struct {
	BookID   int64 `json:"bookId" db:"book_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" db:"quantity" validate:"required,gt=0"`
}

// Book represents a title in the catalog together with the number of copies
// currently on the shelf.
type Book struct {
	ID                int64           `json:"id" db:"id"`
	Name              string          `json:"nameBook" db:"name"`
	Slug              string          `json:"slug" db:"slug"`
	Type              string          `json:"typeBook" db:"type"`
	Author            string          `json:"author" db:"author"`
	Publisher         string          `json:"publisher" db:"publisher"`
	PublicationYear   int             `json:"publicationYear" db:"publication_year"`
	DateOfAcquisition time.Time       `json:"dateOfAcquisition" db:"date_of_acquisition"`
	Price             decimal.Decimal `json:"price" db:"price"`
	RatingsAverage    float64         `json:"ratingsAverage" db:"ratings_average"`
	RatingsQuantity   int             `json:"ratingsQuantity" db:"ratings_quantity"`
	Description       string          `json:"description" db:"description"`
	NumberOfBooks     int             `json:"numberOfBooks" db:"number_of_books"`
	NumberOfPages     int             `json:"numberOfPages" db:"number_of_pages"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
}

// User is an account that can sign in.
type User struct {
	ID                   int64      `json:"id" db:"id"`
	FirstName            string     `json:"firstName" db:"first_name"`
	LastName             string     `json:"lastName" db:"last_name"`
	Email                string     `json:"email" db:"email"`
	Role                 string     `json:"role" db:"role"`
	PasswordHash         string     `json:"-" db:"password_hash"` // Don't serialize password hash
	PasswordChangedAt    *time.Time `json:"-" db:"password_changed_at"`
	PasswordResetToken   *string    `json:"-" db:"password_reset_token"`
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`
	Active               bool       `json:"active" db:"active"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
}

// Reader is the library card attached to a user. Borrow forms reference readers.
type Reader struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user" db:"user_id"`
	FullName      string    `json:"fullName" db:"full_name"`
	ReaderType    string    `json:"readerType" db:"reader_type"`
	Address       string    `json:"address" db:"address"`
	DateOfBirth   time.Time `json:"dateOfBirth" db:"date_of_birth"`
	Email         string    `json:"email" db:"email"`
	CardCreatedAt time.Time `json:"cardCreatedAt" db:"card_created_at"`
	ExpiredDate   time.Time `json:"expiredDate" db:"expired_date"`
	IsBorrowing   bool      `json:"isBorrowing" db:"is_borrowing"`
}

// BorrowForm records books handed out to a reader.
type BorrowForm struct {
	ID                 int64      `json:"id" db:"id"`
	BorrowerID         int64      `json:"borrower" db:"borrower_id"`
	Books              []LineItem `json:"books" db:"-"`
	BorrowDate         time.Time  `json:"borrowDate" db:"borrow_date"`
	ExpectedReturnDate time.Time  `json:"expectedReturnDate" db:"expected_return_date"`
	IsReturned         bool       `json:"isReturned" db:"is_returned"`
}

// ReturnForm closes a BorrowForm. Fee is computed once when it is created.
type ReturnForm struct {
	ID           int64           `json:"id" db:"id"`
	BorrowFormID int64           `json:"borrowBookForm" db:"borrow_form_id"`
	BorrowerID   int64           `json:"borrower" db:"borrower_id"`
	LostBooks    []LineItem      `json:"lostBooks" db:"-"`
	ReturnDate   time.Time       `json:"returnDate" db:"return_date"`
	Fee          decimal.Decimal `json:"fee" db:"fee"`
}

// FinancialAccount tracks money a user owes and holds.
type FinancialAccount struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	TotalDebt decimal.Decimal `json:"totalDebt" db:"total_debt"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// FeeReceipt is an immutable record of a debt payment. Balance and TotalDebt are
// the account values before the payment was applied.
type FeeReceipt struct {
	ID                 int64           `json:"id" db:"id"`
	FinancialAccountID int64           `json:"userFinancials" db:"financial_account_id"`
	Balance            decimal.Decimal `json:"balance" db:"balance"`
	TotalDebt          decimal.Decimal `json:"totalDebt" db:"total_debt"`
	AmountPaid         decimal.Decimal `json:"amountPaid" db:"amount_paid"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
}

// RemainingBalance is the debt left after this payment.
func (r *FeeReceipt) RemainingBalance() decimal.Decimal {
	return r.TotalDebt.Sub(r.AmountPaid)
}

// MarshalJSON adds the derived remainingBalance.
func (r FeeReceipt) MarshalJSON() ([]byte, error) {
	type receipt FeeReceipt
	return json.Marshal(struct {
		receipt
		RemainingBalance decimal.Decimal `json:"remainingBalance"`
	}{receipt(r), r.RemainingBalance()})
}

// Transaction is a top-up request against a financial account.
type Transaction struct {
	ID                 int64           `json:"id" db:"id"`
	FinancialAccountID int64           `json:"userFinancials" db:"financial_account_id"`
	Money              decimal.Decimal `json:"money" db:"money"`
	Status             string          `json:"status" db:"status"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
}

// Review is a user's rating of a book.
type Review struct {
	ID        int64     `json:"id" db:"id"`
	BookID    int64     `json:"book" db:"book_id"`
	UserID    int64     `json:"user" db:"user_id"`
	Review    string    `json:"review" db:"review"`
	Rating    int       `json:"rating" db:"rating"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Order is a purchase of one or more books.
type Order struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user" db:"user_id"`
	Books     []int64         `json:"books" db:"-"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Paid      bool            `json:"paid" db:"paid"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// Principal is the authenticated caller as established by the transport layer.
type Principal struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultCopies is the shelf count of a new book when none is given.
const DefaultCopies = 5

var priceFormat = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// BookRequest creates a book. Price is a decimal string with up to two places.
type BookRequest struct {
	Name              string     `json:"nameBook" validate:"required,max=255"`
	Type              string     `json:"typeBook" validate:"required,max=120"`
	Author            string     `json:"author" validate:"required,max=255"`
	Publisher         string     `json:"publisher" validate:"required,max=255"`
	PublicationYear   int        `json:"publicationYear" validate:"required"`
	DateOfAcquisition *time.Time `json:"dateOfAcquisition"`
	Price             string     `json:"price" validate:"required"`
	Description       string     `json:"description"`
	NumberOfBooks     *int       `json:"numberOfBooks"`
	NumberOfPages     int        `json:"numberOfPages" validate:"gte=0"`
}

// BookPatch carries the book fields an update may change.
type BookPatch struct {
	Name              *string    `json:"nameBook" validate:"omitempty,min=1,max=255"`
	Type              *string    `json:"typeBook" validate:"omitempty,min=1,max=120"`
	Author            *string    `json:"author" validate:"omitempty,min=1,max=255"`
	Publisher         *string    `json:"publisher" validate:"omitempty,min=1,max=255"`
	PublicationYear   *int       `json:"publicationYear"`
	DateOfAcquisition *time.Time `json:"dateOfAcquisition"`
	Price             *string    `json:"price"`
	Description       *string    `json:"description"`
	NumberOfBooks     *int       `json:"numberOfBooks"`
	NumberOfPages     *int       `json:"numberOfPages" validate:"omitempty,gte=0"`
}

func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !priceFormat.MatchString(s) {
		return decimal.Decimal{}, validationErrorf("%s is not a valid price, please enter a non-negative number with up to two decimal places", s)
	}
	return decimal.NewFromString(s)
}

// checkBook enforces the thresholds a stored book must meet.
func checkBook(s Settings, b *Book, now time.Time) error {
	year := now.Year()
	if b.PublicationYear > year || year-b.PublicationYear > s.PublicationYears {
		return validationErrorf("only books published within the last %d years are accepted", s.PublicationYears)
	}
	if b.NumberOfBooks < 0 || b.NumberOfBooks > s.MaxCopies {
		return validationErrorf("number of books must be between 0 and %d", s.MaxCopies)
	}
	if b.NumberOfPages < 0 {
		return validationErrorf("number of pages must not be negative")
	}
	return nil
}

func getBook(ctx context.Context, q sqlx.QueryerContext, id int64) (*Book, error) {
	var b Book
	if err := sqlx.GetContext(ctx, q, &b, `SELECT * FROM books WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("book %d", id)
		}
		return nil, err
	}
	return &b, nil
}

// CreateBook adds a title to the catalog.
func (lm *LibraryManager) CreateBook(ctx context.Context, req BookRequest) (*Book, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := lm.now()
	b := Book{
		Name:              strings.TrimSpace(req.Name),
		Type:              strings.TrimSpace(req.Type),
		Author:            strings.TrimSpace(req.Author),
		Publisher:         strings.TrimSpace(req.Publisher),
		PublicationYear:   req.PublicationYear,
		DateOfAcquisition: now,
		Price:             price,
		Description:       strings.TrimSpace(req.Description),
		NumberOfBooks:     DefaultCopies,
		NumberOfPages:     req.NumberOfPages,
		CreatedAt:         now,
	}
	b.Slug = slug.Make(b.Name)
	if req.DateOfAcquisition != nil {
		b.DateOfAcquisition = req.DateOfAcquisition.UTC()
	}
	if req.NumberOfBooks != nil {
		b.NumberOfBooks = *req.NumberOfBooks
	}
	if err := checkBook(s, &b, now); err != nil {
		return nil, err
	}

	res, err := lm.db.db.NamedExecContext(ctx, `INSERT INTO books
        (name, slug, type, author, publisher, publication_year, date_of_acquisition, price,
         ratings_average, ratings_quantity, description, number_of_books, number_of_pages, created_at)
        VALUES (:name, :slug, :type, :author, :publisher, :publication_year, :date_of_acquisition, :price,
         0, 0, :description, :number_of_books, :number_of_pages, :created_at)`, &b)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("a book named %q already exists", b.Name)
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{"book_id": b.ID, "slug": b.Slug}).Info("book created")
	return &b, nil
}

// GetBook returns one book.
func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return getBook(ctx, lm.db.db, id)
}

// GetBookBySlug returns the book with the given slug.
func (lm *LibraryManager) GetBookBySlug(ctx context.Context, s string) (*Book, error) {
	var b Book
	if err := lm.db.db.GetContext(ctx, &b, `SELECT * FROM books WHERE slug = ?`, s); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("book %q", s)
		}
		return nil, err
	}
	return &b, nil
}

// ListBooks lists the catalog.
func (lm *LibraryManager) ListBooks(ctx context.Context, opts ListOptions) ([]Book, error) {
	return selectList[Book](ctx, lm.db.db, bookList, opts)
}

// UpdateBook changes a book. Renaming regenerates the slug.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, patch BookPatch) (*Book, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}
	var b *Book
	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if b, err = getBook(ctx, tx, id); err != nil {
			return err
		}
		if patch.Name != nil {
			b.Name = strings.TrimSpace(*patch.Name)
			b.Slug = slug.Make(b.Name)
		}
		if patch.Type != nil {
			b.Type = strings.TrimSpace(*patch.Type)
		}
		if patch.Author != nil {
			b.Author = strings.TrimSpace(*patch.Author)
		}
		if patch.Publisher != nil {
			b.Publisher = strings.TrimSpace(*patch.Publisher)
		}
		if patch.PublicationYear != nil {
			b.PublicationYear = *patch.PublicationYear
		}
		if patch.DateOfAcquisition != nil {
			b.DateOfAcquisition = patch.DateOfAcquisition.UTC()
		}
		if patch.Price != nil {
			if b.Price, err = parsePrice(*patch.Price); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			b.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.NumberOfBooks != nil {
			b.NumberOfBooks = *patch.NumberOfBooks
		}
		if patch.NumberOfPages != nil {
			b.NumberOfPages = *patch.NumberOfPages
		}
		if err := checkBook(s, b, lm.now()); err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `UPDATE books SET name = :name, slug = :slug, type = :type, author = :author,
            publisher = :publisher, publication_year = :publication_year, date_of_acquisition = :date_of_acquisition,
            price = :price, description = :description, number_of_books = :number_of_books,
            number_of_pages = :number_of_pages WHERE id = :id`, b)
		if isUniqueViolation(err) {
			return validationErrorf("a book named %q already exists", b.Name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBook removes a book and its reviews. Books lent out on open forms
// cannot be deleted.
func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getBook(ctx, tx, id); err != nil {
			return err
		}
		var lent int
		if err := tx.GetContext(ctx, &lent, `SELECT COUNT(*) FROM borrow_form_books i
            JOIN borrow_forms f ON f.id = i.form_id
            WHERE i.book_id = ? AND f.is_returned = 0`, id); err != nil {
			return err
		}
		if lent > 0 {
			return validationErrorf("book %d is lent out on %d open borrow forms", id, lent)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}
	lm.log.WithField("book_id", id).Info("book deleted")
	return nil
}

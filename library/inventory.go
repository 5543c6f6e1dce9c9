package library

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// reserveCopies takes qty copies of bookID off the shelf with a single
// conditional decrement. When fewer than qty copies remain, or the book does
// not exist, nothing changes and ErrBooksUnavailable is returned.
func reserveCopies(ctx context.Context, ex sqlx.ExecerContext, bookID int64, qty int) error {
	if qty <= 0 {
		return validationErrorf("quantity must be a positive integer")
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE books SET number_of_books = number_of_books - ? WHERE id = ? AND number_of_books >= ?`,
		qty, bookID, qty)
	if err != nil {
		return fmt.Errorf("reserve book %d: %w", bookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve book %d: %w", bookID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: book %d", ErrBooksUnavailable, bookID)
	}
	return nil
}

// releaseCopies puts qty copies of bookID back on the shelf. A book that has
// since been deleted is skipped.
func releaseCopies(ctx context.Context, ex sqlx.ExecerContext, bookID int64, qty int) error {
	if qty == 0 {
		return nil
	}
	if qty < 0 {
		return validationErrorf("quantity must be a positive integer")
	}
	if _, err := ex.ExecContext(ctx,
		`UPDATE books SET number_of_books = number_of_books + ? WHERE id = ?`, qty, bookID); err != nil {
		return fmt.Errorf("release book %d: %w", bookID, err)
	}
	return nil
}

// ReserveCopies decrements the available count of a single book.
func (d *Database) ReserveCopies(ctx context.Context, bookID int64, qty int) error {
	return reserveCopies(ctx, d.db, bookID, qty)
}

// ReleaseCopies increments the available count of a single book.
func (d *Database) ReleaseCopies(ctx context.Context, bookID int64, qty int) error {
	return releaseCopies(ctx, d.db, bookID, qty)
}

// Availability returns the number of copies of bookID on the shelf.
func (d *Database) Availability(ctx context.Context, bookID int64) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT number_of_books FROM books WHERE id = ?`, bookID); err != nil {
		if isNoRows(err) {
			return 0, notFoundf("book %d", bookID)
		}
		return 0, err
	}
	return n, nil
}

package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// BorrowRequest asks to take books out. BorrowerID defaults to the caller's
// reader card. Dates are honoured for admins only.
type BorrowRequest struct {
	BorrowerID         int64      `json:"borrower"`
	Books              []LineItem `json:"books" validate:"required,min=1,dive"`
	BorrowDate         *time.Time `json:"borrowDate"`
	ExpectedReturnDate *time.Time `json:"expectedReturnDate"`
}

func loadBorrowForm(ctx context.Context, q sqlx.QueryerContext, id int64) (*BorrowForm, error) {
	var f BorrowForm
	if err := sqlx.GetContext(ctx, q, &f, `SELECT * FROM borrow_forms WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("borrow form %d", id)
		}
		return nil, err
	}
	if err := loadBorrowItems(ctx, q, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func loadBorrowItems(ctx context.Context, q sqlx.QueryerContext, f *BorrowForm) error {
	f.Books = []LineItem{}
	if err := sqlx.SelectContext(ctx, q, &f.Books,
		`SELECT book_id, quantity FROM borrow_form_books WHERE form_id = ? ORDER BY position`, f.ID); err != nil {
		return fmt.Errorf("load borrow form %d books: %w", f.ID, err)
	}
	return nil
}

// checkOwner rejects non-admins acting on another user's reader card.
func checkOwner(ctx context.Context, q sqlx.QueryerContext, p Principal, readerID int64) (*Reader, error) {
	r, err := getReader(ctx, q, readerID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && r.UserID != p.UserID {
		return nil, fmt.Errorf("%w: reader %d belongs to another user", ErrForbidden, readerID)
	}
	return r, nil
}

// Borrow takes every requested line off the shelf and records a borrow form.
// Either every line is reserved or none is.
func (lm *LibraryManager) Borrow(ctx context.Context, p Principal, req BorrowRequest) (*BorrowForm, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}

	now := lm.now()
	form := BorrowForm{
		BorrowDate: now,
		Books:      append([]LineItem(nil), req.Books...),
	}
	if p.IsAdmin() && req.BorrowDate != nil {
		form.BorrowDate = req.BorrowDate.UTC()
	}
	form.ExpectedReturnDate = form.BorrowDate.AddDate(0, 0, s.BorrowingDays)
	if p.IsAdmin() && req.ExpectedReturnDate != nil {
		form.ExpectedReturnDate = req.ExpectedReturnDate.UTC()
	}
	if !form.ExpectedReturnDate.After(form.BorrowDate) {
		return nil, validationErrorf("expectedReturnDate must be after borrowDate")
	}

	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var reader *Reader
		var err error
		if req.BorrowerID == 0 {
			reader, err = getReaderByUser(ctx, tx, p.UserID)
		} else {
			reader, err = checkOwner(ctx, tx, p, req.BorrowerID)
		}
		if err != nil {
			return err
		}
		if reader.ExpiredDate.Before(now) {
			return validationErrorf("reader card %d expired on %s", reader.ID, reader.ExpiredDate.Format(time.DateOnly))
		}
		form.BorrowerID = reader.ID

		for _, item := range form.Books {
			if err := reserveCopies(ctx, tx, item.BookID, item.Quantity); err != nil {
				return err
			}
		}

		res, err := tx.NamedExecContext(ctx, `INSERT INTO borrow_forms (borrower_id, borrow_date, expected_return_date, is_returned)
            VALUES (:borrower_id, :borrow_date, :expected_return_date, 0)`, &form)
		if err != nil {
			return fmt.Errorf("insert borrow form: %w", err)
		}
		if form.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		stmt := tx.StmtxContext(ctx, lm.db.insertBorrowItemStmt)
		for i, item := range form.Books {
			if _, err := stmt.ExecContext(ctx, form.ID, i, item.BookID, item.Quantity); err != nil {
				return fmt.Errorf("insert borrow form line: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE readers SET is_borrowing = 1 WHERE id = ?`, reader.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	lm.log.WithFields(logrus.Fields{
		"borrow_form_id": form.ID,
		"reader_id":      form.BorrowerID,
		"lines":          len(form.Books),
	}).Info("books borrowed")
	return &form, nil
}

// GetBorrowForm returns a borrow form with its lines.
func (lm *LibraryManager) GetBorrowForm(ctx context.Context, p Principal, id int64) (*BorrowForm, error) {
	f, err := loadBorrowForm(ctx, lm.db.db, id)
	if err != nil {
		return nil, err
	}
	if _, err := checkOwner(ctx, lm.db.db, p, f.BorrowerID); err != nil {
		return nil, err
	}
	return f, nil
}

// ListBorrowForms lists borrow forms. Non-admins only see their own.
func (lm *LibraryManager) ListBorrowForms(ctx context.Context, p Principal, opts ListOptions) ([]BorrowForm, error) {
	var where []exp.Expression
	if !p.IsAdmin() {
		r, err := getReaderByUser(ctx, lm.db.db, p.UserID)
		if err != nil {
			return nil, err
		}
		where = append(where, goqu.I("borrower_id").Eq(r.ID))
	}
	forms, err := selectList[BorrowForm](ctx, lm.db.db, borrowFormList, opts, where...)
	if err != nil {
		return nil, err
	}
	for i := range forms {
		if err := loadBorrowItems(ctx, lm.db.db, &forms[i]); err != nil {
			return nil, err
		}
	}
	return forms, nil
}

// ExtendBorrowForm moves the expected return date of an open form.
func (lm *LibraryManager) ExtendBorrowForm(ctx context.Context, id int64, expected time.Time) (*BorrowForm, error) {
	var f *BorrowForm
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if f, err = loadBorrowForm(ctx, tx, id); err != nil {
			return err
		}
		if f.IsReturned {
			return validationErrorf("borrow form %d has already been returned", id)
		}
		if !expected.After(f.BorrowDate) {
			return validationErrorf("expectedReturnDate must be after borrowDate")
		}
		f.ExpectedReturnDate = expected.UTC()
		_, err = tx.ExecContext(ctx, `UPDATE borrow_forms SET expected_return_date = ? WHERE id = ?`, f.ExpectedReturnDate, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CancelBorrow deletes a form that has not been returned and puts its copies
// back on the shelf.
func (lm *LibraryManager) CancelBorrow(ctx context.Context, p Principal, id int64) error {
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		f, err := loadBorrowForm(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := checkOwner(ctx, tx, p, f.BorrowerID); err != nil {
			return err
		}
		if f.IsReturned {
			return validationErrorf("returned borrow forms cannot be deleted")
		}
		for _, item := range f.Books {
			if err := releaseCopies(ctx, tx, item.BookID, item.Quantity); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM borrow_forms WHERE id = ?`, id); err != nil {
			return err
		}
		return refreshBorrowing(ctx, tx, f.BorrowerID)
	})
	if err != nil {
		return err
	}
	lm.log.WithField("borrow_form_id", id).Info("borrow cancelled")
	return nil
}

// OverdueForms lists open forms whose expected return date has passed.
func (lm *LibraryManager) OverdueForms(ctx context.Context) ([]BorrowForm, error) {
	forms := []BorrowForm{}
	if err := lm.db.db.SelectContext(ctx, &forms,
		`SELECT * FROM borrow_forms WHERE is_returned = 0 ORDER BY expected_return_date, id`); err != nil {
		return nil, fmt.Errorf("list open borrow forms: %w", err)
	}
	now := lm.now()
	overdue := forms[:0]
	for _, f := range forms {
		if f.ExpectedReturnDate.Before(now) {
			if err := loadBorrowItems(ctx, lm.db.db, &f); err != nil {
				return nil, err
			}
			overdue = append(overdue, f)
		}
	}
	return overdue, nil
}

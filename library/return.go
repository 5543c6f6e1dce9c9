package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReturnRequest closes a borrow form. LostBooks lists copies that will not
// come back. ReturnDate is honoured for admins only.
type ReturnRequest struct {
	BorrowFormID int64      `json:"borrowBookForm" validate:"required,gt=0"`
	LostBooks    []LineItem `json:"lostBooks" validate:"omitempty,dive"`
	ReturnDate   *time.Time `json:"returnDate"`
}

// lostPerBook totals the lost quantities per book and checks them against
// what the form lent out.
func lostPerBook(form *BorrowForm, lost []LineItem) (map[int64]int, error) {
	borrowed := make(map[int64]int, len(form.Books))
	for _, item := range form.Books {
		borrowed[item.BookID] += item.Quantity
	}
	out := make(map[int64]int, len(lost))
	for _, item := range lost {
		if borrowed[item.BookID] == 0 {
			return nil, validationErrorf("book %d was not borrowed on form %d", item.BookID, form.ID)
		}
		out[item.BookID] += item.Quantity
		if out[item.BookID] > borrowed[item.BookID] {
			return nil, validationErrorf("lost quantity of book %d exceeds the %d borrowed", item.BookID, borrowed[item.BookID])
		}
	}
	return out, nil
}

// Return closes a borrow form, charges late and lost-book fees to the
// borrower's financial account and puts the copies that came back on the
// shelf. Every change happens in one transaction.
func (lm *LibraryManager) Return(ctx context.Context, p Principal, req ReturnRequest) (*ReturnForm, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}

	rf := ReturnForm{
		BorrowFormID: req.BorrowFormID,
		LostBooks:    append([]LineItem{}, req.LostBooks...),
		ReturnDate:   lm.now(),
	}
	if p.IsAdmin() && req.ReturnDate != nil {
		rf.ReturnDate = req.ReturnDate.UTC()
	}

	var userID int64
	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		form, err := loadBorrowForm(ctx, tx, req.BorrowFormID)
		if err != nil {
			return err
		}
		reader, err := checkOwner(ctx, tx, p, form.BorrowerID)
		if err != nil {
			return err
		}
		if form.IsReturned {
			return validationErrorf("borrow form %d has already been returned", form.ID)
		}
		if rf.ReturnDate.Before(form.BorrowDate) {
			return validationErrorf("returnDate must not be before borrowDate")
		}
		lost, err := lostPerBook(form, rf.LostBooks)
		if err != nil {
			return err
		}
		rf.BorrowerID = form.BorrowerID
		userID = reader.UserID

		res, err := tx.ExecContext(ctx, `UPDATE borrow_forms SET is_returned = 1 WHERE id = ? AND is_returned = 0`, form.ID)
		if err != nil {
			return fmt.Errorf("close borrow form %d: %w", form.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return validationErrorf("borrow form %d has already been returned", form.ID)
		}

		fee := LateFee(rf.ReturnDate, form.ExpectedReturnDate, s.LateFeePerDay)
		for _, item := range rf.LostBooks {
			var price decimal.Decimal
			if err := tx.GetContext(ctx, &price, `SELECT price FROM books WHERE id = ?`, item.BookID); err != nil {
				if isNoRows(err) {
					return notFoundf("book %d", item.BookID)
				}
				return err
			}
			fee = fee.Add(LostFee(price, item.Quantity))
		}
		rf.Fee = fee

		// Lost copies are taken from the form's lines in order.
		for _, item := range form.Books {
			gone := min(lost[item.BookID], item.Quantity)
			lost[item.BookID] -= gone
			if err := releaseCopies(ctx, tx, item.BookID, item.Quantity-gone); err != nil {
				return err
			}
		}

		ins, err := tx.NamedExecContext(ctx, `INSERT INTO return_forms (borrow_form_id, borrower_id, return_date, fee)
            VALUES (:borrow_form_id, :borrower_id, :return_date, :fee)`, &rf)
		if err != nil {
			if isUniqueViolation(err) {
				return validationErrorf("borrow form %d already has a return form", form.ID)
			}
			return fmt.Errorf("insert return form: %w", err)
		}
		if rf.ID, err = ins.LastInsertId(); err != nil {
			return err
		}
		stmt := tx.StmtxContext(ctx, lm.db.insertLostItemStmt)
		for i, item := range rf.LostBooks {
			if _, err := stmt.ExecContext(ctx, rf.ID, i, item.BookID, item.Quantity); err != nil {
				return fmt.Errorf("insert lost book line: %w", err)
			}
		}

		if _, err := addDebt(ctx, tx, reader.UserID, fee, lm.now()); err != nil {
			return err
		}
		return refreshBorrowing(ctx, tx, reader.ID)
	})
	if err != nil {
		return nil, err
	}

	lm.log.WithFields(logrus.Fields{
		"borrow_form_id": rf.BorrowFormID,
		"return_form_id": rf.ID,
		"user_id":        userID,
		"fee":            rf.Fee.String(),
	}).Info("books returned")
	return &rf, nil
}

func loadLostItems(ctx context.Context, q sqlx.QueryerContext, rf *ReturnForm) error {
	rf.LostBooks = []LineItem{}
	if err := sqlx.SelectContext(ctx, q, &rf.LostBooks,
		`SELECT book_id, quantity FROM return_form_lost_books WHERE form_id = ? ORDER BY position`, rf.ID); err != nil {
		return fmt.Errorf("load return form %d lost books: %w", rf.ID, err)
	}
	return nil
}

// GetReturnForm returns a return form with its lost lines.
func (lm *LibraryManager) GetReturnForm(ctx context.Context, p Principal, id int64) (*ReturnForm, error) {
	var rf ReturnForm
	if err := lm.db.db.GetContext(ctx, &rf, `SELECT * FROM return_forms WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("return form %d", id)
		}
		return nil, err
	}
	if _, err := checkOwner(ctx, lm.db.db, p, rf.BorrowerID); err != nil {
		return nil, err
	}
	if err := loadLostItems(ctx, lm.db.db, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

// ListReturnForms lists return forms. Non-admins only see their own.
func (lm *LibraryManager) ListReturnForms(ctx context.Context, p Principal, opts ListOptions) ([]ReturnForm, error) {
	var where []exp.Expression
	if !p.IsAdmin() {
		r, err := getReaderByUser(ctx, lm.db.db, p.UserID)
		if err != nil {
			return nil, err
		}
		where = append(where, goqu.I("borrower_id").Eq(r.ID))
	}
	forms, err := selectList[ReturnForm](ctx, lm.db.db, returnFormList, opts, where...)
	if err != nil {
		return nil, err
	}
	for i := range forms {
		if err := loadLostItems(ctx, lm.db.db, &forms[i]); err != nil {
			return nil, err
		}
	}
	return forms, nil
}

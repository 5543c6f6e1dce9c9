package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ReaderRequest creates or updates a reader card.
type ReaderRequest struct {
	UserID      int64     `json:"user"`
	FullName    string    `json:"fullName" validate:"omitempty,max=120"`
	ReaderType  string    `json:"readerType" validate:"omitempty,max=120"`
	Address     string    `json:"address" validate:"required,max=255"`
	DateOfBirth time.Time `json:"dateOfBirth"`
}

// ReaderPatch carries the reader fields an update may change.
type ReaderPatch struct {
	FullName    *string    `json:"fullName" validate:"omitempty,min=1,max=120"`
	ReaderType  *string    `json:"readerType" validate:"omitempty,min=1,max=120"`
	Address     *string    `json:"address" validate:"omitempty,min=1,max=255"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
}

// ageAt is the number of full years between birth and at.
func ageAt(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

func checkAge(s Settings, birth, now time.Time) error {
	if birth.IsZero() {
		return validationErrorf("dateOfBirth is required")
	}
	if age := ageAt(birth, now); age < s.AgeMin || age > s.AgeMax {
		return validationErrorf("reader age must be between %d and %d", s.AgeMin, s.AgeMax)
	}
	return nil
}

func getReader(ctx context.Context, q sqlx.QueryerContext, id int64) (*Reader, error) {
	var r Reader
	if err := sqlx.GetContext(ctx, q, &r, `SELECT * FROM readers WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("reader %d", id)
		}
		return nil, err
	}
	return &r, nil
}

func getReaderByUser(ctx context.Context, q sqlx.QueryerContext, userID int64) (*Reader, error) {
	var r Reader
	if err := sqlx.GetContext(ctx, q, &r, `SELECT * FROM readers WHERE user_id = ?`, userID); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("please create a reader card")
		}
		return nil, err
	}
	return &r, nil
}

// refreshBorrowing sets is_borrowing from the reader's open borrow forms.
func refreshBorrowing(ctx context.Context, ex sqlx.ExecerContext, readerID int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE readers SET is_borrowing = EXISTS(
        SELECT 1 FROM borrow_forms WHERE borrower_id = readers.id AND is_returned = 0)
        WHERE id = ?`, readerID)
	if err != nil {
		return fmt.Errorf("refresh reader %d: %w", readerID, err)
	}
	return nil
}

// CreateReader issues a reader card for a user. Non-admins can only create
// their own card. The email is copied from the user.
func (lm *LibraryManager) CreateReader(ctx context.Context, p Principal, req ReaderRequest) (*Reader, error) {
	if req.UserID == 0 || !p.IsAdmin() {
		if req.UserID != 0 && req.UserID != p.UserID {
			return nil, fmt.Errorf("%w: cannot create a reader card for another user", ErrForbidden)
		}
		req.UserID = p.UserID
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := lm.now()
	if err := checkAge(s, req.DateOfBirth, now); err != nil {
		return nil, err
	}

	r := Reader{
		UserID:        req.UserID,
		FullName:      strings.TrimSpace(req.FullName),
		ReaderType:    strings.TrimSpace(req.ReaderType),
		Address:       strings.TrimSpace(req.Address),
		DateOfBirth:   req.DateOfBirth.UTC(),
		CardCreatedAt: now,
		ExpiredDate:   now.AddDate(0, s.ExpiredMonths, 0),
	}
	if r.FullName == "" {
		r.FullName = "Anonymous"
	}
	if r.ReaderType == "" {
		r.ReaderType = "want to learn something new"
	}

	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		u, err := getUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		r.Email = u.Email
		res, err := tx.NamedExecContext(ctx, `INSERT INTO readers
            (user_id, full_name, reader_type, address, date_of_birth, email, card_created_at, expired_date, is_borrowing)
            VALUES (:user_id, :full_name, :reader_type, :address, :date_of_birth, :email, :card_created_at, :expired_date, 0)`, &r)
		if err != nil {
			if isUniqueViolation(err) {
				return validationErrorf("user %d already has a reader card", req.UserID)
			}
			return fmt.Errorf("insert reader: %w", err)
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{"reader_id": r.ID, "user_id": r.UserID}).Info("reader card created")
	return &r, nil
}

// GetReader returns a reader card. Non-admins can only read their own.
func (lm *LibraryManager) GetReader(ctx context.Context, p Principal, id int64) (*Reader, error) {
	r, err := getReader(ctx, lm.db.db, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && r.UserID != p.UserID {
		return nil, fmt.Errorf("%w: reader %d belongs to another user", ErrForbidden, id)
	}
	return r, nil
}

// MyReader returns the principal's own reader card.
func (lm *LibraryManager) MyReader(ctx context.Context, p Principal) (*Reader, error) {
	return getReaderByUser(ctx, lm.db.db, p.UserID)
}

// ListReaders lists reader cards.
func (lm *LibraryManager) ListReaders(ctx context.Context, opts ListOptions) ([]Reader, error) {
	return selectList[Reader](ctx, lm.db.db, readerList, opts)
}

// UpdateReader changes a reader card. Cards with books out cannot change.
func (lm *LibraryManager) UpdateReader(ctx context.Context, p Principal, id int64, patch ReaderPatch) (*Reader, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	s, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}
	var r *Reader
	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if r, err = getReader(ctx, tx, id); err != nil {
			return err
		}
		if !p.IsAdmin() && r.UserID != p.UserID {
			return fmt.Errorf("%w: reader %d belongs to another user", ErrForbidden, id)
		}
		if r.IsBorrowing {
			return validationErrorf("reader %d is borrowing books and cannot be changed", id)
		}
		if patch.FullName != nil {
			r.FullName = strings.TrimSpace(*patch.FullName)
		}
		if patch.ReaderType != nil {
			r.ReaderType = strings.TrimSpace(*patch.ReaderType)
		}
		if patch.Address != nil {
			r.Address = strings.TrimSpace(*patch.Address)
		}
		if patch.DateOfBirth != nil {
			if err := checkAge(s, *patch.DateOfBirth, lm.now()); err != nil {
				return err
			}
			r.DateOfBirth = patch.DateOfBirth.UTC()
		}
		_, err = tx.NamedExecContext(ctx, `UPDATE readers SET full_name = :full_name, reader_type = :reader_type,
            address = :address, date_of_birth = :date_of_birth WHERE id = :id`, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteReader removes a reader card that has no books out.
func (lm *LibraryManager) DeleteReader(ctx context.Context, p Principal, id int64) error {
	return lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		r, err := getReader(ctx, tx, id)
		if err != nil {
			return err
		}
		if !p.IsAdmin() && r.UserID != p.UserID {
			return fmt.Errorf("%w: reader %d belongs to another user", ErrForbidden, id)
		}
		if r.IsBorrowing {
			return validationErrorf("reader %d is borrowing books and cannot be deleted", id)
		}
		var forms int
		if err := sqlx.GetContext(ctx, tx, &forms, `SELECT COUNT(*) FROM borrow_forms WHERE borrower_id = ?`, id); err != nil {
			return err
		}
		if forms > 0 {
			// History stays attached to the card.
			return validationErrorf("reader %d has borrow history and cannot be deleted", id)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM readers WHERE id = ?`, id)
		return err
	})
}

// ExpiredReaders lists cards whose expiry date has passed.
func (lm *LibraryManager) ExpiredReaders(ctx context.Context) ([]Reader, error) {
	return selectList[Reader](ctx, lm.db.db, readerList, ListOptions{Limit: MaxLimit},
		goqu.I("expired_date").Lt(lm.now()))
}

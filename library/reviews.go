package library

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// ReviewRequest rates a book.
type ReviewRequest struct {
	BookID int64  `json:"book" validate:"required,gt=0"`
	Review string `json:"review" validate:"required,max=2000"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

// ReviewPatch changes a review.
type ReviewPatch struct {
	Review *string `json:"review" validate:"omitempty,min=1,max=2000"`
	Rating *int    `json:"rating" validate:"omitempty,min=1,max=5"`
}

// refreshRatings recomputes a book's rating aggregate from its reviews.
func refreshRatings(ctx context.Context, tx *sqlx.Tx, bookID int64) error {
	var agg struct {
		Count int             `db:"n"`
		Avg   sql.NullFloat64 `db:"avg"`
	}
	if err := tx.GetContext(ctx, &agg, `SELECT COUNT(*) AS n, AVG(rating) AS avg FROM reviews WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("aggregate ratings of book %d: %w", bookID, err)
	}
	avg := math.Round(agg.Avg.Float64*10) / 10
	if _, err := tx.ExecContext(ctx, `UPDATE books SET ratings_average = ?, ratings_quantity = ? WHERE id = ?`,
		avg, agg.Count, bookID); err != nil {
		return fmt.Errorf("update ratings of book %d: %w", bookID, err)
	}
	return nil
}

func getReview(ctx context.Context, q sqlx.QueryerContext, id int64) (*Review, error) {
	var r Review
	if err := sqlx.GetContext(ctx, q, &r, `SELECT * FROM reviews WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("review %d", id)
		}
		return nil, err
	}
	return &r, nil
}

// CreateReview stores the caller's review of a book. Each user reviews a book once.
func (lm *LibraryManager) CreateReview(ctx context.Context, p Principal, req ReviewRequest) (*Review, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	r := Review{
		BookID:    req.BookID,
		UserID:    p.UserID,
		Review:    strings.TrimSpace(req.Review),
		Rating:    req.Rating,
		CreatedAt: lm.now(),
	}
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getBook(ctx, tx, req.BookID); err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO reviews (book_id, user_id, review, rating, created_at)
            VALUES (:book_id, :user_id, :review, :rating, :created_at)`, &r)
		if err != nil {
			if isUniqueViolation(err) {
				return validationErrorf("you have already reviewed book %d", req.BookID)
			}
			return fmt.Errorf("insert review: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return refreshRatings(ctx, tx, r.BookID)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReview returns one review.
func (lm *LibraryManager) GetReview(ctx context.Context, id int64) (*Review, error) {
	return getReview(ctx, lm.db.db, id)
}

// ListReviews lists reviews, optionally of one book.
func (lm *LibraryManager) ListReviews(ctx context.Context, bookID int64, opts ListOptions) ([]Review, error) {
	var where []exp.Expression
	if bookID != 0 {
		where = append(where, goqu.I("book_id").Eq(bookID))
	}
	return selectList[Review](ctx, lm.db.db, reviewList, opts, where...)
}

// UpdateReview changes a review. Only its author or an admin may.
func (lm *LibraryManager) UpdateReview(ctx context.Context, p Principal, id int64, patch ReviewPatch) (*Review, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	var r *Review
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if r, err = getReview(ctx, tx, id); err != nil {
			return err
		}
		if !p.IsAdmin() && r.UserID != p.UserID {
			return fmt.Errorf("%w: review %d belongs to another user", ErrForbidden, id)
		}
		if patch.Review != nil {
			r.Review = strings.TrimSpace(*patch.Review)
		}
		if patch.Rating != nil {
			r.Rating = *patch.Rating
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reviews SET review = ?, rating = ? WHERE id = ?`, r.Review, r.Rating, id); err != nil {
			return err
		}
		return refreshRatings(ctx, tx, r.BookID)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteReview removes a review. Only its author or an admin may.
func (lm *LibraryManager) DeleteReview(ctx context.Context, p Principal, id int64) error {
	return lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		r, err := getReview(ctx, tx, id)
		if err != nil {
			return err
		}
		if !p.IsAdmin() && r.UserID != p.UserID {
			return fmt.Errorf("%w: review %d belongs to another user", ErrForbidden, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id); err != nil {
			return err
		}
		return refreshRatings(ctx, tx, r.BookID)
	})
}

package library

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderRequest buys one or more books.
type OrderRequest struct {
	Books []int64 `json:"books" validate:"required,min=1,dive,gt=0"`
}

func loadOrderBooks(ctx context.Context, q sqlx.QueryerContext, o *Order) error {
	o.Books = []int64{}
	if err := sqlx.SelectContext(ctx, q, &o.Books,
		`SELECT book_id FROM order_books WHERE order_id = ? ORDER BY position`, o.ID); err != nil {
		return fmt.Errorf("load order %d books: %w", o.ID, err)
	}
	return nil
}

// CreateOrder records a paid purchase of the listed books. Ids of books that
// no longer exist are dropped; at least one must remain.
func (lm *LibraryManager) CreateOrder(ctx context.Context, p Principal, req OrderRequest) (*Order, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	o := Order{UserID: p.UserID, Paid: true, CreatedAt: lm.now(), Books: []int64{}}
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		total := decimal.Zero
		for _, id := range req.Books {
			var price decimal.Decimal
			if err := tx.GetContext(ctx, &price, `SELECT price FROM books WHERE id = ?`, id); err != nil {
				if isNoRows(err) {
					continue
				}
				return err
			}
			total = total.Add(price)
			o.Books = append(o.Books, id)
		}
		if len(o.Books) == 0 {
			return notFoundf("none of the ordered books exist")
		}
		o.Price = total

		res, err := tx.NamedExecContext(ctx, `INSERT INTO orders (user_id, price, paid, created_at)
            VALUES (:user_id, :price, :paid, :created_at)`, &o)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, id := range o.Books {
			if _, err := tx.ExecContext(ctx, `INSERT INTO order_books (order_id, position, book_id) VALUES (?, ?, ?)`, o.ID, i, id); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{"order_id": o.ID, "price": o.Price.String()}).Info("order created")
	return &o, nil
}

// GetOrder returns one order. Non-admins only see their own.
func (lm *LibraryManager) GetOrder(ctx context.Context, p Principal, id int64) (*Order, error) {
	var o Order
	if err := lm.db.db.GetContext(ctx, &o, `SELECT * FROM orders WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("order %d", id)
		}
		return nil, err
	}
	if !p.IsAdmin() && o.UserID != p.UserID {
		return nil, fmt.Errorf("%w: order %d belongs to another user", ErrForbidden, id)
	}
	if err := loadOrderBooks(ctx, lm.db.db, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders lists every order.
func (lm *LibraryManager) ListOrders(ctx context.Context, opts ListOptions) ([]Order, error) {
	return lm.listOrders(ctx, opts, 0)
}

// MyOrders lists the caller's orders.
func (lm *LibraryManager) MyOrders(ctx context.Context, p Principal, opts ListOptions) ([]Order, error) {
	return lm.listOrders(ctx, opts, p.UserID)
}

func (lm *LibraryManager) listOrders(ctx context.Context, opts ListOptions, userID int64) ([]Order, error) {
	var orders []Order
	var err error
	if userID != 0 {
		orders, err = selectList[Order](ctx, lm.db.db, orderList, opts, goqu.I("user_id").Eq(userID))
	} else {
		orders, err = selectList[Order](ctx, lm.db.db, orderList, opts)
	}
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := loadOrderBooks(ctx, lm.db.db, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// DeleteOrder removes an order.
func (lm *LibraryManager) DeleteOrder(ctx context.Context, id int64) error {
	res, err := lm.db.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundf("order %d", id)
	}
	return nil
}

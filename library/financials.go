package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SettleRequest pays part of an account's debt from its balance.
type SettleRequest struct {
	FinancialAccountID int64           `json:"userFinancials"`
	AmountPaid         decimal.Decimal `json:"amountPaid"`
}

// TopUpRequest asks to add money to the caller's balance.
type TopUpRequest struct {
	Money decimal.Decimal `json:"money"`
}

// accountForUpdate returns the user's account, creating it with zero balances
// when it does not exist yet.
func accountForUpdate(ctx context.Context, tx *sqlx.Tx, userID int64, now time.Time) (*FinancialAccount, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO financial_accounts (user_id, balance, total_debt, created_at, updated_at)
        VALUES (?, '0', '0', ?, ?) ON CONFLICT(user_id) DO NOTHING`, userID, now, now); err != nil {
		return nil, fmt.Errorf("create financial account: %w", err)
	}
	var acc FinancialAccount
	if err := tx.GetContext(ctx, &acc, `SELECT * FROM financial_accounts WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("load financial account: %w", err)
	}
	return &acc, nil
}

func saveAccount(ctx context.Context, tx *sqlx.Tx, acc *FinancialAccount) error {
	_, err := tx.NamedExecContext(ctx, `UPDATE financial_accounts SET balance = :balance, total_debt = :total_debt,
        updated_at = :updated_at WHERE id = :id`, acc)
	if err != nil {
		return fmt.Errorf("save financial account %d: %w", acc.ID, err)
	}
	return nil
}

// addDebt raises the user's total debt by amount inside tx.
func addDebt(ctx context.Context, tx *sqlx.Tx, userID int64, amount decimal.Decimal, now time.Time) (*FinancialAccount, error) {
	if amount.IsNegative() {
		return nil, validationErrorf("debt amount must not be negative")
	}
	acc, err := accountForUpdate(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	acc.TotalDebt = acc.TotalDebt.Add(amount)
	acc.UpdatedAt = now
	if err := saveAccount(ctx, tx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// AddDebt raises a user's total debt, creating their account if missing.
func (lm *LibraryManager) AddDebt(ctx context.Context, userID int64, amount decimal.Decimal) (*FinancialAccount, error) {
	var acc *FinancialAccount
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		acc, err = addDebt(ctx, tx, userID, amount, lm.now())
		return err
	})
	return acc, err
}

// GetFinancials returns a user's account.
func (lm *LibraryManager) GetFinancials(ctx context.Context, userID int64) (*FinancialAccount, error) {
	var acc FinancialAccount
	if err := lm.db.db.GetContext(ctx, &acc, `SELECT * FROM financial_accounts WHERE user_id = ?`, userID); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("user %d has no financial account", userID)
		}
		return nil, err
	}
	return &acc, nil
}

// ListFinancials lists every account.
func (lm *LibraryManager) ListFinancials(ctx context.Context, opts ListOptions) ([]FinancialAccount, error) {
	return selectList[FinancialAccount](ctx, lm.db.db, financialList, opts)
}

// SettleFee pays amountPaid off an account's debt out of its balance and
// records a receipt of the account as it was before payment.
func (lm *LibraryManager) SettleFee(ctx context.Context, p Principal, req SettleRequest) (*FeeReceipt, error) {
	if !req.AmountPaid.IsPositive() {
		return nil, validationErrorf("amountPaid must be positive")
	}
	var receipt FeeReceipt
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var acc FinancialAccount
		var err error
		if req.FinancialAccountID == 0 {
			err = tx.GetContext(ctx, &acc, `SELECT * FROM financial_accounts WHERE user_id = ?`, p.UserID)
		} else {
			err = tx.GetContext(ctx, &acc, `SELECT * FROM financial_accounts WHERE id = ?`, req.FinancialAccountID)
		}
		if err != nil {
			if isNoRows(err) {
				return notFoundf("can't find the financial account")
			}
			return err
		}
		if !p.IsAdmin() && acc.UserID != p.UserID {
			return fmt.Errorf("%w: financial account %d belongs to another user", ErrForbidden, acc.ID)
		}
		if req.AmountPaid.GreaterThan(acc.TotalDebt) {
			return validationErrorf("amount paid cannot be greater than total debt")
		}
		if req.AmountPaid.GreaterThan(acc.Balance) {
			return validationErrorf("amount paid cannot be greater than total balance")
		}

		now := lm.now()
		receipt = FeeReceipt{
			FinancialAccountID: acc.ID,
			Balance:            acc.Balance,
			TotalDebt:          acc.TotalDebt,
			AmountPaid:         req.AmountPaid,
			CreatedAt:          now,
		}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO fee_receipts (financial_account_id, balance, total_debt, amount_paid, created_at)
            VALUES (:financial_account_id, :balance, :total_debt, :amount_paid, :created_at)`, &receipt)
		if err != nil {
			return fmt.Errorf("insert fee receipt: %w", err)
		}
		if receipt.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		acc.Balance = acc.Balance.Sub(req.AmountPaid)
		acc.TotalDebt = acc.TotalDebt.Sub(req.AmountPaid)
		acc.UpdatedAt = now
		return saveAccount(ctx, tx, &acc)
	})
	if err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{
		"fee_receipt_id": receipt.ID,
		"financial_id":   receipt.FinancialAccountID,
		"amount_paid":    receipt.AmountPaid.String(),
		"remaining_debt": receipt.RemainingBalance().String(),
	}).Info("fee settled")
	return &receipt, nil
}

func (lm *LibraryManager) ownsAccount(ctx context.Context, p Principal, accountID int64) error {
	if p.IsAdmin() {
		return nil
	}
	var owner int64
	if err := lm.db.db.GetContext(ctx, &owner, `SELECT user_id FROM financial_accounts WHERE id = ?`, accountID); err != nil {
		if isNoRows(err) {
			return notFoundf("financial account %d", accountID)
		}
		return err
	}
	if owner != p.UserID {
		return fmt.Errorf("%w: financial account %d belongs to another user", ErrForbidden, accountID)
	}
	return nil
}

// GetFeeReceipt returns one receipt.
func (lm *LibraryManager) GetFeeReceipt(ctx context.Context, p Principal, id int64) (*FeeReceipt, error) {
	var r FeeReceipt
	if err := lm.db.db.GetContext(ctx, &r, `SELECT * FROM fee_receipts WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("fee receipt %d", id)
		}
		return nil, err
	}
	if err := lm.ownsAccount(ctx, p, r.FinancialAccountID); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFeeReceipts lists receipts. Non-admins only see their own account's.
func (lm *LibraryManager) ListFeeReceipts(ctx context.Context, p Principal, opts ListOptions) ([]FeeReceipt, error) {
	if p.IsAdmin() {
		return selectList[FeeReceipt](ctx, lm.db.db, feeReceiptList, opts)
	}
	acc, err := lm.GetFinancials(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return selectList[FeeReceipt](ctx, lm.db.db, feeReceiptList, opts, goqu.I("financial_account_id").Eq(acc.ID))
}

// TopUp records a pending top-up for the caller. The balance changes when the
// payment provider confirms it.
func (lm *LibraryManager) TopUp(ctx context.Context, p Principal, req TopUpRequest) (*Transaction, error) {
	if !req.Money.IsPositive() {
		return nil, validationErrorf("money must be positive")
	}
	var t Transaction
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		now := lm.now()
		acc, err := accountForUpdate(ctx, tx, p.UserID, now)
		if err != nil {
			return err
		}
		t = Transaction{FinancialAccountID: acc.ID, Money: req.Money, Status: TransactionPending, CreatedAt: now}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO transactions (financial_account_id, money, status, created_at)
            VALUES (:financial_account_id, :money, :status, :created_at)`, &t)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		t.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ConfirmTopUp settles the user's latest pending top-up as success or fail.
// Success credits the balance. Only administrators, acting for the payment
// provider, may confirm; a user cannot settle their own top-up.
func (lm *LibraryManager) ConfirmTopUp(ctx context.Context, p Principal, userID int64, status string) (*Transaction, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: only an administrator can confirm a top-up", ErrForbidden)
	}
	if status != TransactionSuccess && status != TransactionFail {
		return nil, validationErrorf("status must be %q or %q", TransactionSuccess, TransactionFail)
	}
	var t Transaction
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var acc FinancialAccount
		if err := tx.GetContext(ctx, &acc, `SELECT * FROM financial_accounts WHERE user_id = ?`, userID); err != nil {
			if isNoRows(err) {
				return notFoundf("user %d has no financial account", userID)
			}
			return err
		}
		if err := tx.GetContext(ctx, &t, `SELECT * FROM transactions WHERE financial_account_id = ? AND status = ?
            ORDER BY created_at DESC, id DESC LIMIT 1`, acc.ID, TransactionPending); err != nil {
			if isNoRows(err) {
				return notFoundf("no pending transaction")
			}
			return err
		}
		t.Status = status
		if _, err := tx.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, status, t.ID); err != nil {
			return err
		}
		if status != TransactionSuccess {
			return nil
		}
		acc.Balance = acc.Balance.Add(t.Money)
		acc.UpdatedAt = lm.now()
		return saveAccount(ctx, tx, &acc)
	})
	if err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{"transaction_id": t.ID, "status": t.Status}).Info("top-up confirmed")
	return &t, nil
}

// ListTransactions lists top-ups. Non-admins only see their own.
func (lm *LibraryManager) ListTransactions(ctx context.Context, p Principal, opts ListOptions) ([]Transaction, error) {
	if p.IsAdmin() {
		return selectList[Transaction](ctx, lm.db.db, transactionList, opts)
	}
	acc, err := lm.GetFinancials(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return selectList[Transaction](ctx, lm.db.db, transactionList, opts, goqu.I("financial_account_id").Eq(acc.ID))
}

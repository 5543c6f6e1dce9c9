package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// dialect builds SQL for list queries.
var dialect = goqu.Dialect("sqlite3")

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sqlx.DB

	insertBorrowItemStmt *sqlx.Stmt
	insertLostItemStmt   *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys. Transactions take the write lock up
	// front so concurrent workflows queue instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return newDatabase(db)
}

// newDatabase wraps an already migrated connection.
func newDatabase(db *sqlx.DB) (*Database, error) {
	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.insertBorrowItemStmt != nil {
		d.insertBorrowItemStmt.Close()
	}
	if d.insertLostItemStmt != nil {
		d.insertLostItemStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 3

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            role TEXT NOT NULL DEFAULT 'user',
            password_hash TEXT NOT NULL,
            password_changed_at DATETIME,
            password_reset_token TEXT,
            password_reset_expires DATETIME,
            active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS readers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
            full_name TEXT NOT NULL,
            reader_type TEXT NOT NULL,
            address TEXT NOT NULL,
            date_of_birth DATETIME NOT NULL,
            email TEXT NOT NULL UNIQUE,
            card_created_at DATETIME NOT NULL,
            expired_date DATETIME NOT NULL,
            is_borrowing BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            slug TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL,
            author TEXT NOT NULL,
            publisher TEXT NOT NULL,
            publication_year INTEGER NOT NULL,
            date_of_acquisition DATETIME NOT NULL,
            price TEXT NOT NULL,
            ratings_average REAL NOT NULL DEFAULT 0,
            ratings_quantity INTEGER NOT NULL DEFAULT 0,
            description TEXT NOT NULL DEFAULT '',
            number_of_books INTEGER NOT NULL DEFAULT 5 CHECK (number_of_books >= 0),
            number_of_pages INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_forms (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            borrower_id INTEGER NOT NULL REFERENCES readers(id),
            borrow_date DATETIME NOT NULL,
            expected_return_date DATETIME NOT NULL,
            is_returned BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_form_books (
            form_id INTEGER NOT NULL REFERENCES borrow_forms(id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            book_id INTEGER NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            PRIMARY KEY (form_id, position)
        );`,
		`CREATE TABLE IF NOT EXISTS return_forms (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            borrow_form_id INTEGER NOT NULL UNIQUE REFERENCES borrow_forms(id),
            borrower_id INTEGER NOT NULL,
            return_date DATETIME NOT NULL,
            fee TEXT NOT NULL DEFAULT '0'
        );`,
		`CREATE TABLE IF NOT EXISTS return_form_lost_books (
            form_id INTEGER NOT NULL REFERENCES return_forms(id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            book_id INTEGER NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity > 0),
            PRIMARY KEY (form_id, position)
        );`,
		`CREATE TABLE IF NOT EXISTS financial_accounts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL UNIQUE,
            balance TEXT NOT NULL DEFAULT '0',
            total_debt TEXT NOT NULL DEFAULT '0',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS fee_receipts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            financial_account_id INTEGER NOT NULL REFERENCES financial_accounts(id),
            balance TEXT NOT NULL,
            total_debt TEXT NOT NULL,
            amount_paid TEXT NOT NULL,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            financial_account_id INTEGER NOT NULL REFERENCES financial_accounts(id),
            money TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS reviews (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            review TEXT NOT NULL,
            rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
            created_at DATETIME NOT NULL,
            UNIQUE(book_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            price TEXT NOT NULL,
            paid BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS order_books (
            order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            book_id INTEGER NOT NULL,
            PRIMARY KEY (order_id, position)
        );`,
		`CREATE TABLE IF NOT EXISTS settings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            age_min INTEGER NOT NULL,
            age_max INTEGER NOT NULL,
            expired_months INTEGER NOT NULL,
            publication_years INTEGER NOT NULL,
            borrowing_days INTEGER NOT NULL,
            max_copies INTEGER NOT NULL,
            late_fee_per_day TEXT NOT NULL,
            created_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_forms_borrower ON borrow_forms(borrower_id, is_returned);`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_form_books_book ON borrow_form_books(book_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(financial_account_id, created_at);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		var args []any
		if strings.Contains(stmt, "?") {
			args = append(args, schemaVersion)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.insertBorrowItemStmt, err = d.db.Preparex(`INSERT INTO borrow_form_books(form_id,position,book_id,quantity) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.insertLostItemStmt, err = d.db.Preparex(`INSERT INTO return_form_lost_books(form_id,position,book_id,quantity) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// withTx runs fn in a single transaction. Any error from fn rolls everything back.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

package library

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// LibraryManager is the service layer over the Database. It owns the
// workflows and the checks that need the caller's identity, keeping
// transport code simple.
type LibraryManager struct {
	db         *Database
	settings   SettingsSource
	defaults   Settings
	clock      func() time.Time
	log        logrus.FieldLogger
	mailer     Mailer
	bcryptCost int
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithDefaults sets the thresholds used until an administrator stores a revision.
func WithDefaults(s Settings) Option {
	return func(lm *LibraryManager) { lm.defaults = s }
}

// WithSettingsSource replaces the stored settings with src.
func WithSettingsSource(src SettingsSource) Option {
	return func(lm *LibraryManager) { lm.settings = src }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(lm *LibraryManager) { lm.clock = clock }
}

// WithLogger sets the logger used for workflow outcomes.
func WithLogger(log logrus.FieldLogger) Option {
	return func(lm *LibraryManager) { lm.log = log }
}

// WithMailer sets where password reset links are delivered.
func WithMailer(m Mailer) Option {
	return func(lm *LibraryManager) { lm.mailer = m }
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(lm *LibraryManager) { lm.bcryptCost = cost }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerWithDB(db, opts...), nil
}

// NewLibraryManagerWithDB builds a manager over an open Database.
func NewLibraryManagerWithDB(db *Database, opts ...Option) *LibraryManager {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	lm := &LibraryManager{
		db:         db,
		defaults:   DefaultSettings(),
		clock:      time.Now,
		log:        discard,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.settings == nil {
		lm.settings = storedSettings{db: db, defaults: lm.defaults}
	}
	if lm.mailer == nil {
		lm.mailer = LogMailer{Log: lm.log}
	}
	return lm
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// DB exposes the store for components that work below the service layer.
func (lm *LibraryManager) DB() *Database { return lm.db }

func (lm *LibraryManager) now() time.Time { return lm.clock().UTC() }

// Now reads the manager's clock, in UTC.
func (lm *LibraryManager) Now() time.Time { return lm.now() }

// ------------------ Utilities ------------------

// PrettyBook formats a book for tabular listings.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-25s %-8d %10s", b.ID, truncate(b.Name, 30), truncate(b.Author, 25), b.NumberOfBooks, b.Price.StringFixed(2))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

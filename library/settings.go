package library

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the library thresholds consumed by the workflows. Every update
// stores a new revision; the newest revision is in effect.
type Settings struct {
	ID               int64           `json:"id,omitempty" db:"id"`
	AgeMin           int             `json:"ageMin" db:"age_min"`
	AgeMax           int             `json:"ageMax" db:"age_max"`
	ExpiredMonths    int             `json:"expiredMonths" db:"expired_months"`
	PublicationYears int             `json:"publicationYears" db:"publication_years"`
	BorrowingDays    int             `json:"borrowingDays" db:"borrowing_days"`
	MaxCopies        int             `json:"maxCopies" db:"max_copies"`
	LateFeePerDay    decimal.Decimal `json:"lateFeePerDay" db:"late_fee_per_day"`
	CreatedAt        time.Time       `json:"createdAt,omitempty" db:"created_at"`
}

// DefaultSettings returns the thresholds used before any revision is stored.
func DefaultSettings() Settings {
	return Settings{
		AgeMin:           18,
		AgeMax:           55,
		ExpiredMonths:    6,
		PublicationYears: 8,
		BorrowingDays:    7,
		MaxCopies:        100,
		LateFeePerDay:    decimal.NewFromInt(1),
	}
}

// Validate checks that every threshold is usable.
func (s Settings) Validate() error {
	for name, v := range map[string]int{
		"ageMin":           s.AgeMin,
		"ageMax":           s.AgeMax,
		"expiredMonths":    s.ExpiredMonths,
		"publicationYears": s.PublicationYears,
		"borrowingDays":    s.BorrowingDays,
		"maxCopies":        s.MaxCopies,
	} {
		if v <= 0 {
			return validationErrorf("%s must be a positive integer", name)
		}
	}
	if s.AgeMin >= s.AgeMax {
		return validationErrorf("ageMin must be less than ageMax")
	}
	if s.LateFeePerDay.IsNegative() {
		return validationErrorf("lateFeePerDay must not be negative")
	}
	return nil
}

// SettingsPatch carries the fields an administrator wants to change.
type SettingsPatch struct {
	AgeMin           *int             `json:"ageMin" validate:"omitempty,gt=0"`
	AgeMax           *int             `json:"ageMax" validate:"omitempty,gt=0"`
	ExpiredMonths    *int             `json:"expiredMonths" validate:"omitempty,gt=0"`
	PublicationYears *int             `json:"publicationYears" validate:"omitempty,gt=0"`
	BorrowingDays    *int             `json:"borrowingDays" validate:"omitempty,gt=0"`
	MaxCopies        *int             `json:"maxCopies" validate:"omitempty,gt=0"`
	LateFeePerDay    *decimal.Decimal `json:"lateFeePerDay"`
}

// Apply returns s with every non-nil field of p replaced.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.AgeMin != nil {
		s.AgeMin = *p.AgeMin
	}
	if p.AgeMax != nil {
		s.AgeMax = *p.AgeMax
	}
	if p.ExpiredMonths != nil {
		s.ExpiredMonths = *p.ExpiredMonths
	}
	if p.PublicationYears != nil {
		s.PublicationYears = *p.PublicationYears
	}
	if p.BorrowingDays != nil {
		s.BorrowingDays = *p.BorrowingDays
	}
	if p.MaxCopies != nil {
		s.MaxCopies = *p.MaxCopies
	}
	if p.LateFeePerDay != nil {
		s.LateFeePerDay = *p.LateFeePerDay
	}
	return s
}

// SettingsSource supplies the thresholds in effect at the time of the call.
type SettingsSource interface {
	CurrentSettings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

// CurrentSettings implements SettingsSource.
func (s StaticSettings) CurrentSettings(context.Context) (Settings, error) { return Settings(s), nil }

// storedSettings reads the newest stored revision, falling back to defaults.
type storedSettings struct {
	db       *Database
	defaults Settings
}

func (s storedSettings) CurrentSettings(ctx context.Context) (Settings, error) {
	latest, err := s.db.LatestSettings(ctx)
	if err != nil {
		if isNoRows(err) {
			return s.defaults, nil
		}
		return Settings{}, err
	}
	return *latest, nil
}

// LatestSettings returns the newest stored revision or sql.ErrNoRows.
func (d *Database) LatestSettings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := d.db.GetContext(ctx, &s, `SELECT * FROM settings ORDER BY id DESC LIMIT 1`); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSettings stores s as a new revision and sets its ID.
func (d *Database) InsertSettings(ctx context.Context, s *Settings) error {
	res, err := d.db.NamedExecContext(ctx, `INSERT INTO settings
        (age_min, age_max, expired_months, publication_years, borrowing_days, max_copies, late_fee_per_day, created_at)
        VALUES (:age_min, :age_max, :expired_months, :publication_years, :borrowing_days, :max_copies, :late_fee_per_day, :created_at)`, s)
	if err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

// CurrentSettings returns the thresholds in effect.
func (lm *LibraryManager) CurrentSettings(ctx context.Context) (Settings, error) {
	return lm.settings.CurrentSettings(ctx)
}

// UpdateSettings merges patch into the current thresholds and stores the
// result as a new revision.
func (lm *LibraryManager) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	if err := validateStruct(patch); err != nil {
		return Settings{}, err
	}
	current, err := lm.settings.CurrentSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	next.ID = 0
	next.CreatedAt = lm.now()
	if err := lm.db.InsertSettings(ctx, &next); err != nil {
		return Settings{}, err
	}
	lm.log.WithField("settings_id", next.ID).Info("settings updated")
	return next, nil
}

// Package workers runs the periodic background jobs of the server.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"library-backend/library"
)

// Library is the part of the library the overdue scan reads.
type Library interface {
	OverdueForms(ctx context.Context) ([]library.BorrowForm, error)
	ExpiredReaders(ctx context.Context) ([]library.Reader, error)
}

// Purger drops expired idempotency entries.
type Purger interface {
	Purge() (int, error)
}

// Sweeper forgets idle rate-limit buckets.
type Sweeper interface {
	Cleanup(maxIdle time.Duration) int
}

// Scheduler runs the overdue scan and store maintenance on cron schedules.
type Scheduler struct {
	lib     Library
	purger  Purger
	sweeper Sweeper
	log     logrus.FieldLogger
	cron    *cron.Cron
	timeout time.Duration
	maxIdle time.Duration
	now     func() time.Time

	overdue prometheus.Gauge
	expired prometheus.Gauge
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPurger purges idempotency keys during maintenance.
func WithPurger(p Purger) Option { return func(s *Scheduler) { s.purger = p } }

// WithSweeper cleans rate-limit buckets idle for longer than maxIdle during
// maintenance.
func WithSweeper(sw Sweeper, maxIdle time.Duration) Option {
	return func(s *Scheduler) {
		s.sweeper = sw
		s.maxIdle = maxIdle
	}
}

// WithClock sets the clock lateness is measured against. It should be the
// library's clock.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithRegistry exports the scan results as gauges.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.overdue = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "library",
			Name:      "overdue_borrow_forms",
			Help:      "Open borrow forms past their expected return date at the last scan.",
		})
		s.expired = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "library",
			Name:      "expired_readers",
			Help:      "Reader cards past their expiry date at the last scan.",
		})
		reg.MustRegister(s.overdue, s.expired)
	}
}

func NewScheduler(lib Library, log logrus.FieldLogger, opts ...Option) *Scheduler {
	s := &Scheduler{lib: lib, log: log, timeout: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Schedule registers the overdue scan and the maintenance job. An empty
// schedule disables that job.
func (s *Scheduler) Schedule(overdueSpec, maintenanceSpec string) error {
	if overdueSpec != "" {
		if _, err := s.cron.AddFunc(overdueSpec, s.job("overdue scan", s.ScanOverdue)); err != nil {
			return fmt.Errorf("schedule overdue scan %q: %w", overdueSpec, err)
		}
	}
	if maintenanceSpec != "" {
		if _, err := s.cron.AddFunc(maintenanceSpec, s.job("maintenance", s.Maintain)); err != nil {
			return fmt.Errorf("schedule maintenance %q: %w", maintenanceSpec, err)
		}
	}
	return nil
}

func (s *Scheduler) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.WithError(err).WithField("job", name).Error("background job failed")
		}
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("background jobs still running at shutdown")
	}
}

// ScanOverdue logs every overdue borrow form and expired reader card.
func (s *Scheduler) ScanOverdue(ctx context.Context) error {
	forms, err := s.lib.OverdueForms(ctx)
	if err != nil {
		return fmt.Errorf("list overdue forms: %w", err)
	}
	now := s.now()
	for _, f := range forms {
		s.log.WithFields(logrus.Fields{
			"borrow_form_id": f.ID,
			"reader_id":      f.BorrowerID,
			"expected":       f.ExpectedReturnDate.Format(time.DateOnly),
			"days_late":      int(now.Sub(f.ExpectedReturnDate).Hours() / 24),
		}).Warn("borrow form overdue")
	}

	readers, err := s.lib.ExpiredReaders(ctx)
	if err != nil {
		return fmt.Errorf("list expired readers: %w", err)
	}
	for _, r := range readers {
		s.log.WithFields(logrus.Fields{
			"reader_id": r.ID,
			"user_id":   r.UserID,
			"expired":   r.ExpiredDate.Format(time.DateOnly),
		}).Info("reader card expired")
	}

	if s.overdue != nil {
		s.overdue.Set(float64(len(forms)))
		s.expired.Set(float64(len(readers)))
	}
	s.log.WithFields(logrus.Fields{"overdue": len(forms), "expired_readers": len(readers)}).Info("overdue scan finished")
	return nil
}

// Maintain purges stale idempotency keys and idle rate-limit buckets.
func (s *Scheduler) Maintain(context.Context) error {
	if s.sweeper != nil {
		if n := s.sweeper.Cleanup(s.maxIdle); n > 0 {
			s.log.WithField("buckets", n).Debug("dropped idle rate limit buckets")
		}
	}
	if s.purger == nil {
		return nil
	}
	n, err := s.purger.Purge()
	if err != nil {
		return fmt.Errorf("purge idempotency keys: %w", err)
	}
	if n > 0 {
		s.log.WithField("keys", n).Debug("purged idempotency keys")
	}
	return nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{ log logrus.FieldLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithFields(pairs(kv)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithError(err).WithFields(pairs(kv)).Error("cron: " + msg)
}

func pairs(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/library"
)

type fakeLibrary struct {
	forms   []library.BorrowForm
	readers []library.Reader
	err     error
}

func (f fakeLibrary) OverdueForms(context.Context) ([]library.BorrowForm, error) {
	return f.forms, f.err
}

func (f fakeLibrary) ExpiredReaders(context.Context) ([]library.Reader, error) {
	return f.readers, nil
}

type countingPurger struct{ calls, n int }

func (p *countingPurger) Purge() (int, error) {
	p.calls++
	return p.n, nil
}

type countingSweeper struct{ maxIdle time.Duration }

func (s *countingSweeper) Cleanup(maxIdle time.Duration) int {
	s.maxIdle = maxIdle
	return 1
}

func TestScanOverdueLogsAndExports(t *testing.T) {
	log, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lib := fakeLibrary{
		forms: []library.BorrowForm{
			{ID: 1, BorrowerID: 10, ExpectedReturnDate: now.AddDate(0, 0, -3)},
			{ID: 2, BorrowerID: 11, ExpectedReturnDate: now.AddDate(0, 0, -1)},
		},
		readers: []library.Reader{{ID: 10, UserID: 3, ExpiredDate: now.Add(-time.Hour)}},
	}
	s := NewScheduler(lib, log, WithRegistry(reg), WithClock(func() time.Time { return now }))

	require.NoError(t, s.ScanOverdue(context.Background()))

	lateness := map[int64]int{}
	for _, e := range hook.AllEntries() {
		if e.Message == "borrow form overdue" {
			assert.Equal(t, logrus.WarnLevel, e.Level)
			lateness[e.Data["borrow_form_id"].(int64)] = e.Data["days_late"].(int)
		}
	}
	assert.Equal(t, map[int64]int{1: 3, 2: 1}, lateness)
	assert.Equal(t, "overdue scan finished", hook.LastEntry().Message)
	assert.Equal(t, 2, hook.LastEntry().Data["overdue"])

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 2.0, got["library_overdue_borrow_forms"])
	assert.Equal(t, 1.0, got["library_expired_readers"])
}

func TestScanOverdueError(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewScheduler(fakeLibrary{err: errors.New("db closed")}, log)
	assert.ErrorContains(t, s.ScanOverdue(context.Background()), "db closed")
}

func TestMaintain(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &countingPurger{n: 3}
	sw := &countingSweeper{}
	s := NewScheduler(fakeLibrary{}, log, WithPurger(p), WithSweeper(sw, 5*time.Minute))

	require.NoError(t, s.Maintain(context.Background()))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 5*time.Minute, sw.maxIdle)
}

func TestSchedule(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewScheduler(fakeLibrary{}, log)
	assert.NoError(t, s.Schedule("@every 1h", ""))
	assert.Error(t, s.Schedule("not a schedule", ""))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

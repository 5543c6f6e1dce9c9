package library

import (
	"errors"
	"testing"
)

func TestUpdateSettingsStoresRevisions(t *testing.T) {
	mgr, clock := newManager(t)

	days := 10
	first, err := mgr.UpdateSettings(ctx, SettingsPatch{BorrowingDays: &days})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if first.BorrowingDays != 10 || first.MaxCopies != 100 {
		t.Fatalf("patch not merged over defaults: %+v", first)
	}

	clock.Advance(day)
	fee := dec("2.5")
	second, err := mgr.UpdateSettings(ctx, SettingsPatch{LateFeePerDay: &fee})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("want a new revision, got ids %d then %d", first.ID, second.ID)
	}
	if second.BorrowingDays != 10 || !second.LateFeePerDay.Equal(fee) {
		t.Fatalf("second revision lost earlier change: %+v", second)
	}

	current, err := mgr.CurrentSettings(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.ID != second.ID || !current.CreatedAt.Equal(epoch.Add(day)) {
		t.Fatalf("latest revision not in effect: %+v", current)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	mgr, _ := newManager(t)
	zero, low, high := 0, 60, 30
	negative := dec("-1")

	cases := []struct {
		name  string
		patch SettingsPatch
	}{
		{"zero borrowing days", SettingsPatch{BorrowingDays: &zero}},
		{"min above max", SettingsPatch{AgeMin: &low, AgeMax: &high}},
		{"negative late fee", SettingsPatch{LateFeePerDay: &negative}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.UpdateSettings(ctx, tc.patch); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
	if _, err := mgr.DB().LatestSettings(ctx); !isNoRows(err) {
		t.Fatalf("rejected patches stored a revision: %v", err)
	}
}

func TestStaticSettingsSource(t *testing.T) {
	s := DefaultSettings()
	s.LateFeePerDay = dec("3")
	mgr, clock := newManager(t, WithSettingsSource(StaticSettings(s)))
	p, _ := member(t, mgr, "ann@example.com")
	a := mustBook(t, mgr, "Costly", "5", 5)

	form, _ := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}})
	clock.Advance(9 * day)
	rf, err := mgr.Return(ctx, p, ReturnRequest{BorrowFormID: form.ID})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if !rf.Fee.Equal(dec("6")) {
		t.Fatalf("want 2 days at 3, got %s", rf.Fee)
	}
}

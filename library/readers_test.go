package library

import (
	"errors"
	"testing"
	"time"
)

func TestCreateReader(t *testing.T) {
	mgr, _ := newManager(t)
	p, r := member(t, mgr, "Ann@Example.com")

	if r.Email != "ann@example.com" || r.UserID != p.UserID {
		t.Fatalf("reader not tied to user: %+v", r)
	}
	if !r.ExpiredDate.Equal(epoch.AddDate(0, 6, 0)) || !r.CardCreatedAt.Equal(epoch) {
		t.Fatalf("unexpected card dates: %+v", r)
	}
	if r.IsBorrowing {
		t.Fatalf("new card should not be borrowing")
	}

	_, err := mgr.CreateReader(ctx, p, ReaderRequest{Address: "2 Elm", DateOfBirth: time.Date(1991, 1, 1, 0, 0, 0, 0, time.UTC)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("second card: want ErrValidation, got %v", err)
	}

	mine, err := mgr.MyReader(ctx, p)
	if err != nil || mine.ID != r.ID {
		t.Fatalf("my reader: %v %+v", err, mine)
	}
}

func TestCreateReaderDefaults(t *testing.T) {
	mgr, _ := newManager(t)
	u := mustUser(t, mgr, "bob@example.com")
	r, err := mgr.CreateReader(ctx, Principal{UserID: u.ID, Role: RoleUser}, ReaderRequest{
		Address:     "3 Oak",
		DateOfBirth: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.FullName != "Anonymous" || r.ReaderType == "" {
		t.Fatalf("defaults not applied: %+v", r)
	}
}

func TestCreateReaderAgeBounds(t *testing.T) {
	mgr, _ := newManager(t)
	tests := []struct {
		name string
		dob  time.Time
		ok   bool
	}{
		{"too young", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"turns 18 tomorrow", time.Date(2008, 3, 11, 0, 0, 0, 0, time.UTC), false},
		{"turned 18 today", time.Date(2008, 3, 10, 0, 0, 0, 0, time.UTC), true},
		{"55", time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"too old", time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"missing", time.Time{}, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustUser(t, mgr, string(rune('a'+i))+"@example.com")
			_, err := mgr.CreateReader(ctx, Principal{UserID: u.ID, Role: RoleUser}, ReaderRequest{Address: "x", DateOfBirth: tt.dob})
			if tt.ok && err != nil {
				t.Fatalf("want success, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateReaderForAnotherUser(t *testing.T) {
	mgr, _ := newManager(t)
	a := mustUser(t, mgr, "ann@example.com")
	b := mustUser(t, mgr, "ben@example.com")
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := mgr.CreateReader(ctx, Principal{UserID: a.ID, Role: RoleUser}, ReaderRequest{UserID: b.ID, Address: "x", DateOfBirth: dob})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	r, err := mgr.CreateReader(ctx, admin, ReaderRequest{UserID: b.ID, Address: "x", DateOfBirth: dob})
	if err != nil || r.UserID != b.ID || r.Email != "ben@example.com" {
		t.Fatalf("admin create: %v %+v", err, r)
	}
	if _, err := mgr.CreateReader(ctx, admin, ReaderRequest{UserID: 999, Address: "x", DateOfBirth: dob}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: want ErrNotFound, got %v", err)
	}
}

func TestReaderAccess(t *testing.T) {
	mgr, _ := newManager(t)
	_, r := member(t, mgr, "ann@example.com")
	other, _ := member(t, mgr, "ben@example.com")

	if _, err := mgr.GetReader(ctx, other, r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("get: want ErrForbidden, got %v", err)
	}
	addr := "elsewhere"
	if _, err := mgr.UpdateReader(ctx, other, r.ID, ReaderPatch{Address: &addr}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update: want ErrForbidden, got %v", err)
	}
	if err := mgr.DeleteReader(ctx, other, r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete: want ErrForbidden, got %v", err)
	}
	if _, err := mgr.GetReader(ctx, admin, r.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	all, err := mgr.ListReaders(ctx, ListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %v %d", err, len(all))
	}
}

func TestReaderLockedWhileBorrowing(t *testing.T) {
	mgr, _ := newManager(t)
	p, r := member(t, mgr, "ann@example.com")
	b := mustBook(t, mgr, "Out", "5", 5)

	form, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{b.ID, 1}}})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	addr := "new address"
	if _, err := mgr.UpdateReader(ctx, p, r.ID, ReaderPatch{Address: &addr}); !errors.Is(err, ErrValidation) {
		t.Fatalf("update while borrowing: want ErrValidation, got %v", err)
	}
	if err := mgr.DeleteReader(ctx, p, r.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("delete while borrowing: want ErrValidation, got %v", err)
	}

	if _, err := mgr.Return(ctx, p, ReturnRequest{BorrowFormID: form.ID}); err != nil {
		t.Fatalf("return: %v", err)
	}
	got, err := mgr.UpdateReader(ctx, p, r.ID, ReaderPatch{Address: &addr})
	if err != nil || got.Address != addr {
		t.Fatalf("update after return: %v %+v", err, got)
	}
	if err := mgr.DeleteReader(ctx, p, r.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("delete with history: want ErrValidation, got %v", err)
	}
}

func TestUpdateReaderChecksAge(t *testing.T) {
	mgr, _ := newManager(t)
	p, r := member(t, mgr, "ann@example.com")
	young := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := mgr.UpdateReader(ctx, p, r.ID, ReaderPatch{DateOfBirth: &young}); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestExpiredReaders(t *testing.T) {
	mgr, clock := newManager(t)
	member(t, mgr, "ann@example.com")
	clock.Advance(day)
	member(t, mgr, "ben@example.com")

	expired, err := mgr.ExpiredReaders(ctx)
	if err != nil || len(expired) != 0 {
		t.Fatalf("fresh cards expired: %v %d", err, len(expired))
	}

	clock.Advance(184*day - 12*time.Hour)
	expired, err = mgr.ExpiredReaders(ctx)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].Email != "ann@example.com" {
		t.Fatalf("want only ann expired, got %+v", expired)
	}
}

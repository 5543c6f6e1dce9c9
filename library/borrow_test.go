package library

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBorrowDecrementsEveryLine(t *testing.T) {
	mgr, _ := newManager(t)
	p, reader := member(t, mgr, "ann@example.com")
	a := mustBook(t, mgr, "Book A", "10.00", 5)
	b := mustBook(t, mgr, "Book B", "12.50", 4)

	form, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 2}, {b.ID, 3}}})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if form.BorrowerID != reader.ID || form.IsReturned {
		t.Fatalf("unexpected form %+v", form)
	}
	if want := epoch.AddDate(0, 0, 7); !form.ExpectedReturnDate.Equal(want) {
		t.Fatalf("expected return %v, want %v", form.ExpectedReturnDate, want)
	}
	if n := available(t, mgr, a.ID); n != 3 {
		t.Fatalf("book A: want 3, got %d", n)
	}
	if n := available(t, mgr, b.ID); n != 1 {
		t.Fatalf("book B: want 1, got %d", n)
	}

	got, err := mgr.GetBorrowForm(ctx, p, form.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Books) != 2 || got.Books[0] != (LineItem{a.ID, 2}) || got.Books[1] != (LineItem{b.ID, 3}) {
		t.Fatalf("lines not stored in order: %+v", got.Books)
	}
	r, _ := mgr.MyReader(ctx, p)
	if !r.IsBorrowing {
		t.Fatalf("reader should be flagged as borrowing")
	}
}

func TestBorrowIsAllOrNothing(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "ben@example.com")
	a := mustBook(t, mgr, "Plenty", "5", 5)
	b := mustBook(t, mgr, "Scarce", "5", 2)

	_, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}, {b.ID, 3}}})
	if !errors.Is(err, ErrBooksUnavailable) {
		t.Fatalf("want ErrBooksUnavailable, got %v", err)
	}
	if n := available(t, mgr, a.ID); n != 5 {
		t.Fatalf("book A changed to %d", n)
	}
	if n := available(t, mgr, b.ID); n != 2 {
		t.Fatalf("book B changed to %d", n)
	}
	forms, err := mgr.ListBorrowForms(ctx, admin, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forms) != 0 {
		t.Fatalf("failed borrow left %d forms", len(forms))
	}
	r, _ := mgr.MyReader(ctx, p)
	if r.IsBorrowing {
		t.Fatalf("failed borrow flagged the reader")
	}
}

func TestBorrowLastCopyTwice(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "cat@example.com")
	a := mustBook(t, mgr, "Only One", "5", 1)

	if _, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}}); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if n := available(t, mgr, a.ID); n != 0 {
		t.Fatalf("want 0, got %d", n)
	}
	if _, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}}); !errors.Is(err, ErrBooksUnavailable) {
		t.Fatalf("second borrow: want ErrBooksUnavailable, got %v", err)
	}
	if n := available(t, mgr, a.ID); n != 0 {
		t.Fatalf("want 0 after failed borrow, got %d", n)
	}
}

func TestConcurrentBorrowersOfLastCopy(t *testing.T) {
	mgr, _ := newManager(t)
	a := mustBook(t, mgr, "Contended", "5", 1)

	const borrowers = 8
	principals := make([]Principal, borrowers)
	for i := range principals {
		principals[i], _ = member(t, mgr, "reader"+string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	errs := make([]error, borrowers)
	for i := range principals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Borrow(ctx, principals[i], BorrowRequest{Books: []LineItem{{a.ID, 1}}})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrBooksUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("want exactly one successful borrow, got %d", ok)
	}
	if n := available(t, mgr, a.ID); n != 0 {
		t.Fatalf("want 0, got %d", n)
	}
}

func TestBorrowValidation(t *testing.T) {
	mgr, clock := newManager(t)
	p, _ := member(t, mgr, "dan@example.com")
	a := mustBook(t, mgr, "Valid", "5", 5)

	cases := []struct {
		name string
		req  BorrowRequest
		want error
	}{
		{"no lines", BorrowRequest{}, ErrValidation},
		{"empty lines", BorrowRequest{Books: []LineItem{}}, ErrValidation},
		{"zero quantity", BorrowRequest{Books: []LineItem{{a.ID, 0}}}, ErrValidation},
		{"negative quantity", BorrowRequest{Books: []LineItem{{a.ID, -2}}}, ErrValidation},
		{"missing book", BorrowRequest{Books: []LineItem{{a.ID + 100, 1}}}, ErrBooksUnavailable},
		{"unknown reader", BorrowRequest{BorrowerID: 999, Books: []LineItem{{a.ID, 1}}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Borrow(ctx, p, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	stranger := Principal{UserID: mustUser(t, mgr, "nocard@example.com").ID, Role: RoleUser}
	if _, err := mgr.Borrow(ctx, stranger, BorrowRequest{Books: []LineItem{{a.ID, 1}}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no reader card: want ErrNotFound, got %v", err)
	}

	clock.Advance(7 * 30 * 24 * time.Hour)
	if _, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expired card: want ErrValidation, got %v", err)
	}
	if n := available(t, mgr, a.ID); n != 5 {
		t.Fatalf("rejected borrows changed count to %d", n)
	}
}

func TestBorrowForAnotherReader(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "eve@example.com")
	_, other := member(t, mgr, "fay@example.com")
	a := mustBook(t, mgr, "Shared", "5", 5)

	if _, err := mgr.Borrow(ctx, p, BorrowRequest{BorrowerID: other.ID, Books: []LineItem{{a.ID, 1}}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	due := epoch.AddDate(0, 0, 3)
	form, err := mgr.Borrow(ctx, admin, BorrowRequest{BorrowerID: other.ID, Books: []LineItem{{a.ID, 1}}, ExpectedReturnDate: &due})
	if err != nil {
		t.Fatalf("admin borrow: %v", err)
	}
	if !form.ExpectedReturnDate.Equal(due) {
		t.Fatalf("admin due date ignored: %v", form.ExpectedReturnDate)
	}
	if _, err := mgr.GetBorrowForm(ctx, p, form.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reading another reader's form: want ErrForbidden, got %v", err)
	}
}

func TestBorrowUsesCurrentSettings(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "gus@example.com")
	a := mustBook(t, mgr, "Long Loan", "5", 5)

	days := 14
	if _, err := mgr.UpdateSettings(ctx, SettingsPatch{BorrowingDays: &days}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	form, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if want := epoch.AddDate(0, 0, 14); !form.ExpectedReturnDate.Equal(want) {
		t.Fatalf("expected return %v, want %v", form.ExpectedReturnDate, want)
	}
}

func TestCancelBorrowReleasesCopies(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "hal@example.com")
	a := mustBook(t, mgr, "Cancelled", "5", 5)

	form, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 2}, {a.ID, 1}}})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if n := available(t, mgr, a.ID); n != 2 {
		t.Fatalf("want 2, got %d", n)
	}
	if err := mgr.CancelBorrow(ctx, p, form.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := available(t, mgr, a.ID); n != 5 {
		t.Fatalf("want 5 after cancel, got %d", n)
	}
	if _, err := mgr.GetBorrowForm(ctx, p, form.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	r, _ := mgr.MyReader(ctx, p)
	if r.IsBorrowing {
		t.Fatalf("reader still flagged after cancelling the only form")
	}

	form, _ = mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}})
	if _, err := mgr.Return(ctx, p, ReturnRequest{BorrowFormID: form.ID}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := mgr.CancelBorrow(ctx, p, form.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("cancel returned form: want ErrValidation, got %v", err)
	}
}

func TestOverdueForms(t *testing.T) {
	mgr, clock := newManager(t)
	p, _ := member(t, mgr, "ivy@example.com")
	a := mustBook(t, mgr, "Late", "5", 5)

	late, _ := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}})
	clock.Advance(5 * 24 * time.Hour)
	if _, err := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}}); err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	clock.Advance(3 * 24 * time.Hour)

	overdue, err := mgr.OverdueForms(ctx)
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.ID || len(overdue[0].Books) != 1 {
		t.Fatalf("want only form %d overdue, got %+v", late.ID, overdue)
	}
}

func TestExtendBorrowForm(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "jay@example.com")
	a := mustBook(t, mgr, "Extended", "5", 5)
	form, _ := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{a.ID, 1}}})

	due := form.ExpectedReturnDate.AddDate(0, 0, 7)
	got, err := mgr.ExtendBorrowForm(ctx, form.ID, due)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !got.ExpectedReturnDate.Equal(due) {
		t.Fatalf("want %v, got %v", due, got.ExpectedReturnDate)
	}
	if _, err := mgr.ExtendBorrowForm(ctx, form.ID, epoch.Add(-time.Hour)); !errors.Is(err, ErrValidation) {
		t.Fatalf("due before borrow: want ErrValidation, got %v", err)
	}
}

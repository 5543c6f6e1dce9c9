package library

import (
	"errors"
	"testing"
)

func TestCreateOrder(t *testing.T) {
	mgr, _ := newManager(t)
	p := Principal{UserID: mustUser(t, mgr, "ann@example.com").ID, Role: RoleUser}
	a := mustBook(t, mgr, "First", "10.50", 5)
	b := mustBook(t, mgr, "Second", "4.25", 5)

	o, err := mgr.CreateOrder(ctx, p, OrderRequest{Books: []int64{a.ID, 999, b.ID}})
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !o.Price.Equal(dec("14.75")) || !o.Paid {
		t.Fatalf("unexpected order %+v", o)
	}
	if len(o.Books) != 2 || o.Books[0] != a.ID || o.Books[1] != b.ID {
		t.Fatalf("missing ids should be dropped: %v", o.Books)
	}

	got, err := mgr.GetOrder(ctx, p, o.ID)
	if err != nil || len(got.Books) != 2 || !got.Price.Equal(o.Price) {
		t.Fatalf("get: %v %+v", err, got)
	}
	if available(t, mgr, a.ID) != 5 {
		t.Fatalf("orders must not touch inventory")
	}

	if _, err := mgr.CreateOrder(ctx, p, OrderRequest{Books: []int64{998, 999}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no existing books: want ErrNotFound, got %v", err)
	}
	if _, err := mgr.CreateOrder(ctx, p, OrderRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty: want ErrValidation, got %v", err)
	}
}

func TestOrderVisibility(t *testing.T) {
	mgr, _ := newManager(t)
	a := Principal{UserID: mustUser(t, mgr, "ann@example.com").ID, Role: RoleUser}
	b := Principal{UserID: mustUser(t, mgr, "ben@example.com").ID, Role: RoleUser}
	book := mustBook(t, mgr, "Bought", "3", 5)

	oa, _ := mgr.CreateOrder(ctx, a, OrderRequest{Books: []int64{book.ID}})
	mgr.CreateOrder(ctx, b, OrderRequest{Books: []int64{book.ID, book.ID}})

	if _, err := mgr.GetOrder(ctx, b, oa.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign order: want ErrForbidden, got %v", err)
	}
	mine, err := mgr.MyOrders(ctx, a, ListOptions{})
	if err != nil || len(mine) != 1 || mine[0].ID != oa.ID {
		t.Fatalf("my orders: %v %+v", err, mine)
	}
	all, err := mgr.ListOrders(ctx, ListOptions{Filters: []Filter{{Field: "price", Op: "gt", Value: "5"}}})
	if err != nil || len(all) != 1 || len(all[0].Books) != 2 {
		t.Fatalf("list: %v %+v", err, all)
	}

	if err := mgr.DeleteOrder(ctx, oa.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.DeleteOrder(ctx, oa.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

package library

import (
	"errors"
	"testing"
)

func TestCreateBookDefaultsAndSlug(t *testing.T) {
	mgr, _ := newManager(t)
	b, err := mgr.CreateBook(ctx, BookRequest{
		Name:            "The Go Programming Language",
		Type:            "reference",
		Author:          "Donovan",
		Publisher:       "AW",
		PublicationYear: 2022,
		Price:           "39.99",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Slug != "the-go-programming-language" {
		t.Fatalf("unexpected slug %q", b.Slug)
	}
	if b.NumberOfBooks != DefaultCopies || !b.DateOfAcquisition.Equal(epoch) {
		t.Fatalf("defaults not applied: %+v", b)
	}
	got, err := mgr.GetBookBySlug(ctx, b.Slug)
	if err != nil || got.ID != b.ID || !got.Price.Equal(dec("39.99")) {
		t.Fatalf("get by slug: %v %+v", err, got)
	}
}

func TestCreateBookValidation(t *testing.T) {
	mgr, _ := newManager(t)
	mustBook(t, mgr, "Taken", "1", 1)
	over := 101
	negative := -1

	base := func() BookRequest {
		return BookRequest{Name: "Fresh", Type: "t", Author: "a", Publisher: "p", PublicationYear: 2024, Price: "10"}
	}
	cases := []struct {
		name   string
		mutate func(*BookRequest)
	}{
		{"missing name", func(r *BookRequest) { r.Name = "" }},
		{"three decimals", func(r *BookRequest) { r.Price = "12.345" }},
		{"negative price", func(r *BookRequest) { r.Price = "-1" }},
		{"not a number", func(r *BookRequest) { r.Price = "ten" }},
		{"too old", func(r *BookRequest) { r.PublicationYear = 2010 }},
		{"future", func(r *BookRequest) { r.PublicationYear = 2030 }},
		{"too many copies", func(r *BookRequest) { r.NumberOfBooks = &over }},
		{"negative copies", func(r *BookRequest) { r.NumberOfBooks = &negative }},
		{"negative pages", func(r *BookRequest) { r.NumberOfPages = -3 }},
		{"duplicate name", func(r *BookRequest) { r.Name = "Taken" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(&req)
			if _, err := mgr.CreateBook(ctx, req); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestUpdateBook(t *testing.T) {
	mgr, _ := newManager(t)
	b := mustBook(t, mgr, "Old Name", "5", 5)
	mustBook(t, mgr, "Other", "5", 5)

	name, price, copies := "New Name", "7.25", 9
	got, err := mgr.UpdateBook(ctx, b.ID, BookPatch{Name: &name, Price: &price, NumberOfBooks: &copies})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Slug != "new-name" || !got.Price.Equal(dec("7.25")) || got.NumberOfBooks != 9 {
		t.Fatalf("unexpected book %+v", got)
	}

	clash := "Other"
	if _, err := mgr.UpdateBook(ctx, b.ID, BookPatch{Name: &clash}); !errors.Is(err, ErrValidation) {
		t.Fatalf("rename to taken name: want ErrValidation, got %v", err)
	}
	bad := "1.999"
	if _, err := mgr.UpdateBook(ctx, b.ID, BookPatch{Price: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad price: want ErrValidation, got %v", err)
	}
	if _, err := mgr.UpdateBook(ctx, 999, BookPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: want ErrNotFound, got %v", err)
	}
}

func TestDeleteBook(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "ann@example.com")
	b := mustBook(t, mgr, "Lent", "5", 5)

	if _, err := mgr.CreateReview(ctx, p, ReviewRequest{BookID: b.ID, Review: "fine", Rating: 4}); err != nil {
		t.Fatalf("review: %v", err)
	}
	form, _ := mgr.Borrow(ctx, p, BorrowRequest{Books: []LineItem{{b.ID, 1}}})
	if err := mgr.DeleteBook(ctx, b.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("lent book: want ErrValidation, got %v", err)
	}
	if _, err := mgr.Return(ctx, p, ReturnRequest{BorrowFormID: form.ID}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := mgr.DeleteBook(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mgr.GetBook(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	reviews, err := mgr.ListReviews(ctx, b.ID, ListOptions{})
	if err != nil || len(reviews) != 0 {
		t.Fatalf("reviews survived delete: %v %d", err, len(reviews))
	}
	if err := mgr.DeleteBook(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestListBooksFilterSortPaginate(t *testing.T) {
	mgr, clock := newManager(t)
	for _, b := range []struct{ name, price string }{
		{"Cheap", "3"}, {"Mid", "12.50"}, {"Pricey", "100"}, {"Middling", "9.99"},
	} {
		mustBook(t, mgr, b.name, b.price, 5)
		clock.Advance(1)
	}

	books, err := mgr.ListBooks(ctx, ListOptions{
		Filters: []Filter{{Field: "price", Op: "gte", Value: "9.99"}},
		Sort:    []SortField{{Field: "price", Desc: true}},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, b := range books {
		names = append(names, b.Name)
	}
	if len(names) != 3 || names[0] != "Pricey" || names[1] != "Mid" || names[2] != "Middling" {
		t.Fatalf("unexpected order %v", names)
	}

	page, err := mgr.ListBooks(ctx, ListOptions{Sort: []SortField{{Field: "nameBook"}}, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].Name != "Middling" || page[1].Name != "Pricey" {
		t.Fatalf("unexpected page %+v", page)
	}

	newest, _ := mgr.ListBooks(ctx, ListOptions{Limit: 1})
	if len(newest) != 1 || newest[0].Name != "Middling" {
		t.Fatalf("default sort should be newest first: %+v", newest)
	}

	if _, err := mgr.ListBooks(ctx, ListOptions{Filters: []Filter{{Field: "secret", Op: "eq", Value: "x"}}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown field: want ErrValidation, got %v", err)
	}
}

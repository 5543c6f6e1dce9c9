package library

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// Paging limits for list endpoints.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter is one comparison from a query string, e.g. price[gte]=10.
type Filter struct {
	Field string
	Op    string // eq, gt, gte, lt, lte
	Value string
}

// SortField orders a listing by one field.
type SortField struct {
	Field string
	Desc  bool
}

// ListOptions are the generic filter/sort/paginate/project controls of a list call.
type ListOptions struct {
	Filters []Filter
	Sort    []SortField
	Page    int
	Limit   int
	Fields  []string
}

var filterKey = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\[(gte|gt|lte|lt)\])?$`)

var reservedParams = map[string]bool{"page": true, "sort": true, "limit": true, "fields": true}

// ParseListOptions reads list controls from query parameters.
func ParseListOptions(q url.Values) (ListOptions, error) {
	opts := ListOptions{Page: 1, Limit: DefaultLimit}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, validationErrorf("page must be a positive integer")
		}
		opts.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, validationErrorf("limit must be a positive integer")
		}
		opts.Limit = min(n, MaxLimit)
	}
	for _, f := range splitList(q.Get("sort")) {
		if desc := strings.HasPrefix(f, "-"); desc {
			opts.Sort = append(opts.Sort, SortField{Field: f[1:], Desc: true})
		} else {
			opts.Sort = append(opts.Sort, SortField{Field: f})
		}
	}
	opts.Fields = splitList(q.Get("fields"))

	for key, values := range q {
		if reservedParams[key] {
			continue
		}
		m := filterKey.FindStringSubmatch(key)
		if m == nil {
			return opts, validationErrorf("invalid filter %q", key)
		}
		op := m[2]
		if op == "" {
			op = "eq"
		}
		for _, v := range values {
			opts.Filters = append(opts.Filters, Filter{Field: m[1], Op: op, Value: v})
		}
	}
	return opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindFloat
	kindDecimal
	kindBool
	kindTime
)

type column struct {
	name string
	kind columnKind
}

// listSpec whitelists the filterable and sortable fields of one table, keyed
// by their JSON names.
type listSpec struct {
	table       string
	columns     map[string]column
	defaultSort []SortField
}

func (s listSpec) expr(c column) exp.Comparable {
	if c.kind == kindDecimal {
		return goqu.Cast(goqu.I(c.name), "REAL")
	}
	return goqu.I(c.name)
}

func (s listSpec) orderable(c column) exp.Orderable {
	if c.kind == kindDecimal {
		return goqu.Cast(goqu.I(c.name), "REAL")
	}
	return goqu.I(c.name)
}

func parseValue(kind columnKind, raw string) (any, error) {
	switch kind {
	case kindInt:
		return strconv.ParseInt(raw, 10, 64)
	case kindFloat, kindDecimal:
		return strconv.ParseFloat(raw, 64)
	case kindBool:
		return strconv.ParseBool(raw)
	case kindTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), nil
		}
		return time.Parse("2006-01-02", raw)
	default:
		return raw, nil
	}
}

// toSQL renders a SELECT over the listed table with the options applied.
func (s listSpec) toSQL(opts ListOptions, where ...exp.Expression) (string, []any, error) {
	ds := dialect.From(s.table).Prepared(true)

	conds := append([]exp.Expression{}, where...)
	for _, f := range opts.Filters {
		c, ok := s.columns[f.Field]
		if !ok {
			return "", nil, validationErrorf("cannot filter on %q", f.Field)
		}
		v, err := parseValue(c.kind, f.Value)
		if err != nil {
			return "", nil, validationErrorf("invalid value for %s: %q", f.Field, f.Value)
		}
		e := s.expr(c)
		switch f.Op {
		case "gt":
			conds = append(conds, e.Gt(v))
		case "gte":
			conds = append(conds, e.Gte(v))
		case "lt":
			conds = append(conds, e.Lt(v))
		case "lte":
			conds = append(conds, e.Lte(v))
		default:
			conds = append(conds, e.Eq(v))
		}
	}
	if len(conds) > 0 {
		ds = ds.Where(conds...)
	}

	sorts := opts.Sort
	if len(sorts) == 0 {
		sorts = s.defaultSort
	}
	order := make([]exp.OrderedExpression, 0, len(sorts)+1)
	for _, sf := range sorts {
		c, ok := s.columns[sf.Field]
		if !ok {
			return "", nil, validationErrorf("cannot sort on %q", sf.Field)
		}
		if sf.Desc {
			order = append(order, s.orderable(c).Desc())
		} else {
			order = append(order, s.orderable(c).Asc())
		}
	}
	// Stable pages across equal sort keys.
	order = append(order, goqu.I("id").Asc())
	ds = ds.Order(order...)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	page := max(opts.Page, 1)
	ds = ds.Limit(uint(limit)).Offset(uint((page - 1) * limit))

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build %s query: %w", s.table, err)
	}
	return query, args, nil
}

// selectList runs a list query and scans the rows into T.
func selectList[T any](ctx context.Context, q sqlx.QueryerContext, spec listSpec, opts ListOptions, where ...exp.Expression) ([]T, error) {
	query, args, err := spec.toSQL(opts, where...)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", spec.table, err)
	}
	return out, nil
}

var (
	bookList = listSpec{
		table: "books",
		columns: map[string]column{
			"id":              {"id", kindInt},
			"nameBook":        {"name", kindText},
			"slug":            {"slug", kindText},
			"typeBook":        {"type", kindText},
			"author":          {"author", kindText},
			"publisher":       {"publisher", kindText},
			"publicationYear": {"publication_year", kindInt},
			"price":           {"price", kindDecimal},
			"ratingsAverage":  {"ratings_average", kindFloat},
			"ratingsQuantity": {"ratings_quantity", kindInt},
			"numberOfBooks":   {"number_of_books", kindInt},
			"numberOfPages":   {"number_of_pages", kindInt},
			"createdAt":       {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
	userList = listSpec{
		table: "users",
		columns: map[string]column{
			"id":        {"id", kindInt},
			"firstName": {"first_name", kindText},
			"lastName":  {"last_name", kindText},
			"email":     {"email", kindText},
			"role":      {"role", kindText},
			"active":    {"active", kindBool},
			"createdAt": {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
	readerList = listSpec{
		table: "readers",
		columns: map[string]column{
			"id":          {"id", kindInt},
			"user":        {"user_id", kindInt},
			"fullName":    {"full_name", kindText},
			"readerType":  {"reader_type", kindText},
			"email":       {"email", kindText},
			"expiredDate": {"expired_date", kindTime},
			"isBorrowing": {"is_borrowing", kindBool},
		},
		defaultSort: []SortField{{Field: "id"}},
	}
	borrowFormList = listSpec{
		table: "borrow_forms",
		columns: map[string]column{
			"id":                 {"id", kindInt},
			"borrower":           {"borrower_id", kindInt},
			"borrowDate":         {"borrow_date", kindTime},
			"expectedReturnDate": {"expected_return_date", kindTime},
			"isReturned":         {"is_returned", kindBool},
		},
		defaultSort: []SortField{{Field: "borrowDate", Desc: true}},
	}
	returnFormList = listSpec{
		table: "return_forms",
		columns: map[string]column{
			"id":             {"id", kindInt},
			"borrowBookForm": {"borrow_form_id", kindInt},
			"borrower":       {"borrower_id", kindInt},
			"returnDate":     {"return_date", kindTime},
			"fee":            {"fee", kindDecimal},
		},
		defaultSort: []SortField{{Field: "returnDate", Desc: true}},
	}
	financialList = listSpec{
		table: "financial_accounts",
		columns: map[string]column{
			"id":        {"id", kindInt},
			"user":      {"user_id", kindInt},
			"balance":   {"balance", kindDecimal},
			"totalDebt": {"total_debt", kindDecimal},
			"updatedAt": {"updated_at", kindTime},
		},
		defaultSort: []SortField{{Field: "id"}},
	}
	feeReceiptList = listSpec{
		table: "fee_receipts",
		columns: map[string]column{
			"id":             {"id", kindInt},
			"userFinancials": {"financial_account_id", kindInt},
			"amountPaid":     {"amount_paid", kindDecimal},
			"createdAt":      {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
	transactionList = listSpec{
		table: "transactions",
		columns: map[string]column{
			"id":             {"id", kindInt},
			"userFinancials": {"financial_account_id", kindInt},
			"money":          {"money", kindDecimal},
			"status":         {"status", kindText},
			"createdAt":      {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
	reviewList = listSpec{
		table: "reviews",
		columns: map[string]column{
			"id":        {"id", kindInt},
			"book":      {"book_id", kindInt},
			"user":      {"user_id", kindInt},
			"rating":    {"rating", kindInt},
			"createdAt": {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
	orderList = listSpec{
		table: "orders",
		columns: map[string]column{
			"id":        {"id", kindInt},
			"user":      {"user_id", kindInt},
			"price":     {"price", kindDecimal},
			"paid":      {"paid", kindBool},
			"createdAt": {"created_at", kindTime},
		},
		defaultSort: []SortField{{Field: "createdAt", Desc: true}},
	}
)

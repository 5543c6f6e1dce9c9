package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"library-backend/library"
	"library-backend/middleware"
)

// Handler serves the API on top of a LibraryManager.
type Handler struct {
	lib           *library.LibraryManager
	tokens        *middleware.TokenIssuer
	log           logrus.FieldLogger
	resetURL      string
	secureCookies bool
}

// Deps are the collaborators of the router. Limiter, Metrics and Idempotency
// are optional.
type Deps struct {
	Library       *library.LibraryManager
	Tokens        *middleware.TokenIssuer
	Log           logrus.FieldLogger
	Limiter       *middleware.RateLimiter
	Metrics       *middleware.Metrics
	Idempotency   *middleware.IdempotencyStore
	ResetURL      string
	SecureCookies bool
}

// NewRouter builds the /api/v1 routes.
func NewRouter(d Deps) *mux.Router {
	h := &Handler{
		lib:           d.Library,
		tokens:        d.Tokens,
		log:           d.Log,
		resetURL:      d.ResetURL,
		secureCookies: d.SecureCookies,
	}
	auth := middleware.NewAuthenticator(d.Tokens, d.Library, d.Log)

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.Limiter != nil {
		r.Use(d.Limiter.Handler)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusOK, "ok")
	}).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, errorf(library.ErrNotFound, "can't find %s on this server", r.URL.Path))
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"status":"fail","message":"method not allowed"}`))
	})
	r.MethodNotAllowedHandler = notAllowed

	withKey := func(next http.Handler) http.Handler {
		if d.Idempotency == nil {
			return next
		}
		return d.Idempotency.Middleware(next)
	}
	// Signed-in callers.
	user := func(fn http.HandlerFunc) http.Handler {
		return auth.Protect(withKey(fn))
	}
	// Signed-in admins.
	admin := func(fn http.HandlerFunc) http.Handler {
		return auth.Protect(middleware.RequireRole(library.RoleAdmin)(withKey(fn)))
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = notAllowed
	const id = "/{id:[0-9]+}"

	// Users and authentication.
	api.HandleFunc("/users/signup", h.Signup).Methods(http.MethodPost)
	api.HandleFunc("/users/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/users/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/users/forgot-password", h.ForgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/users/reset-password/{token}", h.ResetPassword).Methods(http.MethodPatch)
	api.Handle("/users/me", user(h.Me)).Methods(http.MethodGet)
	api.Handle("/users/update-me", user(h.UpdateMe)).Methods(http.MethodPatch)
	api.Handle("/users/update-my-password", user(h.UpdatePassword)).Methods(http.MethodPatch)
	api.Handle("/users/logout", user(h.Logout)).Methods(http.MethodPost)
	api.Handle("/users/deactivate", user(h.Deactivate)).Methods(http.MethodPost)
	api.Handle("/users/delete-me", user(h.Deactivate)).Methods(http.MethodDelete)
	api.Handle("/users/top-up", user(h.TopUp)).Methods(http.MethodPost)
	api.Handle("/users", admin(h.ListUsers)).Methods(http.MethodGet)
	api.Handle("/users"+id, admin(h.GetUser)).Methods(http.MethodGet)
	api.Handle("/users"+id, admin(h.DeleteUser)).Methods(http.MethodDelete)

	// Reader cards.
	api.Handle("/readers", user(h.CreateReader)).Methods(http.MethodPost)
	api.Handle("/readers", admin(h.ListReaders)).Methods(http.MethodGet)
	api.Handle("/readers/me", user(h.MyReader)).Methods(http.MethodGet)
	api.Handle("/readers/expired", admin(h.ExpiredReaders)).Methods(http.MethodGet)
	api.Handle("/readers"+id, user(h.GetReader)).Methods(http.MethodGet)
	api.Handle("/readers"+id, user(h.UpdateReader)).Methods(http.MethodPatch)
	api.Handle("/readers"+id, user(h.DeleteReader)).Methods(http.MethodDelete)

	// Catalog.
	api.HandleFunc("/books", h.ListBooks).Methods(http.MethodGet)
	api.Handle("/books", admin(h.CreateBook)).Methods(http.MethodPost)
	api.HandleFunc("/books/slug/{slug}", h.GetBookBySlug).Methods(http.MethodGet)
	api.HandleFunc("/books"+id, h.GetBook).Methods(http.MethodGet)
	api.Handle("/books"+id, admin(h.UpdateBook)).Methods(http.MethodPatch)
	api.Handle("/books"+id, admin(h.DeleteBook)).Methods(http.MethodDelete)
	api.HandleFunc("/books"+id+"/reviews", h.ListReviews).Methods(http.MethodGet)
	api.Handle("/books"+id+"/reviews", user(h.CreateReview)).Methods(http.MethodPost)
	api.HandleFunc("/reviews", h.ListReviews).Methods(http.MethodGet)
	api.Handle("/reviews", user(h.CreateReview)).Methods(http.MethodPost)
	api.HandleFunc("/reviews"+id, h.GetReview).Methods(http.MethodGet)
	api.Handle("/reviews"+id, user(h.UpdateReview)).Methods(http.MethodPatch)
	api.Handle("/reviews"+id, user(h.DeleteReview)).Methods(http.MethodDelete)

	// Borrowing and returning.
	api.Handle("/borrowBookForms", user(h.Borrow)).Methods(http.MethodPost)
	api.Handle("/borrowBookForms", user(h.ListBorrowForms)).Methods(http.MethodGet)
	api.Handle("/borrowBookForms/overdue", admin(h.OverdueForms)).Methods(http.MethodGet)
	api.Handle("/borrowBookForms"+id, user(h.GetBorrowForm)).Methods(http.MethodGet)
	api.Handle("/borrowBookForms"+id, admin(h.ExtendBorrowForm)).Methods(http.MethodPatch)
	api.Handle("/borrowBookForms"+id, user(h.CancelBorrow)).Methods(http.MethodDelete)
	api.Handle("/returnBookForms", user(h.Return)).Methods(http.MethodPost)
	api.Handle("/returnBookForms", user(h.ListReturnForms)).Methods(http.MethodGet)
	api.Handle("/returnBookForms"+id, user(h.GetReturnForm)).Methods(http.MethodGet)

	// Money.
	api.Handle("/userFinancials", admin(h.ListFinancials)).Methods(http.MethodGet)
	api.Handle("/userFinancials/me", user(h.MyFinancials)).Methods(http.MethodGet)
	api.Handle("/userFinancials/debt", admin(h.AddDebt)).Methods(http.MethodPost)
	api.Handle("/userFinancials/{userId:[0-9]+}", admin(h.GetFinancials)).Methods(http.MethodGet)
	api.Handle("/feeReceipts", user(h.SettleFee)).Methods(http.MethodPost)
	api.Handle("/feeReceipts", user(h.ListFeeReceipts)).Methods(http.MethodGet)
	api.Handle("/feeReceipts"+id, user(h.GetFeeReceipt)).Methods(http.MethodGet)
	api.Handle("/userTransactions", user(h.ListTransactions)).Methods(http.MethodGet)
	api.Handle("/userTransactions/confirm", admin(h.ConfirmTopUp)).Methods(http.MethodPost)

	// Orders.
	api.Handle("/orders", user(h.CreateOrder)).Methods(http.MethodPost)
	api.Handle("/orders", admin(h.ListOrders)).Methods(http.MethodGet)
	api.Handle("/orders/me", user(h.MyOrders)).Methods(http.MethodGet)
	api.Handle("/orders"+id, user(h.GetOrder)).Methods(http.MethodGet)
	api.Handle("/orders"+id, admin(h.DeleteOrder)).Methods(http.MethodDelete)

	// Library settings.
	api.Handle("/validations", user(h.CurrentSettings)).Methods(http.MethodGet)
	api.Handle("/validations", admin(h.UpdateSettings)).Methods(http.MethodPatch)

	return r
}

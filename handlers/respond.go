// Package handlers exposes the library over a JSON REST API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"library-backend/library"
	"library-backend/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON wraps data in the success envelope.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

// writeList adds the result count used by list endpoints.
func writeList(w http.ResponseWriter, results int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "results": results, "data": data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "success", "message": msg})
}

// statusOf maps library errors to HTTP statuses.
func statusOf(err error) (int, error) {
	for _, m := range []struct {
		sentinel error
		status   int
	}{
		{library.ErrBooksUnavailable, http.StatusBadRequest},
		{library.ErrValidation, http.StatusBadRequest},
		{library.ErrNotFound, http.StatusNotFound},
		{library.ErrUnauthorized, http.StatusUnauthorized},
		{library.ErrForbidden, http.StatusForbidden},
	} {
		if errors.Is(err, m.sentinel) {
			return m.status, m.sentinel
		}
	}
	return http.StatusInternalServerError, nil
}

// writeError sends the fail envelope. Unexpected errors are logged and
// reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, sentinel := statusOf(err)
	msg := err.Error()
	if sentinel == nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.RequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
		msg = "something went wrong"
	} else if sentinel != library.ErrBooksUnavailable {
		// "validation failed: nameBook is required" reads as the detail alone.
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": msg})
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errorf(library.ErrValidation, "invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, errorf(library.ErrValidation, "invalid %s", name)
	}
	return id, nil
}

func principal(r *http.Request) library.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// project keeps only the requested JSON fields of each item; id always stays.
func project[T any](items []T, fields []string) (any, error) {
	if len(fields) == 0 {
		return items, nil
	}
	keep := map[string]bool{"id": true}
	for _, f := range fields {
		keep[f] = true
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k := range row {
			if !keep[k] {
				delete(row, k)
			}
		}
	}
	return rows, nil
}

// list parses list options, runs fetch and writes the projected result.
func list[T any](h *Handler, w http.ResponseWriter, r *http.Request, fetch func(library.ListOptions) ([]T, error)) {
	opts, err := library.ParseListOptions(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := fetch(opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := project(items, opts.Fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeList(w, len(items), out)
}

package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyBucket = "idempotency_keys"
	// IdempotencyHeader names the client-chosen key of a retryable write.
	IdempotencyHeader = "Idempotency-Key"
	maxReplayBody     = 1 << 20
)

// storedResponse is what a key replays.
type storedResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Status      int       `json:"status"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IdempotencyStore remembers the responses of writes sent with an
// Idempotency-Key so retries get the first response instead of repeating the
// write. Entries live in a BoltDB file and expire after ttl.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
	log logrus.FieldLogger
	now func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// OpenIdempotencyStore opens (or creates) the store at path.
func OpenIdempotencyStore(path string, ttl time.Duration, log logrus.FieldLogger) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(idempotencyBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db, ttl: ttl, log: log, now: time.Now, inFlight: map[string]bool{}}, nil
}

func (s *IdempotencyStore) Close() error { return s.db.Close() }

// get returns the live response stored under key, or nil.
func (s *IdempotencyStore) get(key string) (*storedResponse, error) {
	var resp *storedResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(idempotencyBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		var sr storedResponse
		if err := json.Unmarshal(v, &sr); err != nil {
			return err
		}
		if s.now().Sub(sr.CreatedAt) < s.ttl {
			resp = &sr
		}
		return nil
	})
	return resp, err
}

// put stores resp under key unless a live entry is already there.
func (s *IdempotencyStore) put(key string, resp *storedResponse) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		if v := b.Get([]byte(key)); v != nil {
			var existing storedResponse
			if json.Unmarshal(v, &existing) == nil && s.now().Sub(existing.CreatedAt) < s.ttl {
				return nil
			}
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Purge deletes expired entries and returns how many were removed.
func (s *IdempotencyStore) Purge() (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sr storedResponse
			if err := json.Unmarshal(v, &sr); err != nil || s.now().Sub(sr.CreatedAt) >= s.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

func (s *IdempotencyStore) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] {
		return false
	}
	s.inFlight[key] = true
	return true
}

func (s *IdempotencyStore) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// bufferedResponse tees the response so it can be stored.
type bufferedResponse struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
		b.ResponseWriter.WriteHeader(code)
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.WriteHeader(http.StatusOK)
	}
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

// Middleware replays the stored response for a repeated POST, PATCH or
// DELETE carrying the same Idempotency-Key. Keys are scoped per principal. A
// key reused for a different request is rejected with 422; a key whose first
// request is still running is rejected with 409. Server errors are not stored
// so the client can retry them.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := r.Header.Get(IdempotencyHeader)
		if clientKey == "" || (r.Method != http.MethodPost && r.Method != http.MethodPatch && r.Method != http.MethodDelete) {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
		if err != nil {
			fail(w, http.StatusBadRequest, "could not read request body")
			return
		}
		if len(body) > maxReplayBody {
			fail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scope := "anonymous"
		if p, ok := PrincipalFrom(r.Context()); ok {
			scope = strconv.FormatInt(p.UserID, 10)
		}
		key := scope + ":" + clientKey
		sum := sha256.Sum256(body)
		fingerprint := r.Method + " " + r.URL.Path + " " + hex.EncodeToString(sum[:])

		entry := s.log.WithFields(logrus.Fields{"idempotency_key": clientKey, "request_id": RequestID(r.Context())})

		if s.replay(w, key, fingerprint, entry) {
			return
		}
		s.runOnce(w, r, next, key, fingerprint, entry)
	})
}

// replay answers from the store when key already has a response and reports
// whether it wrote one.
func (s *IdempotencyStore) replay(w http.ResponseWriter, key, fingerprint string, entry logrus.FieldLogger) bool {
	stored, err := s.get(key)
	if err != nil {
		entry.WithError(err).Error("read idempotency key")
		fail(w, http.StatusInternalServerError, "something went wrong")
		return true
	}
	if stored == nil {
		return false
	}
	if stored.Fingerprint != fingerprint {
		fail(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different request")
		return true
	}
	entry.Info("replaying stored response")
	w.Header().Set("Content-Type", stored.ContentType)
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
	return true
}

// runOnce claims key, runs next and stores its response.
func (s *IdempotencyStore) runOnce(w http.ResponseWriter, r *http.Request, next http.Handler, key, fingerprint string, entry logrus.FieldLogger) {
	if !s.claim(key) {
		fail(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
		return
	}
	defer s.release(key)

	// A request holding the key may have stored its response and released
	// the claim after our first lookup.
	if s.replay(w, key, fingerprint, entry) {
		return
	}

	buf := &bufferedResponse{ResponseWriter: w}
	next.ServeHTTP(buf, r)
	if buf.status == 0 {
		buf.status = http.StatusOK
	}
	if buf.status >= 500 {
		return
	}
	err := s.put(key, &storedResponse{
		Fingerprint: fingerprint,
		Status:      buf.status,
		ContentType: w.Header().Get("Content-Type"),
		Body:        buf.body.Bytes(),
		CreatedAt:   s.now(),
	})
	if err != nil {
		entry.WithError(err).Error("store idempotent response")
	}
}

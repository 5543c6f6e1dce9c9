package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"library-backend/library"
)

// UserSource resolves the user behind a token.
type UserSource interface {
	ActiveUser(ctx context.Context, id int64) (*library.User, error)
}

// Authenticator guards routes with access tokens.
type Authenticator struct {
	tokens *TokenIssuer
	users  UserSource
	log    logrus.FieldLogger
}

func NewAuthenticator(tokens *TokenIssuer, users UserSource, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, log: log}
}

// Principal checks a raw access token and returns who it belongs to. Tokens
// of deleted or deactivated users, and tokens issued before the user's last
// password change, are rejected.
func (a *Authenticator) Principal(ctx context.Context, raw string) (library.Principal, error) {
	claims, err := a.tokens.ParseAccess(raw)
	if err != nil {
		return library.Principal{}, err
	}
	u, err := a.users.ActiveUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return library.Principal{}, fmt.Errorf("%w: the user belonging to this token does no longer exist", library.ErrUnauthorized)
		}
		return library.Principal{}, err
	}
	if u.PasswordChangedAfter(claims.IssuedAt.Time) {
		return library.Principal{}, fmt.Errorf("%w: user recently changed password, please log in again", library.ErrUnauthorized)
	}
	return library.Principal{UserID: u.ID, Role: u.Role}, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Protect rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			fail(w, http.StatusUnauthorized, "You're not logged in! Please log in to get access.")
			return
		}
		p, err := a.Principal(r.Context(), raw)
		if err != nil {
			if errors.Is(err, library.ErrUnauthorized) {
				fail(w, http.StatusUnauthorized, strings.TrimPrefix(err.Error(), library.ErrUnauthorized.Error()+": "))
				return
			}
			a.log.WithError(err).WithField("request_id", RequestID(r.Context())).Error("authenticate request")
			fail(w, http.StatusInternalServerError, "something went wrong")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole lets through only principals holding one of roles. It must run
// after Protect.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			fail(w, http.StatusForbidden, "You don't have permission to perform this action")
		})
	}
}

package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// PasswordResetTTL is how long a reset token stays valid.
const PasswordResetTTL = 10 * time.Minute

// SignupRequest registers a new user.
type SignupRequest struct {
	FirstName       string `json:"firstName" validate:"required,max=80"`
	LastName        string `json:"lastName" validate:"required,max=80"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=9"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfilePatch updates the caller's own profile.
type ProfilePatch struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=80"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1,max=80"`
	Email     *string `json:"email" validate:"omitempty,email"`
}

// PasswordChange replaces a known password.
type PasswordChange struct {
	CurrentPassword string `json:"passwordCurrent" validate:"required"`
	Password        string `json:"password" validate:"required,min=9"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// PasswordReset replaces a forgotten password using a reset token.
type PasswordReset struct {
	Password        string `json:"password" validate:"required,min=9"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func getUser(ctx context.Context, q sqlx.QueryerContext, id int64) (*User, error) {
	var u User
	if err := sqlx.GetContext(ctx, q, &u, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("user %d", id)
		}
		return nil, err
	}
	return &u, nil
}

func getUserByEmail(ctx context.Context, q sqlx.QueryerContext, email string) (*User, error) {
	var u User
	if err := sqlx.GetContext(ctx, q, &u, `SELECT * FROM users WHERE email = ?`, normalizeEmail(email)); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("there is no user with email address %s", email)
		}
		return nil, err
	}
	return &u, nil
}

func (lm *LibraryManager) hashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), lm.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (lm *LibraryManager) insertUser(ctx context.Context, req SignupRequest, role string) (*User, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	hash, err := lm.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        normalizeEmail(req.Email),
		Role:         role,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    lm.now(),
	}
	res, err := lm.db.db.NamedExecContext(ctx, `INSERT INTO users
        (first_name, last_name, email, role, password_hash, active, created_at)
        VALUES (:first_name, :last_name, :email, :role, :password_hash, 1, :created_at)`, &u)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("email %s is already registered", u.Email)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	lm.log.WithFields(logrus.Fields{"user_id": u.ID, "role": role}).Info("user created")
	return &u, nil
}

// Signup registers a user with the user role.
func (lm *LibraryManager) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	return lm.insertUser(ctx, req, RoleUser)
}

// CreateAdmin registers a user with the admin role.
func (lm *LibraryManager) CreateAdmin(ctx context.Context, req SignupRequest) (*User, error) {
	return lm.insertUser(ctx, req, RoleAdmin)
}

// Authenticate checks credentials. A deactivated user that signs in again is
// reactivated.
func (lm *LibraryManager) Authenticate(ctx context.Context, req LoginRequest) (*User, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	u, err := getUserByEmail(ctx, lm.db.db, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: incorrect password or email", ErrUnauthorized)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: incorrect password or email", ErrUnauthorized)
	}
	if !u.Active {
		if _, err := lm.db.db.ExecContext(ctx, `UPDATE users SET active = 1 WHERE id = ?`, u.ID); err != nil {
			return nil, err
		}
		u.Active = true
		lm.log.WithField("user_id", u.ID).Info("user reactivated")
	}
	return u, nil
}

// ActiveUser returns an active user, as used when checking a token.
func (lm *LibraryManager) ActiveUser(ctx context.Context, id int64) (*User, error) {
	u, err := getUser(ctx, lm.db.db, id)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, notFoundf("user %d", id)
	}
	return u, nil
}

// GetUser returns any user, active or not.
func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return getUser(ctx, lm.db.db, id)
}

// ListUsers lists active users.
func (lm *LibraryManager) ListUsers(ctx context.Context, opts ListOptions) ([]User, error) {
	return selectList[User](ctx, lm.db.db, userList, opts, userList.expr(userList.columns["active"]).Eq(true))
}

// UpdateMe changes the caller's names or email. Passwords use UpdatePassword.
func (lm *LibraryManager) UpdateMe(ctx context.Context, p Principal, patch ProfilePatch) (*User, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	var u *User
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if u, err = getUser(ctx, tx, p.UserID); err != nil {
			return err
		}
		if patch.FirstName != nil {
			u.FirstName = strings.TrimSpace(*patch.FirstName)
		}
		if patch.LastName != nil {
			u.LastName = strings.TrimSpace(*patch.LastName)
		}
		if patch.Email != nil {
			u.Email = normalizeEmail(*patch.Email)
		}
		if _, err := tx.NamedExecContext(ctx, `UPDATE users SET first_name = :first_name, last_name = :last_name,
            email = :email WHERE id = :id`, u); err != nil {
			if isUniqueViolation(err) {
				return validationErrorf("email %s is already registered", u.Email)
			}
			return err
		}
		// Reader cards carry a copy of the email.
		_, err = tx.ExecContext(ctx, `UPDATE readers SET email = ? WHERE user_id = ?`, u.Email, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// setPassword stores a new hash and marks the change one second in the past
// so a token issued in the same second stays valid.
func (lm *LibraryManager) setPassword(ctx context.Context, ex sqlx.ExecerContext, userID int64, pw string) error {
	hash, err := lm.hashPassword(pw)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `UPDATE users SET password_hash = ?, password_changed_at = ?,
        password_reset_token = NULL, password_reset_expires = NULL WHERE id = ?`,
		hash, lm.now().Add(-time.Second), userID)
	return err
}

// UpdatePassword replaces the caller's password after checking the current one.
func (lm *LibraryManager) UpdatePassword(ctx context.Context, p Principal, req PasswordChange) (*User, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	u, err := getUser(ctx, lm.db.db, p.UserID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return nil, fmt.Errorf("%w: your current password is wrong", ErrUnauthorized)
	}
	if err := lm.setPassword(ctx, lm.db.db, u.ID, req.Password); err != nil {
		return nil, err
	}
	return getUser(ctx, lm.db.db, u.ID)
}

// ForgotPassword issues a reset token and mails it to the user. Only the
// token's hash is stored.
func (lm *LibraryManager) ForgotPassword(ctx context.Context, email, resetURL string) error {
	u, err := getUserByEmail(ctx, lm.db.db, email)
	if err != nil {
		return err
	}
	token := uuid.NewString()
	if _, err := lm.db.db.ExecContext(ctx, `UPDATE users SET password_reset_token = ?, password_reset_expires = ? WHERE id = ?`,
		hashResetToken(token), lm.now().Add(PasswordResetTTL), u.ID); err != nil {
		return err
	}
	body := fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: %s/%s\nIf you didn't forget your password, please ignore this email.", strings.TrimRight(resetURL, "/"), token)
	if err := lm.mailer.Send(ctx, u.Email, "Your password reset token (valid for 10 min)", body); err != nil {
		// Undo so an unsent token cannot be used.
		_, _ = lm.db.db.ExecContext(ctx, `UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL WHERE id = ?`, u.ID)
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ResetPassword sets a new password for the holder of a valid reset token.
func (lm *LibraryManager) ResetPassword(ctx context.Context, token string, req PasswordReset) (*User, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var u User
	err := lm.db.db.GetContext(ctx, &u, `SELECT * FROM users WHERE password_reset_token = ? AND password_reset_expires > ?`,
		hashResetToken(token), lm.now())
	if err != nil {
		if isNoRows(err) {
			return nil, validationErrorf("token is invalid or has expired")
		}
		return nil, err
	}
	if err := lm.setPassword(ctx, lm.db.db, u.ID, req.Password); err != nil {
		return nil, err
	}
	return getUser(ctx, lm.db.db, u.ID)
}

// Deactivate hides the caller's account until they sign in again.
func (lm *LibraryManager) Deactivate(ctx context.Context, p Principal) error {
	_, err := lm.db.db.ExecContext(ctx, `UPDATE users SET active = 0 WHERE id = ?`, p.UserID)
	return err
}

// DeleteUser removes a user and their reviews. Users with a reader card must
// delete the card first.
func (lm *LibraryManager) DeleteUser(ctx context.Context, id int64) error {
	return lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getUser(ctx, tx, id); err != nil {
			return err
		}
		if _, err := getReaderByUser(ctx, tx, id); err == nil {
			return validationErrorf("user %d still has a reader card", id)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		var orders int
		if err := sqlx.GetContext(ctx, tx, &orders, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, id); err != nil {
			return err
		}
		if orders > 0 {
			return validationErrorf("user %d has orders and cannot be deleted", id)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		return err
	})
}

// PasswordChangedAfter reports whether the user's password changed after t.
func (u *User) PasswordChangedAfter(t time.Time) bool {
	return u.PasswordChangedAt != nil && u.PasswordChangedAt.Unix() > t.Unix()
}

package library

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignupValidation(t *testing.T) {
	mgr, _ := newManager(t)
	mustUser(t, mgr, "taken@example.com")

	base := func() SignupRequest {
		return SignupRequest{FirstName: "A", LastName: "B", Email: "new@example.com", Password: "password123", PasswordConfirm: "password123"}
	}
	cases := []struct {
		name   string
		mutate func(*SignupRequest)
	}{
		{"short password", func(r *SignupRequest) { r.Password, r.PasswordConfirm = "short", "short" }},
		{"confirm mismatch", func(r *SignupRequest) { r.PasswordConfirm = "password124" }},
		{"bad email", func(r *SignupRequest) { r.Email = "not-an-email" }},
		{"missing first name", func(r *SignupRequest) { r.FirstName = "" }},
		{"duplicate email", func(r *SignupRequest) { r.Email = "TAKEN@example.com" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(&req)
			if _, err := mgr.Signup(ctx, req); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidationMessagesUseJSONNames(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.Signup(ctx, SignupRequest{FirstName: "A", LastName: "B", Email: "x@example.com", Password: "password123"})
	if err == nil || !strings.Contains(err.Error(), "passwordConfirm") {
		t.Fatalf("want passwordConfirm in message, got %v", err)
	}
	if strings.Contains(err.Error(), "SignupRequest") {
		t.Fatalf("message leaks the Go type name: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	mgr, _ := newManager(t)
	u := mustUser(t, mgr, "Ann@Example.com")
	if u.Email != "ann@example.com" || u.Role != RoleUser {
		t.Fatalf("unexpected user %+v", u)
	}

	got, err := mgr.Authenticate(ctx, LoginRequest{Email: "ann@example.com", Password: "password123"})
	if err != nil || got.ID != u.ID {
		t.Fatalf("login: %v %+v", err, got)
	}
	if _, err := mgr.Authenticate(ctx, LoginRequest{Email: "ann@example.com", Password: "wrong-password"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad password: want ErrUnauthorized, got %v", err)
	}
	if _, err := mgr.Authenticate(ctx, LoginRequest{Email: "nobody@example.com", Password: "password123"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown email: want ErrUnauthorized, got %v", err)
	}
}

func TestDeactivateAndReactivate(t *testing.T) {
	mgr, _ := newManager(t)
	u := mustUser(t, mgr, "ben@example.com")
	p := Principal{UserID: u.ID, Role: RoleUser}

	if err := mgr.Deactivate(ctx, p); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := mgr.ActiveUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive user: want ErrNotFound, got %v", err)
	}
	users, _ := mgr.ListUsers(ctx, ListOptions{})
	if len(users) != 0 {
		t.Fatalf("inactive user listed")
	}

	got, err := mgr.Authenticate(ctx, LoginRequest{Email: "ben@example.com", Password: "password123"})
	if err != nil || !got.Active {
		t.Fatalf("login should reactivate: %v %+v", err, got)
	}
	if _, err := mgr.ActiveUser(ctx, u.ID); err != nil {
		t.Fatalf("reactivated user: %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	mgr, clock := newManager(t)
	u := mustUser(t, mgr, "cat@example.com")
	p := Principal{UserID: u.ID, Role: RoleUser}
	issued := clock.Now()

	_, err := mgr.UpdatePassword(ctx, p, PasswordChange{CurrentPassword: "nope-nope", Password: "brand-new-pass", PasswordConfirm: "brand-new-pass"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong current password: want ErrUnauthorized, got %v", err)
	}

	clock.Advance(5 * time.Second)
	got, err := mgr.UpdatePassword(ctx, p, PasswordChange{CurrentPassword: "password123", Password: "brand-new-pass", PasswordConfirm: "brand-new-pass"})
	if err != nil {
		t.Fatalf("update password: %v", err)
	}
	if !got.PasswordChangedAfter(issued) {
		t.Fatalf("token issued before the change should be stale")
	}
	if got.PasswordChangedAfter(clock.Now()) {
		t.Fatalf("token issued now should be fresh")
	}
	if _, err := mgr.Authenticate(ctx, LoginRequest{Email: "cat@example.com", Password: "brand-new-pass"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	mailer := &recordingMailer{}
	mgr, clock := newManager(t, WithMailer(mailer))
	mustUser(t, mgr, "dan@example.com")

	if err := mgr.ForgotPassword(ctx, "nobody@example.com", "http://x/reset"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email: want ErrNotFound, got %v", err)
	}
	if err := mgr.ForgotPassword(ctx, "dan@example.com", "http://x/resetPassword/"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	body := mailer.last()
	start := strings.Index(body, "http://x/resetPassword/")
	if start < 0 {
		t.Fatalf("reset link missing from %q", body)
	}
	token := strings.Fields(body[start+len("http://x/resetPassword/"):])[0]

	reset := PasswordReset{Password: "reset-password", PasswordConfirm: "reset-password"}
	if _, err := mgr.ResetPassword(ctx, "not-the-token", reset); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad token: want ErrValidation, got %v", err)
	}
	if _, err := mgr.ResetPassword(ctx, token, reset); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := mgr.ResetPassword(ctx, token, reset); !errors.Is(err, ErrValidation) {
		t.Fatalf("reused token: want ErrValidation, got %v", err)
	}
	if _, err := mgr.Authenticate(ctx, LoginRequest{Email: "dan@example.com", Password: "reset-password"}); err != nil {
		t.Fatalf("login after reset: %v", err)
	}

	mgr.ForgotPassword(ctx, "dan@example.com", "http://x/resetPassword")
	body = mailer.last()
	start = strings.Index(body, "http://x/resetPassword/")
	token = strings.Fields(body[start+len("http://x/resetPassword/"):])[0]
	clock.Advance(PasswordResetTTL + time.Second)
	if _, err := mgr.ResetPassword(ctx, token, reset); !errors.Is(err, ErrValidation) {
		t.Fatalf("expired token: want ErrValidation, got %v", err)
	}
}

func TestUpdateMeCopiesEmailToReader(t *testing.T) {
	mgr, _ := newManager(t)
	p, _ := member(t, mgr, "eve@example.com")
	mustUser(t, mgr, "taken@example.com")

	email, first := "Eve.New@example.com", "Evelyn"
	u, err := mgr.UpdateMe(ctx, p, ProfilePatch{Email: &email, FirstName: &first})
	if err != nil {
		t.Fatalf("update me: %v", err)
	}
	if u.Email != "eve.new@example.com" || u.FirstName != "Evelyn" {
		t.Fatalf("unexpected user %+v", u)
	}
	r, _ := mgr.MyReader(ctx, p)
	if r.Email != "eve.new@example.com" {
		t.Fatalf("reader email not updated: %s", r.Email)
	}
	taken := "taken@example.com"
	if _, err := mgr.UpdateMe(ctx, p, ProfilePatch{Email: &taken}); !errors.Is(err, ErrValidation) {
		t.Fatalf("taken email: want ErrValidation, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	mgr, _ := newManager(t)
	p, reader := member(t, mgr, "fay@example.com")
	plain := mustUser(t, mgr, "gus@example.com")
	b := mustBook(t, mgr, "Reviewed", "5", 5)
	mgr.CreateReview(ctx, Principal{UserID: plain.ID, Role: RoleUser}, ReviewRequest{BookID: b.ID, Review: "ok", Rating: 3})

	if err := mgr.DeleteUser(ctx, p.UserID); !errors.Is(err, ErrValidation) {
		t.Fatalf("user with reader card: want ErrValidation, got %v", err)
	}
	if err := mgr.DeleteReader(ctx, p, reader.ID); err != nil {
		t.Fatalf("delete reader: %v", err)
	}
	if err := mgr.DeleteUser(ctx, p.UserID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if err := mgr.DeleteUser(ctx, plain.ID); err != nil {
		t.Fatalf("delete reviewer: %v", err)
	}
	reviews, _ := mgr.ListReviews(ctx, b.ID, ListOptions{})
	if len(reviews) != 0 {
		t.Fatalf("reviews of deleted user survived")
	}
	if err := mgr.DeleteUser(ctx, plain.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestCreateAdmin(t *testing.T) {
	mgr, _ := newManager(t)
	u, err := mgr.CreateAdmin(ctx, SignupRequest{FirstName: "Root", LastName: "Admin", Email: "root@example.com", Password: "supersecret", PasswordConfirm: "supersecret"})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if u.Role != RoleAdmin {
		t.Fatalf("want admin role, got %s", u.Role)
	}
}

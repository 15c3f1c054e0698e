package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestService() *Service {
	return NewService(NewMemoryUsers(), Options{JWTSecret: "test-secret", TokenTTL: time.Hour})
}

func TestRegisterLoginVerifyRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService()

	u, err := svc.Register(ctx, "owner@example.com", "s3nha-forte")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login(ctx, "owner@example.com", "s3nha-forte")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ownerID, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if ownerID != u.ID {
		t.Fatalf("token subject = %s, want %s", ownerID, u.ID)
	}

	email, err := svc.EmailFor(ctx, u.ID)
	if err != nil || email != "owner@example.com" {
		t.Fatalf("EmailFor = %q, %v", email, err)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService()

	if _, err := svc.Register(ctx, "não é email", "pw"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Register(ctx, "owner@example.com", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty password, got %v", err)
	}

	if _, err := svc.Register(ctx, "owner@example.com", "pw"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := svc.Register(ctx, "owner@example.com", "pw"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService()
	if _, err := svc.Register(ctx, "owner@example.com", "certa"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "owner@example.com", "errada"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "desconhecido@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user should also yield ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// A token signed with a different secret must not verify.
	other := NewService(NewMemoryUsers(), Options{JWTSecret: "other-secret"})
	ctx := context.Background()
	if _, err := other.Register(ctx, "owner@example.com", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := other.Login(ctx, "owner@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-secret token should fail, got %v", err)
	}
}

func TestEmailForUnknownOwner(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	if _, err := svc.EmailFor(context.Background(), uuid.New()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

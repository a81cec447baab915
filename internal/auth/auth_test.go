package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestServiceValidateAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "abc123", UserID: "user-1", Email: "user@example.com"}}})
	user, err := service.ValidateAPIKey("abc123")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user id, got %q", user.ID)
	}
	if user.Email != "user@example.com" {
		t.Fatalf("expected email, got %q", user.Email)
	}
	if _, err := service.ValidateAPIKey("nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("ValidateAPIKey(nope) error = %v, want ErrInvalidKey", err)
	}
}

func TestServiceDerivesAPIKeyUser(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "k"}, {Key: "  "}}})
	user, err := service.ValidateAPIKey("k")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(user.ID, "api_") {
		t.Fatalf("derived user id = %q", user.ID)
	}
}

func TestServiceDisabled(t *testing.T) {
	service := NewService(Config{})
	if service.Enabled() {
		t.Fatalf("service without secret or keys should be disabled")
	}
	if _, err := service.ValidateJWT("x"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("ValidateJWT() error = %v, want ErrAuthDisabled", err)
	}
}

func TestOwnerFromContext(t *testing.T) {
	if got := OwnerFromContext(context.Background()); got != "" {
		t.Fatalf("anonymous owner = %q", got)
	}
	ctx := WithUser(context.Background(), &User{ID: "user-1"})
	if got := OwnerFromContext(ctx); got != "user-1" {
		t.Fatalf("owner = %q", got)
	}
	if WithUser(ctx, nil) != ctx {
		t.Fatalf("nil user should leave the context untouched")
	}
}

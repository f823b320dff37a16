package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokensGenerateAndValidate(t *testing.T) {
	tokens, err := NewTokens("test-secret", "ptw-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	token, expires, err := tokens.Generate(Identity{ID: 42, Role: RoleRequester, Name: "Dana"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiry, got %v", expires)
	}

	claims, err := tokens.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	id, err := claims.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.ID != 42 || id.Role != RoleRequester || id.Name != "Dana" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestTokensRejectExpired(t *testing.T) {
	tokens, err := NewTokens("test-secret", "ptw-test", time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	issued := time.Now().Add(-2 * time.Hour)
	tokens.now = func() time.Time { return issued }
	token, _, err := tokens.Generate(Identity{ID: 1, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	tokens.now = time.Now
	if _, err := tokens.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokensRejectForeignSecretAndIssuer(t *testing.T) {
	a, _ := NewTokens("secret-a", "ptw", time.Hour)
	b, _ := NewTokens("secret-b", "ptw", time.Hour)
	c, _ := NewTokens("secret-a", "other", time.Hour)

	token, _, err := a.Generate(Identity{ID: 7, Role: RoleWorker})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := b.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
	if _, err := c.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer failure, got %v", err)
	}
	if _, err := a.ParseAndValidate("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestGenerateRequiresIdentity(t *testing.T) {
	tokens, _ := NewTokens("s", "ptw", time.Hour)
	if _, _, err := tokens.Generate(Identity{Role: RoleAdmin}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, _, err := tokens.Generate(Identity{ID: 1, Role: "Janitor"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := NewTokens("  ", "ptw", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

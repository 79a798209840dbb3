// Tests for bcrypt password hashing and JWT generation/parsing.
package auth

import (
	"os"
	"strings"
	"testing"
	"time"
)

// TestMain sets JWT_SECRET before any test runs.
// GenerateJWT panics if JWT_SECRET is not set in the environment.
// Using os.Setenv (not t.Setenv) here because TestMain runs before t is available.
func TestMain(m *testing.M) {
	os.Setenv("JWT_SECRET", "test-secret-key-32-chars-min!!!") //nolint:errcheck
	os.Exit(m.Run())
}

func isValidBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	password := "MySecurePassword123!"
	hash, err := HashPassword(password)

	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "" {
		t.Error("HashPassword returned empty hash")
	}
	if hash == password {
		t.Error("Hash should not equal plaintext password")
	}
	if len(hash) < 20 || !isValidBcryptHash(hash) {
		t.Errorf("Hash format is invalid: %s", hash)
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	password := "MySecurePassword123!"
	hash, _ := HashPassword(password)

	if !VerifyPassword(hash, password) {
		t.Error("VerifyPassword should return true for correct password")
	}
	if VerifyPassword(hash, "WrongPassword") {
		t.Error("VerifyPassword should return false for wrong password")
	}
	if VerifyPassword("not-a-bcrypt-hash", password) {
		t.Error("VerifyPassword should return false for malformed hash")
	}
}

func TestGenerateAndParseJWT_RoundTrip(t *testing.T) {
	t.Parallel()

	token, err := GenerateJWT("user-123", "admin")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateJWT returned empty token")
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("expected user_id=user-123, got %q", claims.UserID)
	}
	if claims.Role != "admin" {
		t.Errorf("expected role=admin, got %q", claims.Role)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Error("expected a future expiry")
	}
}

func TestParseJWT_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "tampered token", token: func() string {
			tok, _ := GenerateJWT("user-123", "admin")
			return tok + "x"
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.token); err == nil {
				t.Errorf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestParseJWTExpiry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "default when empty", in: "", want: DefaultJWTExpiry * time.Hour},
		{name: "default when invalid", in: "abc", want: DefaultJWTExpiry * time.Hour},
		{name: "explicit hours", in: "48", want: 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseJWTExpiry(tt.in); got != tt.want {
				t.Fatalf("parseJWTExpiry(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

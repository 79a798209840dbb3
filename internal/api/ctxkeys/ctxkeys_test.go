package ctxkeys

import (
	"context"
	"testing"
)

func TestWithValueRoundTrip(t *testing.T) {
	ctx := WithValue(context.Background(), UserID, "user-1")
	ctx = WithValue(ctx, Role, "admin")

	if got, _ := ctx.Value(UserID).(string); got != "user-1" {
		t.Fatalf("UserID = %q, want user-1", got)
	}
	if got, _ := ctx.Value(Role).(string); got != "admin" {
		t.Fatalf("Role = %q, want admin", got)
	}
}

func TestTypedKeyDoesNotCollideWithString(t *testing.T) {
	ctx := WithValue(context.Background(), UserID, "user-1")
	if v := ctx.Value("user_id"); v != nil {
		t.Fatalf("plain string key should not resolve, got %v", v)
	}
}

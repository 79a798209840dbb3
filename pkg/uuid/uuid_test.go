package uuid

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewV7_CanonicalForm(t *testing.T) {
	t.Parallel()

	s := NewV7()
	if len(s) != CanonicalLen {
		t.Fatalf("expected len=%d, got %d (%q)", CanonicalLen, len(s), s)
	}

	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !re.MatchString(s) {
		t.Fatalf("expected canonical uuid format, got %q", s)
	}
}

func TestNewV7_SetsVersionAndVariant(t *testing.T) {
	t.Parallel()

	u := newBytes()

	// Version nibble in byte 6 must be 0b0111 (v7)
	if (u[6]>>4)&0x0f != 0x07 {
		t.Fatalf("expected version 7 nibble, got %x", (u[6]>>4)&0x0f)
	}

	// Variant in byte 7 must be RFC4122 (10xxxxxx)
	if (u[7] & 0xc0) != 0x80 {
		t.Fatalf("expected RFC4122 variant bits 10xxxxxx, got %08b", u[7])
	}
}

func TestNewV7_MonotonicTimestampPrefix(t *testing.T) {
	t.Parallel()

	// Two UUIDs generated in sequence must not have a decreasing timestamp
	// prefix; that sortability is what the catalog indexes rely on.
	a := NewV7()
	b := NewV7()

	if strings.Compare(b[:13], a[:13]) < 0 {
		t.Fatalf("timestamp prefix decreased: %q then %q", a, b)
	}
}

func TestNewV7_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := NewV7()
		if seen[s] {
			t.Fatalf("duplicate uuid %q", s)
		}
		seen[s] = true
	}
}

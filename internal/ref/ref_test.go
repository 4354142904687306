package ref

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	t.Run("accepts valid references", func(t *testing.T) {
		for _, s := range []string{"PSA-2024-00042", "abc1", "A1-b2-C3", strings.Repeat("x", 64)} {
			got, err := Sanitize(s)
			if err != nil {
				t.Errorf("Sanitize(%q): unexpected error %v", s, err)
			}
			if got != s {
				t.Errorf("Sanitize(%q) = %q, want input unchanged", s, got)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		first, err := Sanitize("PSA-2024-00042")
		if err != nil {
			t.Fatal(err)
		}
		second, err := Sanitize(first)
		if err != nil || second != first {
			t.Errorf("second pass changed result: %q -> %q (err %v)", first, second, err)
		}
	})

	t.Run("rejects path traversal and control characters", func(t *testing.T) {
		for _, s := range []string{
			"../etc/passwd",
			"a/b",
			"a\\b",
			"abc\x00d",
			"abc\nd",
			"ref..-..",
			"ref with space",
			"ref%2e%2e",
		} {
			if _, err := Sanitize(s); err == nil {
				t.Errorf("Sanitize(%q): expected rejection", s)
			}
		}
	})

	t.Run("rejects out-of-bounds lengths", func(t *testing.T) {
		if _, err := Sanitize("abc"); err == nil {
			t.Error("expected rejection for 3 characters")
		}
		if _, err := Sanitize(strings.Repeat("x", 65)); err == nil {
			t.Error("expected rejection for 65 characters")
		}
		if _, err := Sanitize(""); err == nil {
			t.Error("expected rejection for empty string")
		}
	})
}

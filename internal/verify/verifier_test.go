package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

type fakeDirectory struct {
	emails map[string]string
}

func (d *fakeDirectory) Exists(_ context.Context, ref string) (bool, error) {
	_, ok := d.emails[ref]
	return ok, nil
}

func (d *fakeDirectory) EmailFor(_ context.Context, ref string) (string, error) {
	return d.emails[ref], nil
}

type captureSink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (s *captureSink) Record(_ context.Context, e models.AuditEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *captureSink) last(t *testing.T) models.AuditEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return s.entries[len(s.entries)-1]
}

func newTestVerifier(t *testing.T) (*Verifier, *captureSink, *time.Time) {
	t.Helper()
	dir := &fakeDirectory{emails: map[string]string{
		"PSA-2026-001": "alice.collector@example.com",
	}}
	sink := &captureSink{}
	v := NewVerifier(dir, NewMemoryLedger(), token.NewService("test-secret"), sink, "https://proofs.example.com", nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return now })
	return v, sink, &now
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("correct fragment grants access token", func(t *testing.T) {
		v, sink, _ := newTestVerifier(t)
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "ctor", "203.0.113.7")
		if err != nil || denial != nil {
			t.Fatalf("unexpected denial/err: %v %v", denial, err)
		}
		if len(grant.AccessToken) != token.TokenLen {
			t.Errorf("token length %d, want %d", len(grant.AccessToken), token.TokenLen)
		}
		if grant.ExpiresInSeconds != 3600 {
			t.Errorf("expires_in %d, want 3600", grant.ExpiresInSeconds)
		}
		if grant.DeliveryURL == "" {
			t.Error("missing delivery URL")
		}
		e := sink.last(t)
		if e.Outcome != models.AuditOutcomeSuccess || e.TokenFingerprint == "" || e.EmailDomainFP == "" {
			t.Errorf("audit entry incomplete: %+v", e)
		}
	})

	t.Run("fragment match is case-insensitive", func(t *testing.T) {
		v, _, _ := newTestVerifier(t)
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "CTOR", "203.0.113.7")
		if err != nil || denial != nil || grant == nil {
			t.Fatalf("expected grant, got denial=%v err=%v", denial, err)
		}
	})

	t.Run("wrong fragment is denied and audited", func(t *testing.T) {
		v, sink, _ := newTestVerifier(t)
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "nope", "203.0.113.7")
		if err != nil || grant != nil {
			t.Fatalf("expected denial, got grant=%v err=%v", grant, err)
		}
		if denial.Code != response.CodeMismatch {
			t.Errorf("code %s, want MISMATCH", denial.Code)
		}
		e := sink.last(t)
		if e.Outcome != models.AuditOutcomeDenied || e.Reason != response.CodeMismatch {
			t.Errorf("audit entry: %+v", e)
		}
		if e.EmailDomainFP == "" {
			t.Error("denied attempts should still carry the domain fingerprint")
		}
	})

	t.Run("unknown submission is NOT_FOUND", func(t *testing.T) {
		v, _, _ := newTestVerifier(t)
		_, denial, err := v.Verify(ctx, "PSA-9999-999", "ctor", "203.0.113.7")
		if err != nil || denial == nil || denial.Code != response.CodeNotFound {
			t.Fatalf("got denial=%v err=%v, want NOT_FOUND", denial, err)
		}
	})
}

func TestRateLimiting(t *testing.T) {
	ctx := context.Background()
	const addr = "203.0.113.7"

	t.Run("sixth attempt is blocked even with a correct fragment", func(t *testing.T) {
		v, _, _ := newTestVerifier(t)
		for i := 0; i < 5; i++ {
			_, denial, err := v.Verify(ctx, "PSA-2026-001", "nope", addr)
			if err != nil || denial == nil {
				t.Fatalf("attempt %d: expected denial, err=%v", i+1, err)
			}
		}
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "ctor", addr)
		if err != nil || grant != nil {
			t.Fatalf("expected rate-limit denial, got grant=%v err=%v", grant, err)
		}
		if denial.Code != response.CodeRateLimited {
			t.Errorf("code %s, want RATE_LIMITED", denial.Code)
		}
		if denial.RetryAfter <= 0 {
			t.Error("rate-limit denial should carry remaining time")
		}
	})

	t.Run("block is per address, not per submission", func(t *testing.T) {
		v, _, _ := newTestVerifier(t)
		for i := 0; i < 5; i++ {
			v.Verify(ctx, "PSA-9999-999", "xxxx", addr)
		}
		_, denial, _ := v.Verify(ctx, "PSA-2026-001", "ctor", addr)
		if denial == nil || denial.Code != response.CodeRateLimited {
			t.Errorf("same address on a different submission should be blocked, got %v", denial)
		}
		// A different address is unaffected.
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "ctor", "198.51.100.9")
		if err != nil || denial != nil || grant == nil {
			t.Errorf("other address should succeed: denial=%v err=%v", denial, err)
		}
	})

	t.Run("correct attempt succeeds after cooldown and clears the ledger", func(t *testing.T) {
		v, _, now := newTestVerifier(t)
		for i := 0; i < 5; i++ {
			v.Verify(ctx, "PSA-2026-001", "nope", addr)
		}
		*now = now.Add(DefaultCooldown + time.Second)
		grant, denial, err := v.Verify(ctx, "PSA-2026-001", "ctor", addr)
		if err != nil || denial != nil || grant == nil {
			t.Fatalf("post-cooldown attempt: denial=%v err=%v", denial, err)
		}
		// Ledger cleared: a single failure afterwards does not block.
		v.Verify(ctx, "PSA-2026-001", "nope", addr)
		grant, denial, err = v.Verify(ctx, "PSA-2026-001", "ctor", addr)
		if err != nil || denial != nil || grant == nil {
			t.Errorf("ledger was not cleared on success: denial=%v err=%v", denial, err)
		}
	})
}

func TestFragmentMatches(t *testing.T) {
	cases := []struct {
		email, fragment string
		want            bool
	}{
		{"alice.collector@example.com", "ctor", true},
		{"alice.collector@example.com", "CTOR", true},
		{"alice.collector@example.com", "tor", false},
		{"alice.collector@example.com", "collector", false},
		{"ab@example.com", "ab", true}, // local part shorter than the fragment length
		{"ab@example.com", "xab", false},
		{"@example.com", "", false},
		{"not-an-email", "mail", false},
	}
	for _, tc := range cases {
		if got := fragmentMatches(tc.email, tc.fragment); got != tc.want {
			t.Errorf("fragmentMatches(%q, %q) = %v, want %v", tc.email, tc.fragment, got, tc.want)
		}
	}
}

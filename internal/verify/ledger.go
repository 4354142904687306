package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Attempt is the rate-limit state for one source address.
type Attempt struct {
	FailureCount int
	BlockedUntil time.Time
}

// Ledger tracks verification failures per source address. The ledger is
// per-address, not per-submission: one abusive address is throttled across
// every submission it touches. Implementations are injected into the
// verifier, never reached through a package singleton.
type Ledger interface {
	Get(ctx context.Context, addr string) (Attempt, error)
	// RecordFailure increments the address's failure count and, at the
	// threshold, sets the block. Returns the post-increment state.
	RecordFailure(ctx context.Context, addr string, threshold int, cooldown time.Duration, now time.Time) (Attempt, error)
	Clear(ctx context.Context, addr string) error
}

// MemoryLedger is a process-local Ledger guarded by a mutex. State survives
// individual requests but not process restarts, which is acceptable for a
// single-instance deployment.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*Attempt
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*Attempt)}
}

func (l *MemoryLedger) Get(_ context.Context, addr string) (Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.entries[addr]; ok {
		return *a, nil
	}
	return Attempt{}, nil
}

func (l *MemoryLedger) RecordFailure(_ context.Context, addr string, threshold int, cooldown time.Duration, now time.Time) (Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.entries[addr]
	if !ok {
		a = &Attempt{}
		l.entries[addr] = a
	}
	// An expired block resets the count; failures after the cooldown start
	// a fresh window.
	if !a.BlockedUntil.IsZero() && now.After(a.BlockedUntil) {
		a.FailureCount = 0
		a.BlockedUntil = time.Time{}
	}
	a.FailureCount++
	if a.FailureCount >= threshold {
		a.BlockedUntil = now.Add(cooldown)
	}
	return *a, nil
}

func (l *MemoryLedger) Clear(_ context.Context, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, addr)
	return nil
}

// RedisLedger shares rate-limit state across instances. Keys expire on
// their own after the cooldown so abandoned addresses cost nothing.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func failuresKey(addr string) string { return "verify:failures:" + addr }
func blockedKey(addr string) string  { return "verify:blocked:" + addr }

func (l *RedisLedger) Get(ctx context.Context, addr string) (Attempt, error) {
	var a Attempt
	blocked, err := l.client.Get(ctx, blockedKey(addr)).Int64()
	if err != nil && err != redis.Nil {
		return a, fmt.Errorf("ledger get blocked: %w", err)
	}
	if err == nil {
		a.BlockedUntil = time.UnixMilli(blocked)
	}
	count, err := l.client.Get(ctx, failuresKey(addr)).Int()
	if err != nil && err != redis.Nil {
		return a, fmt.Errorf("ledger get failures: %w", err)
	}
	a.FailureCount = count
	return a, nil
}

func (l *RedisLedger) RecordFailure(ctx context.Context, addr string, threshold int, cooldown time.Duration, now time.Time) (Attempt, error) {
	count, err := l.client.Incr(ctx, failuresKey(addr)).Result()
	if err != nil {
		return Attempt{}, fmt.Errorf("ledger incr: %w", err)
	}
	// The failure window itself expires after the cooldown.
	l.client.Expire(ctx, failuresKey(addr), cooldown)
	a := Attempt{FailureCount: int(count)}
	if int(count) >= threshold {
		a.BlockedUntil = now.Add(cooldown)
		if err := l.client.Set(ctx, blockedKey(addr), a.BlockedUntil.UnixMilli(), cooldown).Err(); err != nil {
			return a, fmt.Errorf("ledger set block: %w", err)
		}
	}
	return a, nil
}

func (l *RedisLedger) Clear(ctx context.Context, addr string) error {
	if err := l.client.Del(ctx, failuresKey(addr), blockedKey(addr)).Err(); err != nil {
		return fmt.Errorf("ledger clear: %w", err)
	}
	return nil
}

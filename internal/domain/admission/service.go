// Package admission guards the expensive AI routes. Two checks run before any
// model work starts: a fixed-window rate limit (requests per owner per window)
// and a concurrency cap (simultaneous in-flight runs per owner). Both are
// built on atomic counters so concurrent requests cannot slip past a limit.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/hondana-dev/hondana/internal/infra/counter"
)

// Config holds the admission limits for a route.
type Config struct {
	// WindowSeconds is the fixed rate-limit window length.
	WindowSeconds int
	// RateLimit is the maximum number of requests per owner per window.
	RateLimit int64
	// ConcurrencyLimit is the maximum number of simultaneous runs per owner.
	ConcurrencyLimit int64
	// SlotTTLSeconds bounds how long a concurrency slot can be held. It is a
	// leak guard: a crashed holder's slot expires instead of wedging the owner.
	SlotTTLSeconds int
}

// RateDecision is the outcome of a rate-limit check, carrying everything the
// HTTP layer needs for the X-RateLimit-* response headers.
type RateDecision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Service performs admission checks backed by a counter store.
type Service struct {
	store counter.Store
	cfg   Config
	now   func() time.Time
}

// NewService creates an admission Service with the given limits.
func NewService(store counter.Store, cfg Config) *Service {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.SlotTTLSeconds <= 0 {
		cfg.SlotTTLSeconds = 120
	}
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// CheckRateLimit counts one request (of the given weight) against the owner's
// current fixed window and reports whether it is admitted. The counter is
// incremented first and compared after, so two racing requests can never both
// observe the last free slot.
func (s *Service) CheckRateLimit(ctx context.Context, route, owner string, weight int64) (*RateDecision, error) {
	if weight <= 0 {
		weight = 1
	}

	window := int64(s.cfg.WindowSeconds)
	nowUnix := s.now().Unix()
	bucket := nowUnix / window
	key := fmt.Sprintf("rl:%s:%s:%d", route, owner, bucket)

	// TTL is set only when the key is created, so the window ends at a fixed
	// time regardless of how many requests land in it.
	count, err := s.store.IncrBy(ctx, key, weight, time.Duration(window)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("admission: rate incr: %w", err)
	}

	remaining := s.cfg.RateLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateDecision{
		Allowed:   count <= s.cfg.RateLimit,
		Limit:     s.cfg.RateLimit,
		Remaining: remaining,
		ResetAt:   time.Unix((bucket+1)*window, 0),
	}, nil
}

// AcquireConcurrency claims an in-flight slot for the owner. Returns false
// when the owner is already at the concurrency limit. The increment is undone
// on denial so a rejected request does not consume a slot.
func (s *Service) AcquireConcurrency(ctx context.Context, route, owner string) (bool, error) {
	key := concurrencyKey(route, owner)
	ttl := time.Duration(s.cfg.SlotTTLSeconds) * time.Second

	count, err := s.store.IncrBy(ctx, key, 1, ttl)
	if err != nil {
		return false, fmt.Errorf("admission: concurrency incr: %w", err)
	}
	if count > s.cfg.ConcurrencyLimit {
		if _, undoErr := s.store.DecrFloor(ctx, key); undoErr != nil {
			return false, fmt.Errorf("admission: concurrency undo: %w", undoErr)
		}
		return false, nil
	}
	return true, nil
}

// ReleaseConcurrency frees a previously acquired slot. Safe to call more than
// once: the counter floors at zero, so a double release cannot grant the owner
// extra capacity.
func (s *Service) ReleaseConcurrency(ctx context.Context, route, owner string) error {
	if _, err := s.store.DecrFloor(ctx, concurrencyKey(route, owner)); err != nil {
		return fmt.Errorf("admission: concurrency release: %w", err)
	}
	return nil
}

func concurrencyKey(route, owner string) string {
	return fmt.Sprintf("cc:%s:%s", route, owner)
}

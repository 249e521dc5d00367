// Package ratelimit tracks per-provider request windows and cool-downs so
// workers stop claiming work for a provider that has pushed back.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"
)

const (
	// DefaultWindowDuration is the length of the rolling request counter
	// window when none is configured.
	DefaultWindowDuration = 60 * time.Second

	// DefaultWindowLimit is the number of requests allowed per window when
	// none is configured.
	DefaultWindowLimit = 100

	// DefaultCooldown is applied when a provider reports a rate limit
	// without a usable Retry-After value.
	DefaultCooldown = 60 * time.Second
)

// Limiter coordinates provider pacing across workers. A provider is
// limited while a reported cool-down is active or once its request window
// has used up the configured quota. State is persisted through the
// RateLimitStore so restarts and other processes observe the same
// decisions. All window updates are monotonic, so concurrent writers only
// affect counter precision, never the limited/not-limited decision.
type Limiter struct {
	mu              sync.Mutex
	store           outbound.RateLimitStore
	windowDuration  time.Duration
	windowLimit     int
	defaultCooldown time.Duration
}

// NewLimiter creates a limiter backed by the given store. Zero values fall
// back to the package defaults.
func NewLimiter(
	store outbound.RateLimitStore,
	windowDuration time.Duration,
	windowLimit int,
	defaultCooldown time.Duration,
) *Limiter {
	if windowDuration <= 0 {
		windowDuration = DefaultWindowDuration
	}
	if windowLimit <= 0 {
		windowLimit = DefaultWindowLimit
	}
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	return &Limiter{
		store:           store,
		windowDuration:  windowDuration,
		windowLimit:     windowLimit,
		defaultCooldown: defaultCooldown,
	}
}

// Allow reports whether requests to the provider may proceed right now.
// Unknown providers are always allowed.
func (l *Limiter) Allow(ctx context.Context, provider string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.store.Load(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("load rate limit state for %s: %w", provider, err)
	}
	if state == nil {
		return true, nil
	}

	now := time.Now()
	if state.IsLimited(now) || state.WindowExhausted(now, l.windowLimit) {
		return false, nil
	}

	state.ClearExpiredCooldown(now)
	if err := l.store.Save(ctx, state); err != nil {
		return false, fmt.Errorf("save rate limit state for %s: %w", provider, err)
	}
	return true, nil
}

// CooldownRemaining returns how long the provider stays limited, zero when
// it is not limited.
func (l *Limiter) CooldownRemaining(ctx context.Context, provider string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.store.Load(ctx, provider)
	if err != nil {
		return 0, fmt.Errorf("load rate limit state for %s: %w", provider, err)
	}
	if state == nil {
		return 0, nil
	}
	return state.CooldownRemaining(time.Now()), nil
}

// RecordRequests adds n requests to the provider's current window, rolling
// the window forward when it has expired.
func (l *Limiter) RecordRequests(ctx context.Context, provider string, n int) error {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.loadOrCreate(ctx, provider)
	if err != nil {
		return err
	}

	state.Record(time.Now(), n)
	if err := l.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save rate limit state for %s: %w", provider, err)
	}
	return nil
}

// ReportRateLimit records a provider push-back. A positive Retry-After is
// authoritative and rewrites the scheduled cool-down end, even to an
// earlier one. Without a usable Retry-After the default cool-down applies,
// and that end only ever moves forward.
func (l *Limiter) ReportRateLimit(ctx context.Context, provider string, retryAfter time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.loadOrCreate(ctx, provider)
	if err != nil {
		return err
	}

	now := time.Now()
	cooldown := retryAfter
	if retryAfter > 0 {
		state.SetCooldown(now, retryAfter)
	} else {
		cooldown = l.defaultCooldown
		state.ApplyCooldown(now, cooldown)
	}
	if err := l.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save rate limit state for %s: %w", provider, err)
	}

	slogger.Warn(ctx, "Provider rate limited", slogger.Fields2(
		"provider", provider,
		"cooldown_until", now.Add(cooldown).Format(time.RFC3339),
	))
	return nil
}

// LimitedProviders returns the names of all providers currently inside a
// cool-down or with an exhausted request window, for exclusion from batch
// claims.
func (l *Limiter) LimitedProviders(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	states, err := l.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit states: %w", err)
	}

	now := time.Now()
	var limited []string
	for _, state := range states {
		if state.IsLimited(now) || state.WindowExhausted(now, l.windowLimit) {
			limited = append(limited, state.Provider())
		}
	}
	return limited, nil
}

func (l *Limiter) loadOrCreate(ctx context.Context, provider string) (*entity.RateLimitState, error) {
	state, err := l.store.Load(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state for %s: %w", provider, err)
	}
	if state != nil {
		return state, nil
	}

	state, err = entity.NewRateLimitState(provider, l.windowDuration)
	if err != nil {
		return nil, fmt.Errorf("create rate limit state for %s: %w", provider, err)
	}
	return state, nil
}

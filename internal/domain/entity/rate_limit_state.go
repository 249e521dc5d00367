package entity

import (
	"time"
)

// RateLimitState tracks one provider's counter window and any active
// cool-down. Updates are monotonic and commutative so concurrent writers
// only affect precision, never the limited/not-limited decision.
type RateLimitState struct {
	provider       string
	requestCount   int
	windowStart    time.Time
	windowDuration time.Duration
	cooldownUntil  *time.Time
}

// NewRateLimitState opens a fresh counter window for a provider.
func NewRateLimitState(provider string, windowDuration time.Duration) (*RateLimitState, error) {
	if provider == "" {
		return nil, NewDomainError("provider cannot be empty", "INVALID_PROVIDER")
	}
	if windowDuration <= 0 {
		return nil, NewDomainError("window duration must be positive", "INVALID_WINDOW_DURATION")
	}

	return &RateLimitState{
		provider:       provider,
		windowStart:    time.Now(),
		windowDuration: windowDuration,
	}, nil
}

// RestoreRateLimitState creates a RateLimitState entity from stored data.
func RestoreRateLimitState(
	provider string,
	requestCount int,
	windowStart time.Time,
	windowDuration time.Duration,
	cooldownUntil *time.Time,
) *RateLimitState {
	return &RateLimitState{
		provider:       provider,
		requestCount:   requestCount,
		windowStart:    windowStart,
		windowDuration: windowDuration,
		cooldownUntil:  cooldownUntil,
	}
}

// Provider returns the provider name.
func (r *RateLimitState) Provider() string {
	return r.provider
}

// RequestCount returns the number of requests recorded in the current window.
func (r *RateLimitState) RequestCount() int {
	return r.requestCount
}

// WindowStart returns when the current counter window opened.
func (r *RateLimitState) WindowStart() time.Time {
	return r.windowStart
}

// WindowDuration returns the length of the counter window.
func (r *RateLimitState) WindowDuration() time.Duration {
	return r.windowDuration
}

// CooldownUntil returns the end of an active cool-down, if any.
func (r *RateLimitState) CooldownUntil() *time.Time {
	return r.cooldownUntil
}

// IsLimited returns true while a cool-down is in effect at the given time.
func (r *RateLimitState) IsLimited(now time.Time) bool {
	return r.cooldownUntil != nil && now.Before(*r.cooldownUntil)
}

// CooldownRemaining returns how long until the cool-down expires, zero if none.
func (r *RateLimitState) CooldownRemaining(now time.Time) time.Duration {
	if r.cooldownUntil == nil || !now.Before(*r.cooldownUntil) {
		return 0
	}
	return r.cooldownUntil.Sub(now)
}

// Record adds n requests to the window, rolling the window forward first if
// it has expired.
func (r *RateLimitState) Record(now time.Time, n int) {
	if now.Sub(r.windowStart) >= r.windowDuration {
		r.windowStart = now
		r.requestCount = 0
	}
	r.requestCount += n
}

// WindowExhausted reports whether the current counter window has used up
// the given request limit. A non-positive limit disables the check, and an
// expired window never counts as exhausted.
func (r *RateLimitState) WindowExhausted(now time.Time, limit int) bool {
	if limit <= 0 {
		return false
	}
	if now.Sub(r.windowStart) >= r.windowDuration {
		return false
	}
	return r.requestCount >= limit
}

// ApplyCooldown records a default cool-down. The end only ever moves
// forward; a concurrent default report never truncates an
// already-scheduled window.
func (r *RateLimitState) ApplyCooldown(now time.Time, duration time.Duration) {
	until := now.Add(duration)
	if r.cooldownUntil == nil || until.After(*r.cooldownUntil) {
		r.cooldownUntil = &until
	}
}

// SetCooldown records a provider-supplied Retry-After. The provider's value
// is authoritative and rewrites the scheduled end, shortening it when the
// provider says the window clears sooner.
func (r *RateLimitState) SetCooldown(now time.Time, duration time.Duration) {
	until := now.Add(duration)
	r.cooldownUntil = &until
}

// ClearExpiredCooldown drops the cool-down once it has passed.
func (r *RateLimitState) ClearExpiredCooldown(now time.Time) {
	if r.cooldownUntil != nil && !now.Before(*r.cooldownUntil) {
		r.cooldownUntil = nil
	}
}

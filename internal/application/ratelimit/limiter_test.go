package ratelimit

import (
	"context"
	"testing"
	"time"

	"receiptqueue/internal/adapter/outbound/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUnknownProvider(t *testing.T) {
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, 0)

	allowed, err := limiter.Allow(context.Background(), "openai")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiterBlocksAfterReportedRateLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, 0)

	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", 30*time.Second))

	allowed, err := limiter.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.CooldownRemaining(ctx, "openai")
	require.NoError(t, err)
	assert.Greater(t, remaining, 25*time.Second)
	assert.LessOrEqual(t, remaining, 30*time.Second)
}

func TestLimiterUsesDefaultCooldownWithoutRetryAfter(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, 45*time.Second)

	require.NoError(t, limiter.ReportRateLimit(ctx, "gemini", 0))

	remaining, err := limiter.CooldownRemaining(ctx, "gemini")
	require.NoError(t, err)
	assert.Greater(t, remaining, 40*time.Second)
	assert.LessOrEqual(t, remaining, 45*time.Second)
}

func TestLimiterRetryAfterRewritesCooldown(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, 0)

	// Default cool-down first (60s), then the provider says 2s. The
	// provider's value is authoritative and shortens the remaining window.
	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", 0))
	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", 2*time.Second))

	remaining, err := limiter.CooldownRemaining(ctx, "openai")
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 2*time.Second)
}

func TestLimiterDefaultCooldownNeverTruncates(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, time.Second)

	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", 2*time.Minute))
	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", 0))

	remaining, err := limiter.CooldownRemaining(ctx, "openai")
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Minute)
}

func TestLimiterBlocksWhenWindowExhausted(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), time.Minute, 5, 0)

	require.NoError(t, limiter.RecordRequests(ctx, "openai", 4))
	allowed, err := limiter.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, limiter.RecordRequests(ctx, "openai", 1))
	allowed, err = limiter.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, allowed)

	limited, err := limiter.LimitedProviders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, limited)
}

func TestLimiterWindowExhaustionClearsWithNewWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 50*time.Millisecond, 3, 0)

	require.NoError(t, limiter.RecordRequests(ctx, "openai", 3))
	allowed, err := limiter.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, allowed)

	limited, err := limiter.LimitedProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, limited)
}

func TestLimiterLimitedProviders(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(memory.NewRateLimitStore(), 0, 0, 0)

	require.NoError(t, limiter.ReportRateLimit(ctx, "openai", time.Minute))
	require.NoError(t, limiter.RecordRequests(ctx, "gemini", 5))

	limited, err := limiter.LimitedProviders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, limited)
}

func TestLimiterRecordRequestsRollsWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRateLimitStore()
	limiter := NewLimiter(store, 50*time.Millisecond, 0, 0)

	require.NoError(t, limiter.RecordRequests(ctx, "openai", 3))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, limiter.RecordRequests(ctx, "openai", 2))

	state, err := store.Load(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.RequestCount())
}

package repository

import (
	"context"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rateLimitColumns = `provider, request_count, window_start, window_duration_ms, cooldown_until`

// PostgresRateLimitStore implements the RateLimitStore interface.
type PostgresRateLimitStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRateLimitStore creates a new PostgreSQL rate limit store.
func NewPostgresRateLimitStore(pool *pgxpool.Pool) *PostgresRateLimitStore {
	return &PostgresRateLimitStore{pool: pool}
}

var _ outbound.RateLimitStore = (*PostgresRateLimitStore)(nil)

// Load returns a provider's rate limit state, or nil when the provider has
// no recorded window yet.
func (s *PostgresRateLimitStore) Load(ctx context.Context, provider string) (*entity.RateLimitState, error) {
	if provider == "" {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + rateLimitColumns + ` FROM receiptqueue.rate_limits WHERE provider = $1`

	state, err := scanRateLimitState(s.pool.QueryRow(ctx, query, provider))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "load rate limit state")
	}
	return state, nil
}

// LoadAll returns every provider's rate limit state ordered by provider.
func (s *PostgresRateLimitStore) LoadAll(ctx context.Context) ([]*entity.RateLimitState, error) {
	query := `SELECT ` + rateLimitColumns + ` FROM receiptqueue.rate_limits ORDER BY provider`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, WrapError(err, "load all rate limit states")
	}
	defer rows.Close()

	states := make([]*entity.RateLimitState, 0)
	for rows.Next() {
		state, err := scanRateLimitState(rows)
		if err != nil {
			return nil, WrapError(err, "scan rate limit state")
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Save upserts a provider's rate limit state.
func (s *PostgresRateLimitStore) Save(ctx context.Context, state *entity.RateLimitState) error {
	if state == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO receiptqueue.rate_limits (` + rateLimitColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider) DO UPDATE SET
			request_count = EXCLUDED.request_count,
			window_start = EXCLUDED.window_start,
			window_duration_ms = EXCLUDED.window_duration_ms,
			cooldown_until = EXCLUDED.cooldown_until`

	_, err := s.pool.Exec(ctx, query,
		state.Provider(),
		state.RequestCount(),
		state.WindowStart(),
		state.WindowDuration().Milliseconds(),
		state.CooldownUntil(),
	)
	if err != nil {
		return WrapError(err, "save rate limit state")
	}
	return nil
}

func scanRateLimitState(row pgx.Row) (*entity.RateLimitState, error) {
	var (
		provider         string
		requestCount     int
		windowStart      time.Time
		windowDurationMs int64
		cooldownUntil    *time.Time
	)

	err := row.Scan(&provider, &requestCount, &windowStart, &windowDurationMs, &cooldownUntil)
	if err != nil {
		return nil, err
	}

	return entity.RestoreRateLimitState(
		provider,
		requestCount,
		windowStart,
		time.Duration(windowDurationMs)*time.Millisecond,
		cooldownUntil,
	), nil
}

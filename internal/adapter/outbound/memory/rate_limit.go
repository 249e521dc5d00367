package memory

import (
	"context"
	"sort"
	"sync"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/port/outbound"
)

// RateLimitStore implements outbound.RateLimitStore in memory.
type RateLimitStore struct {
	mu     sync.Mutex
	states map[string]*entity.RateLimitState
}

// NewRateLimitStore creates an empty in-memory rate limit store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		states: make(map[string]*entity.RateLimitState),
	}
}

var _ outbound.RateLimitStore = (*RateLimitStore)(nil)

// Load returns the rate limit state for a provider, or nil when the
// provider has no recorded window yet.
func (r *RateLimitStore) Load(_ context.Context, provider string) (*entity.RateLimitState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[provider]
	if !ok {
		return nil, nil
	}
	return state, nil
}

// LoadAll returns every provider's rate limit state.
func (r *RateLimitStore) LoadAll(_ context.Context) ([]*entity.RateLimitState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]*entity.RateLimitState, 0, len(r.states))
	for _, state := range r.states {
		states = append(states, state)
	}
	sort.Slice(states, func(a, b int) bool {
		return states[a].Provider() < states[b].Provider()
	})
	return states, nil
}

// Save stores a provider's rate limit state.
func (r *RateLimitStore) Save(_ context.Context, state *entity.RateLimitState) error {
	if state == nil {
		return outbound.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.Provider()] = state
	return nil
}

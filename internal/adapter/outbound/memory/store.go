// Package memory provides in-memory implementations of the queue storage
// ports. They back unit and end-to-end tests and local development; the
// claim path holds a single mutex so its atomicity guarantees match the
// Postgres adapter's transactional semantics.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"receiptqueue/internal/domain/entity"
	"receiptqueue/internal/domain/valueobject"
	"receiptqueue/internal/port/outbound"

	"github.com/google/uuid"
)

// Store implements outbound.QueueStore in memory.
type Store struct {
	mu    sync.Mutex
	items map[uuid.UUID]*entity.QueueItem
}

// NewStore creates an empty in-memory queue store.
func NewStore() *Store {
	return &Store{
		items: make(map[uuid.UUID]*entity.QueueItem),
	}
}

var _ outbound.QueueStore = (*Store)(nil)

// Enqueue inserts a new item, rejecting duplicates that are still open.
func (s *Store) Enqueue(_ context.Context, item *entity.QueueItem) error {
	if item == nil {
		return outbound.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.SourceType() == item.SourceType() &&
			existing.SourceID() == item.SourceID() &&
			existing.Operation() == item.Operation() &&
			(existing.Status() == valueobject.ItemStatusPending ||
				existing.Status() == valueobject.ItemStatusProcessing) {
			return outbound.ErrDuplicateItem
		}
	}

	s.items[item.ID()] = item
	return nil
}

// FindByID returns an item by ID, or nil when absent.
func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return item, nil
}

// FindByFilter returns items matching the filter in claim order.
func (s *Store) FindByFilter(_ context.Context, filter outbound.ItemFilter) ([]*entity.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*entity.QueueItem
	for _, item := range s.items {
		if !matchesFilter(item, filter) {
			continue
		}
		matched = append(matched, item)
	}

	sortClaimOrder(matched)

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesFilter(item *entity.QueueItem, filter outbound.ItemFilter) bool {
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, item.Status()) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, item.Priority()) {
		return false
	}
	if filter.OlderThan != nil && !item.CreatedAt().Before(*filter.OlderThan) {
		return false
	}
	return true
}

func containsStatus(statuses []valueobject.ItemStatus, status valueobject.ItemStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func containsPriority(priorities []valueobject.Priority, priority valueobject.Priority) bool {
	for _, p := range priorities {
		if p == priority {
			return true
		}
	}
	return false
}

// sortClaimOrder sorts priority descending, createdAt ascending, then id
// ascending so equal-priority equal-timestamp ties break deterministically.
func sortClaimOrder(items []*entity.QueueItem) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Priority().Rank() != items[b].Priority().Rank() {
			return items[a].Priority().Rank() > items[b].Priority().Rank()
		}
		if !items[a].CreatedAt().Equal(items[b].CreatedAt()) {
			return items[a].CreatedAt().Before(items[b].CreatedAt())
		}
		return items[a].ID().String() < items[b].ID().String()
	})
}

// ClaimBatch atomically claims up to limit pending items for a worker.
// The whole selection and transition happens under one lock, so no two
// concurrent claim calls can observe the same item as claimable.
func (s *Store) ClaimBatch(
	_ context.Context,
	workerID string,
	limit int,
	excludedProviders []string,
) ([]*entity.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	excluded := make(map[string]bool, len(excludedProviders))
	for _, provider := range excludedProviders {
		excluded[provider] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*entity.QueueItem
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusPending {
			continue
		}
		if excluded[item.Provider()] {
			continue
		}
		eligible = append(eligible, item)
	}

	sortClaimOrder(eligible)

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*entity.QueueItem, 0, len(eligible))
	for _, item := range eligible {
		if err := item.Claim(workerID); err != nil {
			return nil, err
		}
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// MarkCompleted finalizes an item. Replayed reports are no-ops.
func (s *Store) MarkCompleted(_ context.Context, id uuid.UUID, processingTime time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, outbound.ErrNotFound
	}
	if item.Status() != valueobject.ItemStatusProcessing {
		return false, nil
	}
	if err := item.Complete(processingTime); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed records a terminal failure. Replayed reports are no-ops.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, outbound.ErrNotFound
	}
	if item.Status() != valueobject.ItemStatusProcessing {
		return false, nil
	}
	if err := item.Fail(errorMessage); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRateLimited parks a processing item until the cool-down passes.
func (s *Store) MarkRateLimited(_ context.Context, id uuid.UUID, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, outbound.ErrNotFound
	}
	if item.Status() != valueobject.ItemStatusProcessing {
		return false, nil
	}
	if err := item.RateLimit(until); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseClaims returns all of a worker's processing items to pending.
func (s *Store) ReleaseClaims(_ context.Context, workerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusProcessing {
			continue
		}
		if item.ClaimedBy() == nil || *item.ClaimedBy() != workerID {
			continue
		}
		if err := item.Requeue(); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// RequeueStale resets processing items claimed by the given workers and not
// updated since staleBefore.
func (s *Store) RequeueStale(_ context.Context, workerIDs []string, staleBefore time.Time) (int64, error) {
	dead := make(map[string]bool, len(workerIDs))
	for _, id := range workerIDs {
		dead[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var requeued int64
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusProcessing {
			continue
		}
		if item.ClaimedBy() == nil || !dead[*item.ClaimedBy()] {
			continue
		}
		if !item.UpdatedAt().Before(staleBefore) {
			continue
		}
		if err := item.Requeue(); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// ResetRateLimited returns rate_limited items whose cool-down has elapsed
// to pending.
func (s *Store) ResetRateLimited(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusRateLimited {
			continue
		}
		if item.RateLimitedUntil() != nil && now.Before(*item.RateLimitedUntil()) {
			continue
		}
		if err := item.Requeue(); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// RequeueFailed returns up to maxItems failed items with retry budget to
// pending.
func (s *Store) RequeueFailed(_ context.Context, maxItems, maxAttempts int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []*entity.QueueItem
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusFailed {
			continue
		}
		if item.Attempts() >= maxAttempts {
			continue
		}
		failed = append(failed, item)
	}

	sortClaimOrder(failed)
	if maxItems > 0 && len(failed) > maxItems {
		failed = failed[:maxItems]
	}

	var requeued int64
	for _, item := range failed {
		if err := item.Requeue(); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// PurgeTerminal deletes completed/failed items older than olderThan. It
// never touches non-terminal items regardless of age.
func (s *Store) PurgeTerminal(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, item := range s.items {
		if !item.IsTerminal() {
			continue
		}
		if item.CompletedAt() == nil || !item.CompletedAt().Before(olderThan) {
			continue
		}
		delete(s.items, id)
		purged++
	}
	return purged, nil
}

// CountByStatus returns item counts grouped by status.
func (s *Store) CountByStatus(_ context.Context) (map[valueobject.ItemStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[valueobject.ItemStatus]int64)
	for _, item := range s.items {
		counts[item.Status()]++
	}
	return counts, nil
}

// OldestPendingAge returns the age of the oldest pending item.
func (s *Store) OldestPendingAge(_ context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *time.Time
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusPending {
			continue
		}
		created := item.CreatedAt()
		if oldest == nil || created.Before(*oldest) {
			oldest = &created
		}
	}

	if oldest == nil {
		return 0, nil
	}
	return time.Since(*oldest), nil
}

// AverageProcessingTime returns the mean recorded processing duration of
// items completed inside the trailing window.
func (s *Store) AverageProcessingTime(_ context.Context, window time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var total time.Duration
	var count int64
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusCompleted {
			continue
		}
		if item.CompletedAt() == nil || item.CompletedAt().Before(cutoff) {
			continue
		}
		if item.ProcessingTime() == nil {
			continue
		}
		total += *item.ProcessingTime()
		count++
	}

	if count == 0 {
		return 0, nil
	}
	return total / time.Duration(count), nil
}

// CompletedSince counts items completed after the given time.
func (s *Store) CompletedSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, item := range s.items {
		if item.Status() != valueobject.ItemStatusCompleted {
			continue
		}
		if item.CompletedAt() != nil && item.CompletedAt().After(since) {
			count++
		}
	}
	return count, nil
}

package entity

import (
	"time"

	"receiptqueue/internal/domain/valueobject"

	"github.com/google/uuid"
)

// QueueItem represents one unit of embedding work for a source document.
type QueueItem struct {
	id               uuid.UUID
	sourceType       string
	sourceID         string
	operation        valueobject.Operation
	priority         valueobject.Priority
	status           valueobject.ItemStatus
	provider         string
	attempts         int
	lastError        *string
	claimedBy        *string
	rateLimitedUntil *time.Time
	processingTime   *time.Duration
	createdAt        time.Time
	updatedAt        time.Time
	completedAt      *time.Time
}

// NewQueueItem creates a new pending QueueItem.
func NewQueueItem(
	sourceType, sourceID string,
	operation valueobject.Operation,
	priority valueobject.Priority,
	provider string,
) (*QueueItem, error) {
	if sourceType == "" {
		return nil, NewDomainError("source type cannot be empty", "INVALID_SOURCE_TYPE")
	}
	if sourceID == "" {
		return nil, NewDomainError("source ID cannot be empty", "INVALID_SOURCE_ID")
	}
	if provider == "" {
		return nil, NewDomainError("provider cannot be empty", "INVALID_PROVIDER")
	}

	now := time.Now()
	return &QueueItem{
		id:         uuid.New(),
		sourceType: sourceType,
		sourceID:   sourceID,
		operation:  operation,
		priority:   priority,
		status:     valueobject.ItemStatusPending,
		provider:   provider,
		attempts:   0,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// RestoreQueueItem creates a QueueItem entity from stored data.
func RestoreQueueItem(
	id uuid.UUID,
	sourceType, sourceID string,
	operation valueobject.Operation,
	priority valueobject.Priority,
	status valueobject.ItemStatus,
	provider string,
	attempts int,
	lastError *string,
	claimedBy *string,
	rateLimitedUntil *time.Time,
	processingTime *time.Duration,
	createdAt, updatedAt time.Time,
	completedAt *time.Time,
) *QueueItem {
	return &QueueItem{
		id:               id,
		sourceType:       sourceType,
		sourceID:         sourceID,
		operation:        operation,
		priority:         priority,
		status:           status,
		provider:         provider,
		attempts:         attempts,
		lastError:        lastError,
		claimedBy:        claimedBy,
		rateLimitedUntil: rateLimitedUntil,
		processingTime:   processingTime,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		completedAt:      completedAt,
	}
}

// ID returns the item ID.
func (i *QueueItem) ID() uuid.UUID {
	return i.id
}

// SourceType returns the type of the source entity.
func (i *QueueItem) SourceType() string {
	return i.sourceType
}

// SourceID returns the identifier of the source entity.
func (i *QueueItem) SourceID() string {
	return i.sourceID
}

// Operation returns why embedding work is needed.
func (i *QueueItem) Operation() valueobject.Operation {
	return i.operation
}

// Priority returns the scheduling priority.
func (i *QueueItem) Priority() valueobject.Priority {
	return i.priority
}

// Status returns the current item status.
func (i *QueueItem) Status() valueobject.ItemStatus {
	return i.status
}

// Provider returns the embedding provider this item's source routes to.
func (i *QueueItem) Provider() string {
	return i.provider
}

// Attempts returns the number of claim attempts.
func (i *QueueItem) Attempts() int {
	return i.attempts
}

// LastError returns the last failure reason, if any.
func (i *QueueItem) LastError() *string {
	return i.lastError
}

// ClaimedBy returns the worker holding the current claim, if any.
func (i *QueueItem) ClaimedBy() *string {
	return i.claimedBy
}

// RateLimitedUntil returns the end of the item's cool-down window, if any.
func (i *QueueItem) RateLimitedUntil() *time.Time {
	return i.rateLimitedUntil
}

// ProcessingTime returns the recorded processing duration, if completed.
func (i *QueueItem) ProcessingTime() *time.Duration {
	return i.processingTime
}

// CreatedAt returns the creation timestamp.
func (i *QueueItem) CreatedAt() time.Time {
	return i.createdAt
}

// UpdatedAt returns the last update timestamp.
func (i *QueueItem) UpdatedAt() time.Time {
	return i.updatedAt
}

// CompletedAt returns the completion timestamp, if terminal.
func (i *QueueItem) CompletedAt() *time.Time {
	return i.completedAt
}

// IsTerminal returns true if the item is in a terminal state.
func (i *QueueItem) IsTerminal() bool {
	return i.status.IsTerminal()
}

// Claim transitions the item to processing on behalf of a worker.
func (i *QueueItem) Claim(workerID string) error {
	if workerID == "" {
		return NewDomainError("worker ID cannot be empty", "INVALID_WORKER_ID")
	}
	if !i.status.CanTransitionTo(valueobject.ItemStatusProcessing) {
		return NewDomainError("cannot claim item in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	i.status = valueobject.ItemStatusProcessing
	i.claimedBy = &workerID
	i.attempts++
	i.rateLimitedUntil = nil
	i.updatedAt = now
	return nil
}

// Complete marks the item as successfully embedded.
func (i *QueueItem) Complete(processingTime time.Duration) error {
	if !i.status.CanTransitionTo(valueobject.ItemStatusCompleted) {
		return NewDomainError("cannot complete item in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	i.status = valueobject.ItemStatusCompleted
	i.completedAt = &now
	i.processingTime = &processingTime
	i.claimedBy = nil
	i.lastError = nil
	i.updatedAt = now
	return nil
}

// Fail marks the item as failed with an error message.
func (i *QueueItem) Fail(errorMessage string) error {
	if !i.status.CanTransitionTo(valueobject.ItemStatusFailed) {
		return NewDomainError("cannot fail item in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	i.status = valueobject.ItemStatusFailed
	i.completedAt = &now
	i.lastError = &errorMessage
	i.claimedBy = nil
	i.updatedAt = now
	return nil
}

// RateLimit parks the item until the provider cool-down elapses. The
// attempt consumed by the claim is handed back; provider push-back never
// counts against the retry budget.
func (i *QueueItem) RateLimit(until time.Time) error {
	if !i.status.CanTransitionTo(valueobject.ItemStatusRateLimited) {
		return NewDomainError("cannot rate-limit item in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	i.status = valueobject.ItemStatusRateLimited
	i.rateLimitedUntil = &until
	i.claimedBy = nil
	if i.attempts > 0 {
		i.attempts--
	}
	i.updatedAt = now
	return nil
}

// Requeue returns the item to pending so it can be claimed again. The
// attempt counter is preserved so the max-retry cutoff still applies.
func (i *QueueItem) Requeue() error {
	if !i.status.CanTransitionTo(valueobject.ItemStatusPending) {
		return NewDomainError("cannot requeue item in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	i.status = valueobject.ItemStatusPending
	i.claimedBy = nil
	i.rateLimitedUntil = nil
	i.completedAt = nil
	i.updatedAt = now
	return nil
}

// Equal compares two QueueItem entities by identity.
func (i *QueueItem) Equal(other *QueueItem) bool {
	if other == nil {
		return false
	}
	return i.id == other.id
}

package valueobject

import "fmt"

// ItemStatus represents the current status of a queue item.
type ItemStatus string

// Item status constants.
const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusProcessing  ItemStatus = "processing"
	ItemStatusCompleted   ItemStatus = "completed"
	ItemStatusFailed      ItemStatus = "failed"
	ItemStatusRateLimited ItemStatus = "rate_limited"
)

// validItemStatuses contains all valid item statuses.
var validItemStatuses = map[ItemStatus]bool{
	ItemStatusPending:     true,
	ItemStatusProcessing:  true,
	ItemStatusCompleted:   true,
	ItemStatusFailed:      true,
	ItemStatusRateLimited: true,
}

// NewItemStatus creates a new ItemStatus with validation.
func NewItemStatus(status string) (ItemStatus, error) {
	s := ItemStatus(status)
	if !validItemStatuses[s] {
		return "", fmt.Errorf("invalid item status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s ItemStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// CanTransitionTo returns true if the status can transition to the target status.
// Every transition into a settled state goes through processing; completed is
// absorbing and failed can only leave via an explicit requeue back to pending.
func (s ItemStatus) CanTransitionTo(target ItemStatus) bool {
	transitions := map[ItemStatus][]ItemStatus{
		ItemStatusPending: {
			ItemStatusProcessing,
		},
		ItemStatusProcessing: {
			ItemStatusCompleted,
			ItemStatusFailed,
			ItemStatusRateLimited,
			ItemStatusPending,
		},
		ItemStatusRateLimited: {
			ItemStatusPending,
		},
		ItemStatusFailed: {
			ItemStatusPending,
		},
		ItemStatusCompleted: {},
	}

	validTransitions, exists := transitions[s]
	if !exists {
		return false
	}

	for _, validTarget := range validTransitions {
		if target == validTarget {
			return true
		}
	}
	return false
}

// AllItemStatuses returns all valid item statuses.
func AllItemStatuses() []ItemStatus {
	statuses := make([]ItemStatus, 0, len(validItemStatuses))
	for status := range validItemStatuses {
		statuses = append(statuses, status)
	}
	return statuses
}

package valueobject

import (
	"testing"
)

func TestNewItemStatus_ValidStatuses(t *testing.T) {
	validStatuses := []struct {
		input    string
		expected ItemStatus
	}{
		{"pending", ItemStatusPending},
		{"processing", ItemStatusProcessing},
		{"completed", ItemStatusCompleted},
		{"failed", ItemStatusFailed},
		{"rate_limited", ItemStatusRateLimited},
	}

	for _, tc := range validStatuses {
		t.Run(tc.input, func(t *testing.T) {
			status, err := NewItemStatus(tc.input)
			if err != nil {
				t.Fatalf("Expected no error for valid status %s, got: %v", tc.input, err)
			}

			if status != tc.expected {
				t.Errorf("Expected status %s, got %s", tc.expected, status)
			}
		})
	}
}

func TestNewItemStatus_InvalidStatuses(t *testing.T) {
	invalidStatuses := []string{
		"invalid",
		"PENDING",      // case sensitive
		"Completed",    // case sensitive
		"",             // empty string
		" pending",     // leading space
		"pending ",     // trailing space
		"ratelimited",  // missing underscore
		"rate-limited", // wrong separator
		"running",      // not an item status
		"cancelled",    // not an item status
	}

	for _, status := range invalidStatuses {
		t.Run(status, func(t *testing.T) {
			_, err := NewItemStatus(status)
			if err == nil {
				t.Fatalf("Expected error for invalid status %s, got none", status)
			}

			expectedError := "invalid item status: " + status
			if err.Error() != expectedError {
				t.Errorf("Expected error '%s', got '%v'", expectedError, err)
			}
		})
	}
}

func TestItemStatus_IsTerminal(t *testing.T) {
	testCases := []struct {
		status     ItemStatus
		isTerminal bool
	}{
		{ItemStatusPending, false},
		{ItemStatusProcessing, false},
		{ItemStatusRateLimited, false},
		{ItemStatusCompleted, true},
		{ItemStatusFailed, true},
	}

	for _, tc := range testCases {
		t.Run(tc.status.String(), func(t *testing.T) {
			if tc.status.IsTerminal() != tc.isTerminal {
				t.Errorf("Expected IsTerminal()=%v for %s", tc.isTerminal, tc.status)
			}
		})
	}
}

func TestItemStatus_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		name    string
		from    ItemStatus
		to      ItemStatus
		allowed bool
	}{
		{"pending to processing", ItemStatusPending, ItemStatusProcessing, true},
		{"pending to completed skips processing", ItemStatusPending, ItemStatusCompleted, false},
		{"pending to failed skips processing", ItemStatusPending, ItemStatusFailed, false},
		{"pending to rate_limited skips processing", ItemStatusPending, ItemStatusRateLimited, false},
		{"processing to completed", ItemStatusProcessing, ItemStatusCompleted, true},
		{"processing to failed", ItemStatusProcessing, ItemStatusFailed, true},
		{"processing to rate_limited", ItemStatusProcessing, ItemStatusRateLimited, true},
		{"processing requeued to pending", ItemStatusProcessing, ItemStatusPending, true},
		{"rate_limited back to pending", ItemStatusRateLimited, ItemStatusPending, true},
		{"rate_limited to processing directly", ItemStatusRateLimited, ItemStatusProcessing, false},
		{"failed requeued to pending", ItemStatusFailed, ItemStatusPending, true},
		{"failed to completed", ItemStatusFailed, ItemStatusCompleted, false},
		{"completed is absorbing (pending)", ItemStatusCompleted, ItemStatusPending, false},
		{"completed is absorbing (processing)", ItemStatusCompleted, ItemStatusProcessing, false},
		{"completed is absorbing (failed)", ItemStatusCompleted, ItemStatusFailed, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.from.CanTransitionTo(tc.to) != tc.allowed {
				t.Errorf("Expected CanTransitionTo(%s -> %s)=%v", tc.from, tc.to, tc.allowed)
			}
		})
	}
}

func TestAllItemStatuses(t *testing.T) {
	statuses := AllItemStatuses()
	if len(statuses) != 5 {
		t.Errorf("Expected 5 statuses, got %d", len(statuses))
	}
}

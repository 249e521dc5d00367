package valueobject

import (
	"testing"
)

func TestNewPriority_ValidPriorities(t *testing.T) {
	validPriorities := []struct {
		input    string
		expected Priority
	}{
		{"low", PriorityLow},
		{"medium", PriorityMedium},
		{"high", PriorityHigh},
		{"critical", PriorityCritical},
	}

	for _, tc := range validPriorities {
		t.Run(tc.input, func(t *testing.T) {
			priority, err := NewPriority(tc.input)
			if err != nil {
				t.Fatalf("Expected no error for valid priority %s, got: %v", tc.input, err)
			}

			if priority != tc.expected {
				t.Errorf("Expected priority %s, got %s", tc.expected, priority)
			}
		})
	}
}

func TestNewPriority_InvalidPriorities(t *testing.T) {
	invalidPriorities := []string{"", "urgent", "HIGH", "normal", "p1", " low"}

	for _, priority := range invalidPriorities {
		t.Run(priority, func(t *testing.T) {
			_, err := NewPriority(priority)
			if err == nil {
				t.Fatalf("Expected error for invalid priority %q, got none", priority)
			}
		})
	}
}

func TestPriority_Rank_Ordering(t *testing.T) {
	if !(PriorityCritical.Rank() > PriorityHigh.Rank() &&
		PriorityHigh.Rank() > PriorityMedium.Rank() &&
		PriorityMedium.Rank() > PriorityLow.Rank()) {
		t.Error("Expected rank ordering critical > high > medium > low")
	}
}

func TestPriority_HigherThan(t *testing.T) {
	testCases := []struct {
		name     string
		p        Priority
		other    Priority
		expected bool
	}{
		{"critical outranks high", PriorityCritical, PriorityHigh, true},
		{"high outranks medium", PriorityHigh, PriorityMedium, true},
		{"medium outranks low", PriorityMedium, PriorityLow, true},
		{"low does not outrank medium", PriorityLow, PriorityMedium, false},
		{"equal priorities do not outrank", PriorityHigh, PriorityHigh, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.p.HigherThan(tc.other) != tc.expected {
				t.Errorf("Expected %s.HigherThan(%s)=%v", tc.p, tc.other, tc.expected)
			}
		})
	}
}

func TestAllPriorities_ClaimOrder(t *testing.T) {
	expected := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	actual := AllPriorities()

	if len(actual) != len(expected) {
		t.Fatalf("Expected %d priorities, got %d", len(expected), len(actual))
	}

	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("Expected priority %s at index %d, got %s", expected[i], i, actual[i])
		}
	}
}

package valueobject

import "fmt"

// Priority represents the scheduling priority of a queue item. Higher
// priorities are claimed first.
type Priority string

// Priority constants, ordered from lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank maps each priority to its numeric rank for sorting.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// NewPriority creates a new Priority with validation.
func NewPriority(priority string) (Priority, error) {
	p := Priority(priority)
	if _, ok := priorityRank[p]; !ok {
		return "", fmt.Errorf("invalid priority: %s", priority)
	}
	return p, nil
}

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// Rank returns the numeric rank of the priority. Higher means more urgent.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// HigherThan returns true if p outranks other.
func (p Priority) HigherThan(other Priority) bool {
	return p.Rank() > other.Rank()
}

// AllPriorities returns all valid priorities ordered from highest to lowest,
// matching the claim selection order.
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

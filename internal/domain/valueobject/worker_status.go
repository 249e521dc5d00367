package valueobject

import "fmt"

// WorkerStatus represents the lifecycle state of a registered worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// validWorkerStatuses contains all valid worker statuses.
var validWorkerStatuses = map[WorkerStatus]bool{
	WorkerStatusIdle:    true,
	WorkerStatusActive:  true,
	WorkerStatusStopped: true,
}

// NewWorkerStatus creates a new WorkerStatus with validation.
func NewWorkerStatus(status string) (WorkerStatus, error) {
	s := WorkerStatus(status)
	if !validWorkerStatuses[s] {
		return "", fmt.Errorf("invalid worker status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s WorkerStatus) String() string {
	return string(s)
}

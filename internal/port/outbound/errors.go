package outbound

import "errors"

// Storage sentinel errors shared by all store adapters.
var (
	// ErrDuplicateItem is returned by Enqueue when work for the same
	// (sourceType, sourceID, operation) tuple is already pending or
	// processing.
	ErrDuplicateItem = errors.New("queue item already enqueued")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleConfig is returned by ConfigStore.Save when the stored
	// config has a newer version than the one being written.
	ErrStaleConfig = errors.New("queue config version is stale")
)

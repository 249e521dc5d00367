package outbound

import (
	"context"
	"encoding/json"
	"time"
)

// ChangeEventType classifies a change-event record.
type ChangeEventType string

// Change event types.
const (
	ChangeEventInsert ChangeEventType = "insert"
	ChangeEventUpdate ChangeEventType = "update"
	ChangeEventDelete ChangeEventType = "delete"
)

// Change event tables.
const (
	ChangeTableQueueItems ChangeTable = "queue_items"
	ChangeTableWorkers    ChangeTable = "workers"
	ChangeTableConfig     ChangeTable = "queue_config"
)

// ChangeTable identifies which logical table a change event belongs to.
type ChangeTable string

// ChangeEvent is one state-change record pushed to observers. Before/After
// are raw payloads; malformed or partial payloads are forwarded as-is and
// any downstream decoding error is the observer's responsibility.
type ChangeEvent struct {
	EventID   string          `json:"event_id"`
	EventType ChangeEventType `json:"event_type"`
	Table     ChangeTable     `json:"table"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChangeEventHandler consumes one change event. Returning an error leaves
// the event unacknowledged for redelivery.
type ChangeEventHandler func(ctx context.Context, event ChangeEvent) error

// EventPublisher pushes change events to the live update channel with
// at-least-once delivery per connected observer.
type EventPublisher interface {
	PublishChangeEvent(ctx context.Context, event ChangeEvent) error
	Close() error
}

// Package messaging provides the NATS JetStream implementation of the live
// update channel. Change events are published best-effort: a publish
// failure is recorded and logged but never propagated into the store write
// that produced the event.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/config"
	"receiptqueue/internal/port/outbound"

	"github.com/nats-io/nats.go"
)

const (
	natsConnectionTimeout = 5 * time.Second

	// StreamName is the JetStream stream carrying change events.
	StreamName = "QUEUE_EVENTS"

	// Subjects per logical table.
	SubjectItems   = "queue.events.item"
	SubjectWorkers = "queue.events.worker"
	SubjectConfig  = "queue.events.config"

	streamMaxAge = 24 * time.Hour
)

// PublisherMetrics tracks change event publishing counters.
type PublisherMetrics struct {
	PublishedCount    int64         `json:"published_count"`
	FailedCount       int64         `json:"failed_count"`
	AverageLatency    time.Duration `json:"average_latency"`
	LastPublishedTime time.Time     `json:"last_published_time"`
}

// NATSEventPublisher implements the EventPublisher interface over
// JetStream. In test mode no connection is made and publishes are recorded
// in the metrics only.
type NATSEventPublisher struct {
	config      config.NATSConfig
	conn        *nats.Conn
	js          nats.JetStreamContext
	isTestMode  bool
	isConnected bool

	mutex          sync.RWMutex
	metrics        PublisherMetrics
	reconnectCount int
	published      []outbound.ChangeEvent // test mode capture
}

// NewNATSEventPublisher creates a new NATS change event publisher.
func NewNATSEventPublisher(cfg config.NATSConfig) (*NATSEventPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") {
		return nil, errors.New("invalid NATS URL scheme")
	}
	if cfg.MaxReconnects < 0 {
		return nil, errors.New("max reconnects cannot be negative")
	}
	if cfg.ReconnectWait < 0 {
		return nil, errors.New("reconnect wait cannot be negative")
	}

	return &NATSEventPublisher{
		config:     cfg,
		isTestMode: cfg.TestMode,
	}, nil
}

var _ outbound.EventPublisher = (*NATSEventPublisher)(nil)

// Connect establishes the NATS connection and JetStream context.
func (p *NATSEventPublisher) Connect() error {
	if p.isTestMode {
		p.isConnected = true
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(p.config.MaxReconnects),
		nats.ReconnectWait(p.config.ReconnectWait),
		nats.Timeout(natsConnectionTimeout),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.mutex.Lock()
			p.reconnectCount++
			p.mutex.Unlock()
			slogger.InfoNoCtx("NATS reconnected", nil)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fields := slogger.Fields{}
			if err != nil {
				fields["error"] = err.Error()
			}
			slogger.WarnNoCtx("NATS connection lost", fields)
		}),
	}

	conn, err := nats.Connect(p.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p.conn = conn
	p.js = js
	p.isConnected = true
	return nil
}

// EnsureStream creates the change event stream if it doesn't exist.
func (p *NATSEventPublisher) EnsureStream() error {
	if p.isTestMode {
		if !p.isConnected {
			return errors.New("not connected to NATS server")
		}
		return nil
	}
	if p.js == nil {
		return errors.New("not connected to NATS server")
	}

	streamConfig := &nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"queue.events.>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}

	if _, err := p.js.AddStream(streamConfig); err != nil {
		// Stream may already exist with the same definition.
		if _, infoErr := p.js.StreamInfo(StreamName); infoErr == nil {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishChangeEvent publishes one change event on the subject derived
// from its table.
func (p *NATSEventPublisher) PublishChangeEvent(ctx context.Context, event outbound.ChangeEvent) error {
	start := time.Now()

	select {
	case <-ctx.Done():
		p.updateMetrics(false, time.Since(start))
		return ctx.Err()
	default:
	}

	if event.EventID == "" {
		return errors.New("event ID cannot be empty")
	}
	subject, err := subjectFor(event.Table)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.updateMetrics(false, time.Since(start))
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if p.isTestMode {
		if !p.isConnected {
			p.updateMetrics(false, time.Since(start))
			return errors.New("not connected in test mode")
		}
		p.mutex.Lock()
		p.published = append(p.published, event)
		p.mutex.Unlock()
		p.updateMetrics(true, time.Since(start))
		return nil
	}

	if p.js == nil {
		p.updateMetrics(false, time.Since(start))
		return errors.New("not connected to NATS server")
	}

	if _, err := p.js.PublishAsync(subject, data, nats.Context(ctx)); err != nil {
		p.updateMetrics(false, time.Since(start))
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	p.updateMetrics(true, time.Since(start))
	return nil
}

// Close shuts down the NATS connection.
func (p *NATSEventPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.js = nil
	}
	p.isConnected = false
	return nil
}

// Metrics returns a snapshot of the publishing counters.
func (p *NATSEventPublisher) Metrics() PublisherMetrics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.metrics
}

// PublishedEvents returns events captured in test mode, in publish order.
func (p *NATSEventPublisher) PublishedEvents() []outbound.ChangeEvent {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	events := make([]outbound.ChangeEvent, len(p.published))
	copy(events, p.published)
	return events
}

func (p *NATSEventPublisher) updateMetrics(success bool, latency time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !success {
		p.metrics.FailedCount++
		return
	}

	p.metrics.PublishedCount++
	p.metrics.LastPublishedTime = time.Now()
	if p.metrics.AverageLatency == 0 {
		p.metrics.AverageLatency = latency
	} else {
		// EMA with alpha = 0.1
		p.metrics.AverageLatency = time.Duration(
			0.9*float64(p.metrics.AverageLatency) + 0.1*float64(latency),
		)
	}
}

func subjectFor(table outbound.ChangeTable) (string, error) {
	switch table {
	case outbound.ChangeTableQueueItems:
		return SubjectItems, nil
	case outbound.ChangeTableWorkers:
		return SubjectWorkers, nil
	case outbound.ChangeTableConfig:
		return SubjectConfig, nil
	default:
		return "", fmt.Errorf("unknown change table %q", table)
	}
}

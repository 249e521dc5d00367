package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"receiptqueue/internal/application/common/slogger"
	"receiptqueue/internal/config"
	"receiptqueue/internal/port/outbound"

	"github.com/nats-io/nats.go"
)

// EventHandler consumes one change event. Returning an error leaves the
// message unacknowledged so JetStream redelivers it.
type EventHandler = outbound.ChangeEventHandler

// NATSEventSubscriber consumes the change event stream through a durable
// JetStream consumer, giving each named observer at-least-once delivery
// with resume-on-reconnect.
type NATSEventSubscriber struct {
	config       config.NATSConfig
	durableName  string
	conn         *nats.Conn
	js           nats.JetStreamContext
	subscription *nats.Subscription
}

// NewNATSEventSubscriber creates a subscriber identified by durableName.
func NewNATSEventSubscriber(cfg config.NATSConfig, durableName string) (*NATSEventSubscriber, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") {
		return nil, errors.New("invalid NATS URL scheme")
	}
	if durableName == "" {
		return nil, errors.New("durable name cannot be empty")
	}

	return &NATSEventSubscriber{
		config:      cfg,
		durableName: durableName,
	}, nil
}

// Connect establishes the NATS connection.
func (s *NATSEventSubscriber) Connect() error {
	opts := []nats.Option{
		nats.MaxReconnects(s.config.MaxReconnects),
		nats.ReconnectWait(s.config.ReconnectWait),
		nats.Timeout(natsConnectionTimeout),
	}

	conn, err := nats.Connect(s.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.conn = conn
	s.js = js
	return nil
}

// Subscribe starts delivering change events to the handler. Malformed
// payloads are forwarded with only the raw body in After so observers can
// decide what to do with them; handler errors are logged and the message
// redelivered, they never tear down the subscription.
func (s *NATSEventSubscriber) Subscribe(ctx context.Context, handler EventHandler) error {
	if s.js == nil {
		return errors.New("not connected to NATS server")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	sub, err := s.js.Subscribe(
		"queue.events.>",
		func(msg *nats.Msg) {
			s.dispatch(ctx, msg, handler)
		},
		nats.Durable(s.durableName),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", StreamName, err)
	}

	s.subscription = sub
	return nil
}

func (s *NATSEventSubscriber) dispatch(ctx context.Context, msg *nats.Msg, handler EventHandler) {
	var event outbound.ChangeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slogger.Warn(ctx, "Malformed change event payload, forwarding raw", slogger.Fields2(
			"subject", msg.Subject,
			"error", err.Error(),
		))
		event = outbound.ChangeEvent{
			Timestamp: time.Now(),
			After:     json.RawMessage(msg.Data),
		}
	}

	if err := handler(ctx, event); err != nil {
		slogger.Error(ctx, "Change event handler failed, message will be redelivered", slogger.Fields2(
			"event_id", event.EventID,
			"error", err.Error(),
		))
		// No ack: JetStream redelivers after AckWait.
		return
	}

	if err := msg.Ack(); err != nil {
		slogger.Error(ctx, "Failed to ack change event", slogger.Fields2(
			"event_id", event.EventID,
			"error", err.Error(),
		))
	}
}

// Close drains the subscription and closes the connection.
func (s *NATSEventSubscriber) Close() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			slogger.ErrorNoCtx("Failed to drain subscription", slogger.Field("error", err.Error()))
		}
		s.subscription = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.js = nil
	}
	return nil
}

// Package events publishes booking lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the engine.
const (
	SubjectBookingCreated  = "slotengine.booking.created"
	SubjectBookingRejected = "slotengine.booking.rejected"
)

// BookingEvent describes a booking outcome.
type BookingEvent struct {
	Type        string    `json:"type"`
	BookingID   string    `json:"booking_id,omitempty"`
	EventTypeID string    `json:"event_type_id"`
	HostIDs     []string  `json:"host_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   int       `json:"attendees"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher emits booking events.
type Publisher interface {
	PublishBookingCreated(ctx context.Context, event BookingEvent) error
	PublishBookingRejected(ctx context.Context, event BookingEvent) error
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	conn   Conn
	logger *slog.Logger
	now    func() time.Time
	close  func()
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials url and returns a publisher owning the connection.
func Connect(url string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("slotengine"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}
	p := NewNATSPublisher(nc, logger)
	p.close = nc.Close
	p.logger.Info("connected to NATS", "url", nc.ConnectedUrlRedacted())
	return p, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, logger: logger.With("component", "events"), now: time.Now}
}

// Close closes the connection when the publisher owns it.
func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// PublishBookingCreated emits booking.created.
func (p *NATSPublisher) PublishBookingCreated(ctx context.Context, event BookingEvent) error {
	event.Type = "booking.created"
	return p.publish(ctx, SubjectBookingCreated, event)
}

// PublishBookingRejected emits booking.rejected.
func (p *NATSPublisher) PublishBookingRejected(ctx context.Context, event BookingEvent) error {
	event.Type = "booking.rejected"
	return p.publish(ctx, SubjectBookingRejected, event)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event BookingEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	p.logger.DebugContext(ctx, "published event", "subject", subject, "booking_id", event.BookingID)
	return nil
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishBookingCreated(context.Context, BookingEvent) error { return nil }

func (Noop) PublishBookingRejected(context.Context, BookingEvent) error { return nil }

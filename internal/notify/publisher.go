// Package notify publishes approval workflow events to NATS JetStream for the
// notifications service.
//
// Subject convention: notifications.contracts.<event_type>
// Event types: approval_requested, approval_approved, approval_rejected
//
// Publishing is non-fatal: failures are logged and never returned, so a
// notification outage never interrupts an approval decision.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventApprovalRequested = "approval_requested"
	EventApprovalApproved  = "approval_approved"
	EventApprovalRejected  = "approval_rejected"
)

// Event is the JSON schema published to NATS.
type Event struct {
	EventType      string         `json:"event_type"`
	OrganisationID string         `json:"organisation_id"`
	ActorID        string         `json:"actor_id"`
	Recipients     []string       `json:"recipients,omitempty"`
	RecipientRole  string         `json:"recipient_role,omitempty"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	IsActionable   bool           `json:"is_actionable,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Category       string         `json:"category,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Sink receives serialised events. JetStream is the production sink.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publisher sends approval events. A nil Publisher or one without a sink
// silently drops events.
type Publisher struct {
	sink Sink
	log  zerolog.Logger
}

// NewPublisher creates a publisher writing to sink.
func NewPublisher(sink Sink, log zerolog.Logger) *Publisher {
	return &Publisher{sink: sink, log: log}
}

// Publish sends one event to notifications.contracts.<event_type>.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.sink == nil {
		return
	}
	if len(event.Recipients) == 0 && event.RecipientRole == "" && !event.IsActionable {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Category == "" {
		event.Category = "contract_approval"
	}
	if event.Severity == "" {
		event.Severity = "info"
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := Subject(event.EventType)
	if err := p.sink.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}

// Subject returns the NATS subject for an event type.
func Subject(eventType string) string {
	return fmt.Sprintf("notifications.contracts.%s", eventType)
}

// JetStream publishes to a JetStream stream over a NATS connection.
type JetStream struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectJetStream dials url and makes sure the stream covering
// notifications.> exists.
func ConnectJetStream(ctx context.Context, url, stream, clientName string) (*JetStream, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{"notifications.>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: ensure stream %s: %w", stream, err)
	}

	return &JetStream{conn: conn, js: js}, nil
}

func (j *JetStream) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := j.js.Publish(ctx, subject, data)
	return err
}

// Close drains the connection.
func (j *JetStream) Close() error {
	return j.conn.Drain()
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/investec-adapter/internal/metrics"
	"github.com/Checker-Finance/investec-adapter/pkg/logger"
	"github.com/Checker-Finance/investec-adapter/pkg/model"
)

// Publisher publishes canonical event envelopes to NATS JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
	venue   string
}

// New creates a Publisher on nc. subject is the balance event subject.
func New(nc *nats.Conn, subject, service, venue string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if subject == "" {
		subject = model.TopicBalanceUpdated
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
		venue:   venue,
	}, nil
}

// PublishEnvelope serializes env and publishes it to subject, or the default subject when empty.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	if subject == "" {
		subject = p.subject
	}

	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"client_id":      []string{env.ClientID},
			"venue":          []string{env.Venue},
		},
	}
	// Nats-Msg-Id lets JetStream drop duplicates on redelivery.
	msg.Header.Set(nats.MsgIdHdr, env.ID.String())

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"client_id", env.ClientID,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"client_id", env.ClientID,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishBalanceUpdated emits a balance.updated event for snap.
func (p *Publisher) PublishBalanceUpdated(ctx context.Context, snap model.BalanceSnapshot) error {
	venue := snap.Venue
	if venue == "" {
		venue = p.venue
	}
	env, err := model.NewEnvelope(snap.ClientID, venue, p.subject, model.EventBalanceUpdated, snap)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, p.subject, env)
}

// Publish sends payload as plain JSON, outside the envelope format.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// Close drains the underlying connection so in-flight publishes complete.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

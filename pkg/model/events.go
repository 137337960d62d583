package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// EventBalanceUpdated is emitted after a balance snapshot is taken.
	EventBalanceUpdated = "balance.updated"
	// TopicBalanceUpdated is the default NATS subject for balance events.
	TopicBalanceUpdated = "evt.balance.updated.v1"
)

// Envelope wraps every event published by the adapter.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	ClientID      string          `json:"client_id"`
	Venue         string          `json:"venue"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(clientID, venue, topic, eventType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		ClientID:      clientID,
		Venue:         venue,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// BalanceSnapshot is the canonical, venue-neutral view of one account balance.
type BalanceSnapshot struct {
	ClientID         string          `json:"client_id"`
	Venue            string          `json:"venue"`
	AccountID        string          `json:"account_id"`
	Currency         string          `json:"currency"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	AsOf             time.Time       `json:"as_of"`
}

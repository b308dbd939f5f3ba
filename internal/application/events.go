package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/petportre/orders-service/internal/domain"
)

type EventType string

const (
	EventOrderIngested   EventType = "order.ingested"
	EventOrderRejected   EventType = "order.rejected"
	EventDeliveryUpdated EventType = "delivery.updated"
)

// Event is an audit record of something that happened to an order.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Order      string          `json:"order,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(t EventType, key domain.OrderKey, payload any, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: at.UTC(),
	}
	if key.OrderNumber != "" {
		e.Order = key.String()
	}
	switch p := payload.(type) {
	case nil:
	case []byte:
		if json.Valid(p) {
			e.Payload = json.RawMessage(p)
		} else {
			e.Payload, _ = json.Marshal(string(p))
		}
	default:
		e.Payload, _ = json.Marshal(p)
	}
	return e
}

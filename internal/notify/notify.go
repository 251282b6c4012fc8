// Package notify publishes engine events to an external broadcast channel.
// Publishing is fire-and-forget: a failed publish is logged by the caller
// and never fails the primary operation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Action names the engine operation an event describes.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionConsumed Action = "consumed"
	ActionReset    Action = "reset"
)

// Event is the broadcast payload for one engine operation.
type Event struct {
	ID          string    `json:"id"`
	Action      Action    `json:"action"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId,omitempty"`
	Environment string    `json:"environment,omitempty"`
	At          time.Time `json:"at"`
}

// NewEvent stamps an event with id and time.
func NewEvent(action Action, entityType, entityID, environment string) Event {
	return Event{
		ID:          uuid.NewString(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Environment: environment,
		At:          time.Now().UTC(),
	}
}

// Notifier is the broadcast channel contract.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events. Used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NATSNotifier publishes events as JSON on testpool.events.<entityType>.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to url and returns a notifier. The connection reconnects
// in the background; events raised while disconnected are buffered by the
// client up to its pending limit and dropped beyond it, which is acceptable
// for a best-effort channel.
func NewNATS(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("testpool"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{conn: conn, subject: "testpool.events"}, nil
}

func (n *NATSNotifier) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject+"."+ev.EntityType, data)
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	_ = n.conn.Drain()
}

// Package history exports service lifecycle events to external stores.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart         EventType = "start"
	EventStop          EventType = "stop"
	EventRestart       EventType = "restart"
	EventLaunchFailed  EventType = "launch_failed"
	EventCircuitOpen   EventType = "circuit_open"
	EventHealthChanged EventType = "health_changed"
)

// Event is one lifecycle transition of a managed service.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Service      string    `json:"service"`
	PID          int       `json:"pid"`
	Port         uint16    `json:"port"`
	BootAttempts uint32    `json:"boot_attempts"`
	Message      string    `json:"message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent stamps a fresh id and the current time.
func NewEvent(t EventType, service string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Service:    service,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

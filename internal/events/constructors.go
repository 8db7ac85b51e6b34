package events

import (
	"time"

	"github.com/google/uuid"
)

// New builds an event with a fresh ID and the current timestamp.
func New(eventType EventType, project string, severity EventSeverity, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Project:   project,
		Severity:  severity,
		Message:   message,
	}
}

// ForService scopes the event to a service.
func (e *Event) ForService(service string) *Event {
	e.Service = service
	return e
}

// ForReplica scopes the event to a service replica.
func (e *Event) ForReplica(service string, replica int) *Event {
	e.Service = service
	e.Replica = replica
	return e
}

// WithData attaches a payload map.
func (e *Event) WithData(data map[string]interface{}) *Event {
	e.Data = data
	return e
}

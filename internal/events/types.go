package events

import (
	"time"
)

// EventType represents the kind of stack or replica transition that
// occurred.
type EventType string

const (
	// EventTypeStackUp indicates a stack was brought up
	EventTypeStackUp EventType = "stack_up"
	// EventTypeStackDown indicates a stack was torn down
	EventTypeStackDown EventType = "stack_down"

	// EventTypeImageBuildStarted indicates an image build began
	EventTypeImageBuildStarted EventType = "image_build_started"
	// EventTypeImageBuilt indicates an image build completed
	EventTypeImageBuilt EventType = "image_built"

	// EventTypeReplicaCreated indicates a replica was created in the runtime
	EventTypeReplicaCreated EventType = "replica_created"
	// EventTypeReplicaStarted indicates a replica began running
	EventTypeReplicaStarted EventType = "replica_started"
	// EventTypeReplicaExited indicates a replica exited on its own
	EventTypeReplicaExited EventType = "replica_exited"
	// EventTypeReplicaRestarted indicates the restart policy revived a replica
	EventTypeReplicaRestarted EventType = "replica_restarted"
	// EventTypeReplicaStopped indicates a replica was stopped deliberately
	EventTypeReplicaStopped EventType = "replica_stopped"
	// EventTypeReplicaFailed indicates a replica could not be started or
	// exhausted its restart budget
	EventTypeReplicaFailed EventType = "replica_failed"

	// EventTypeLogLine is a captured line of replica output
	EventTypeLogLine EventType = "log_line"

	// EventTypeCleanupCompleted indicates an event retention cleanup cycle ran
	EventTypeCleanupCompleted EventType = "cleanup_completed"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
)

// Event is one recorded transition, scoped to a project and optionally
// to a service and replica. Events are persisted for ps/events/logs.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// Project is the stack the event belongs to
	Project string `json:"project"`
	// Service is the service involved, if any
	Service string `json:"service,omitempty"`
	// Replica is the replica ordinal, 0 when not replica-scoped
	Replica int `json:"replica,omitempty"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Data contains type-specific payload (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
}

// Filter selects events for queries. Zero fields match everything.
type Filter struct {
	Project  string
	Service  string
	Replica  int // 0 = any
	Types    []EventType
	Since    time.Time
	Severity EventSeverity
	Limit    int
}

// LogLineData is the payload of a log_line event.
type LogLineData struct {
	// Stream is "stdout" or "stderr"
	Stream string `json:"stream"`
	// Line is the captured output line, without the trailing newline
	Line string `json:"line"`
}

// ReplicaExitData is the payload of replica_exited and replica_failed
// events.
type ReplicaExitData struct {
	ExitCode int           `json:"exit_code"`
	Uptime   time.Duration `json:"uptime"`
	Restarts int           `json:"restarts"`
}

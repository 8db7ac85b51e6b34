package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ttngu207/stackrun/internal/events"
)

// ErrNotFound is returned when a replica record does not exist.
var ErrNotFound = errors.New("not found")

// ReplicaStatus is the lifecycle state of one replica.
type ReplicaStatus string

const (
	// StatusCreated means the replica exists in the runtime but has not
	// been started yet.
	StatusCreated ReplicaStatus = "created"
	// StatusRunning means the replica is running.
	StatusRunning ReplicaStatus = "running"
	// StatusExited means the replica exited on its own.
	StatusExited ReplicaStatus = "exited"
	// StatusStopped means the replica was stopped deliberately (down,
	// scale-down, or shutdown).
	StatusStopped ReplicaStatus = "stopped"
	// StatusFailed means the replica could not be started or exhausted
	// its restart budget.
	StatusFailed ReplicaStatus = "failed"
)

// IsValid checks the status value.
func (s ReplicaStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusExited, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the replica will not run again without an
// explicit up/scale.
func (s ReplicaStatus) Terminal() bool {
	return s == StatusExited || s == StatusStopped || s == StatusFailed
}

// Replica is the persistent record of one service replica. Scaled
// replicas are keyed by (project, service, ordinal); one-off replicas
// carry ordinal 0 and are keyed by ID alone.
type Replica struct {
	ID          string        `json:"id"`
	Project     string        `json:"project"`
	Service     string        `json:"service"`
	Ordinal     int           `json:"ordinal"`
	ContainerID string        `json:"container_id,omitempty"` // runtime handle: container ID or PID
	Runtime     string        `json:"runtime"`                // "docker" or "process"
	Image       string        `json:"image,omitempty"`
	Status      ReplicaStatus `json:"status"`
	ExitCode    *int          `json:"exit_code,omitempty"`
	Restarts    int           `json:"restarts"`
	OneOff      bool          `json:"one_off"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Name returns the canonical replica name used for containers and
// display.
func (r *Replica) Name() string {
	if r.OneOff {
		return r.Project + "-" + r.Service + "-oneoff-" + shortID(r.ID)
	}
	return replicaName(r.Project, r.Service, r.Ordinal)
}

// ReplicaFilter selects replica records.
type ReplicaFilter struct {
	Project string
	Service string
	// IncludeStopped also returns replicas in terminal states.
	IncludeStopped bool
	// IncludeOneOff also returns one-off run replicas.
	IncludeOneOff bool
}

// Storage is the persistence boundary for replica state and stack
// events. All methods are safe for concurrent use.
type Storage interface {
	// Replicas
	UpsertReplica(ctx context.Context, replica *Replica) error
	GetReplica(ctx context.Context, project, service string, ordinal int) (*Replica, error)
	GetReplicaByID(ctx context.Context, id string) (*Replica, error)
	ListReplicas(ctx context.Context, filter ReplicaFilter) ([]*Replica, error)
	SetReplicaStatus(ctx context.Context, id string, status ReplicaStatus, exitCode *int) error
	IncrementRestarts(ctx context.Context, id string) (int, error)
	DeleteReplicas(ctx context.Context, project, service string) (int, error)
	DeleteReplicaSlots(ctx context.Context, project, service string, keepMax int) (int, error)
	DeleteReplicaByID(ctx context.Context, id string) (bool, error)

	// Events
	AppendEvent(ctx context.Context, event *events.Event) error
	GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error)

	// Retention
	CleanupEventsByAge(ctx context.Context, retentionDays, batchSize int) (int, error)
	CleanupEventsByProjectLimit(ctx context.Context, perProjectLimit, batchSize int) (int, error)

	Close() error
}

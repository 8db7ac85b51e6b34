// Package runtime abstracts where replicas actually run: in containers
// via the docker CLI, or as plain host processes.
package runtime

import (
	"context"
	"time"

	"github.com/ttngu207/stackrun/internal/compose"
)

// LogFunc receives one captured output line from a build or a replica.
// stream is "stdout" or "stderr".
type LogFunc func(stream, line string)

// ReplicaSpec is everything a runtime needs to start one replica. The
// environment is already resolved (env files merged); volumes are
// normalized to absolute sources.
type ReplicaSpec struct {
	// Name is the canonical replica name, unique per runtime.
	Name string
	// Image to run. Ignored by the process runtime.
	Image string
	// Command and Entrypoint come from the service declaration.
	Command    compose.ShellCommand
	Entrypoint compose.ShellCommand
	// Env is the fully resolved environment.
	Env map[string]string
	// WorkingDir inside the container, or the host cwd for processes.
	WorkingDir string
	// Volumes are bind mounts. Ignored by the process runtime.
	Volumes []compose.VolumeMount
	// Labels record ownership for later discovery and teardown.
	Labels map[string]string
	// MemoryLimit in bytes and CPULimit in cores; zero means unlimited.
	MemoryLimit int64
	CPULimit    float64
}

// Replica is a started replica the caller can wait on and stop.
type Replica interface {
	// Handle is the runtime identifier: a container ID, or "pid:N".
	Handle() string
	// Wait blocks until the replica exits and returns its exit code.
	// The error is for wait-machinery failures, not nonzero exits.
	Wait(ctx context.Context) (int, error)
	// Stop requests graceful termination and kills after the grace
	// period. Safe to call while Wait is in flight.
	Stop(ctx context.Context, grace time.Duration) error
}

// Runtime starts and manages replicas.
type Runtime interface {
	// Name identifies the backend ("docker" or "process").
	Name() string
	// BuildImage builds the service image when the service declares a
	// build. Build output is streamed to logs.
	BuildImage(ctx context.Context, svc *compose.Service, logs LogFunc) error
	// Start launches a replica and begins streaming its output to logs.
	Start(ctx context.Context, spec *ReplicaSpec, logs LogFunc) (Replica, error)
	// Remove deletes a stopped replica's runtime object, if any.
	Remove(ctx context.Context, handle string) error
}

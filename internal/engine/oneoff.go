package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/events"
	"github.com/ttngu207/stackrun/internal/storage"
)

// RunOptions adjust RunOneOff behavior.
type RunOptions struct {
	// Command overrides the service command when non-empty.
	Command []string
	// Env entries override the resolved service environment.
	Env map[string]string
	// NoBuild skips the image build for services that declare one.
	NoBuild bool
	// Remove deletes the replica's runtime object and record after it
	// exits.
	Remove bool
}

// RunOneOff runs a single unmanaged replica of a service to completion
// and returns its exit code. One-off replicas live outside the scaled
// slots, carry ordinal 0, and never restart.
func (e *Engine) RunOneOff(ctx context.Context, project *compose.Project, name string, opts RunOptions) (int, error) {
	svc, err := project.Service(name)
	if err != nil {
		return -1, err
	}

	if !opts.NoBuild && svc.Build != nil {
		if err := e.buildImage(ctx, project, svc); err != nil {
			return -1, err
		}
	}

	env, err := project.ResolveEnvironment(svc)
	if err != nil {
		return -1, err
	}
	for k, v := range opts.Env {
		env[k] = v
	}

	record := &storage.Replica{
		ID:      uuid.New().String(),
		Project: project.Name,
		Service: name,
		Runtime: e.rt.Name(),
		Image:   svc.Image,
		Status:  storage.StatusCreated,
		OneOff:  true,
	}
	if err := e.store.UpsertReplica(ctx, record); err != nil {
		return -1, err
	}

	spec := e.replicaSpec(project, svc, record.Name(), 0, true, env, configHash(svc))
	if len(opts.Command) > 0 {
		spec.Command = compose.ShellCommand{Argv: opts.Command}
	}

	logs := e.cappedLogFunc(context.WithoutCancel(ctx), project.Name, name, 0)
	rep, err := e.rt.Start(ctx, spec, logs)
	if err != nil {
		_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusFailed, nil)
		return -1, fmt.Errorf("service %s: %w", name, err)
	}

	e.trackReplica(record.ID, rep)
	defer e.untrackReplica(record.ID)
	record.ContainerID = rep.Handle()
	record.Status = storage.StatusRunning
	if err := e.store.UpsertReplica(ctx, record); err != nil {
		e.logger.WithError(err).Warn("failed to persist replica state")
	}
	_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusRunning, nil)
	e.record(ctx, events.New(events.EventTypeReplicaStarted, project.Name, events.SeverityInfo,
		"one-off replica started").ForReplica(name, 0))

	code, waitErr := rep.Wait(ctx)
	bg := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		grace := time.Duration(svc.StopGracePeriod)
		stopCtx, stopCancel := context.WithTimeout(bg, grace+5*time.Second)
		if err := rep.Stop(stopCtx, grace); err != nil {
			e.logger.WithError(err).Warn("failed to stop one-off replica")
		}
		stopCancel()
		_ = e.store.SetReplicaStatus(bg, record.ID, storage.StatusStopped, nil)
		e.record(bg, events.New(events.EventTypeReplicaStopped, project.Name, events.SeverityInfo,
			"one-off replica stopped").ForReplica(name, 0))
		return -1, ctx.Err()
	}
	if waitErr != nil {
		_ = e.store.SetReplicaStatus(bg, record.ID, storage.StatusFailed, nil)
		return -1, waitErr
	}

	_ = e.store.SetReplicaStatus(bg, record.ID, storage.StatusExited, &code)
	severity := events.SeverityInfo
	if code != 0 {
		severity = events.SeverityWarning
	}
	e.record(bg, events.New(events.EventTypeReplicaExited, project.Name, severity,
		fmt.Sprintf("one-off replica exited with code %d", code)).ForReplica(name, 0).WithData(map[string]interface{}{
		"exit_code": code,
	}))

	if opts.Remove {
		if record.ContainerID != "" {
			if err := e.rt.Remove(bg, record.ContainerID); err != nil {
				e.logger.WithError(err).Warn("failed to remove one-off replica")
			}
		}
		if _, err := e.store.DeleteReplicaByID(bg, record.ID); err != nil {
			e.logger.WithError(err).Warn("failed to delete one-off replica record")
		}
	}
	return code, nil
}

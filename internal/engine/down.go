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

// DownOptions adjust Down behavior.
type DownOptions struct {
	// Services narrows teardown to these services. Empty means the whole
	// project.
	Services []string
	// Timeout overrides every service's stop grace period when positive.
	Timeout time.Duration
}

// Down stops and removes every replica the project owns and deletes
// their records. Replicas supervised by a live Up in this process are
// stopped through their handles; replicas left over from a previous
// process are removed through the runtime.
func (e *Engine) Down(ctx context.Context, project *compose.Project, opts DownOptions) error {
	wanted := map[string]bool{}
	for _, name := range opts.Services {
		if _, err := project.Service(name); err != nil {
			return err
		}
		wanted[name] = true
	}

	records, err := e.store.ListReplicas(ctx, storage.ReplicaFilter{
		Project:        project.Name,
		IncludeStopped: true,
		IncludeOneOff:  true,
	})
	if err != nil {
		return err
	}

	removed := 0
	for _, record := range records {
		if len(wanted) > 0 && !wanted[record.Service] {
			continue
		}
		if err := e.stopAndRemove(ctx, project, record, opts.Timeout); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"service": record.Service,
				"replica": record.Ordinal,
			}).Warn("failed to remove replica")
			continue
		}
		removed++
	}

	// Without a service filter, delete project-wide so records for
	// services no longer in the stack file go away too.
	if len(opts.Services) == 0 {
		if _, err := e.store.DeleteReplicas(ctx, project.Name, ""); err != nil {
			return fmt.Errorf("delete replicas: %w", err)
		}
	} else {
		for _, name := range opts.Services {
			if _, err := e.store.DeleteReplicas(ctx, project.Name, name); err != nil {
				return fmt.Errorf("delete replicas for %s: %w", name, err)
			}
		}
	}

	e.record(ctx, events.New(events.EventTypeStackDown, project.Name, events.SeverityInfo,
		fmt.Sprintf("removed %d replica(s)", removed)))
	e.logger.WithFields(map[string]interface{}{
		"project": project.Name,
		"removed": removed,
	}).Info("stack down")
	return nil
}

// stopAndRemove stops one replica if it is still running, then removes
// its runtime object.
func (e *Engine) stopAndRemove(ctx context.Context, project *compose.Project, record *storage.Replica, timeout time.Duration) error {
	grace := timeout
	if grace <= 0 {
		grace = compose.DefaultStopGracePeriod
		if svc, err := project.Service(record.Service); err == nil {
			grace = time.Duration(svc.StopGracePeriod)
		}
	}

	if !record.Status.Terminal() {
		e.mu.Lock()
		rep := e.running[record.ID]
		e.mu.Unlock()
		if rep != nil {
			if err := rep.Stop(ctx, grace); err != nil {
				return err
			}
		}
		_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusStopped, nil)
		e.record(ctx, events.New(events.EventTypeReplicaStopped, project.Name, events.SeverityInfo,
			"replica stopped").ForReplica(record.Service, record.Ordinal))
	}

	if record.ContainerID != "" {
		if err := e.rt.Remove(ctx, record.ContainerID); err != nil {
			return err
		}
	}
	return nil
}

// Scale reconciles one service to n replicas. Extra replicas are
// stopped and removed highest ordinal first; missing replicas are
// started. Replicas added here run without restart supervision until
// the next up.
func (e *Engine) Scale(ctx context.Context, project *compose.Project, name string, n int) error {
	if n < 0 {
		return fmt.Errorf("scale must be >= 0, got %d", n)
	}
	svc, err := project.Service(name)
	if err != nil {
		return err
	}

	records, err := e.store.ListReplicas(ctx, storage.ReplicaFilter{
		Project:        project.Name,
		Service:        name,
		IncludeStopped: true,
	})
	if err != nil {
		return err
	}
	current := map[int]*storage.Replica{}
	highest := 0
	for _, record := range records {
		current[record.Ordinal] = record
		if record.Ordinal > highest {
			highest = record.Ordinal
		}
	}

	// Scale down.
	for ordinal := highest; ordinal > n; ordinal-- {
		record, ok := current[ordinal]
		if !ok {
			continue
		}
		if err := e.stopAndRemove(ctx, project, record, 0); err != nil {
			return fmt.Errorf("stop %s: %w", record.Name(), err)
		}
	}
	if n < highest {
		if _, err := e.store.DeleteReplicaSlots(ctx, project.Name, name, n); err != nil {
			return err
		}
	}

	// Scale up.
	env, err := project.ResolveEnvironment(svc)
	if err != nil {
		return err
	}
	hash := configHash(svc)
	started := 0
	for ordinal := 1; ordinal <= n; ordinal++ {
		if record, ok := current[ordinal]; ok && !record.Status.Terminal() {
			continue
		}
		if err := e.startUnsupervised(ctx, project, svc, ordinal, env, hash); err != nil {
			return fmt.Errorf("start %s replica %d: %w", name, ordinal, err)
		}
		started++
	}

	e.logger.WithFields(map[string]interface{}{
		"project": project.Name,
		"service": name,
		"scale":   n,
		"started": started,
	}).Info("service scaled")
	return nil
}

// startUnsupervised starts one replica, records it, and watches for its
// exit in the background without applying restart policy.
func (e *Engine) startUnsupervised(ctx context.Context, project *compose.Project, svc *compose.Service, ordinal int, env map[string]string, hash string) error {
	record, err := e.store.GetReplica(ctx, project.Name, svc.Name, ordinal)
	if err == storage.ErrNotFound {
		record = &storage.Replica{
			ID:      uuid.New().String(),
			Project: project.Name,
			Service: svc.Name,
			Ordinal: ordinal,
		}
		err = nil
	}
	if err != nil {
		return err
	}
	record.Runtime = e.rt.Name()
	record.Image = svc.Image
	record.Status = storage.StatusCreated
	if err := e.store.UpsertReplica(ctx, record); err != nil {
		return err
	}

	logs := e.cappedLogFunc(context.WithoutCancel(ctx), project.Name, svc.Name, ordinal)
	rep, err := e.rt.Start(ctx, e.replicaSpec(project, svc, record.Name(), ordinal, false, env, hash), logs)
	if err != nil {
		_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusFailed, nil)
		return err
	}

	e.trackReplica(record.ID, rep)
	record.ContainerID = rep.Handle()
	record.Status = storage.StatusRunning
	if err := e.store.UpsertReplica(ctx, record); err != nil {
		e.logger.WithError(err).Warn("failed to persist replica state")
	}
	_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusRunning, nil)
	e.record(ctx, events.New(events.EventTypeReplicaStarted, project.Name, events.SeverityInfo,
		"replica started").ForReplica(svc.Name, ordinal))

	go func() {
		bg := context.WithoutCancel(ctx)
		code, waitErr := rep.Wait(bg)
		e.untrackReplica(record.ID)
		if waitErr != nil {
			return
		}
		if current, err := e.store.GetReplicaByID(bg, record.ID); err != nil || current.Status != storage.StatusRunning {
			return
		}
		_ = e.store.SetReplicaStatus(bg, record.ID, storage.StatusExited, &code)
		e.record(bg, events.New(events.EventTypeReplicaExited, project.Name, events.SeverityInfo,
			fmt.Sprintf("replica exited with code %d", code)).ForReplica(svc.Name, ordinal))
	}()
	return nil
}

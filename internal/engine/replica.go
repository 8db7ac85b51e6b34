package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/events"
	"github.com/ttngu207/stackrun/internal/runtime"
	"github.com/ttngu207/stackrun/internal/storage"
)

// supervisorGroup tracks replica supervisor goroutines.
type supervisorGroup struct {
	wg sync.WaitGroup
}

func newSupervisorGroup() *supervisorGroup {
	return &supervisorGroup{}
}

func (g *supervisorGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *supervisorGroup) Wait() {
	g.wg.Wait()
}

// replicaSpec builds the runtime spec for one replica of a service.
func (e *Engine) replicaSpec(project *compose.Project, svc *compose.Service, name string, ordinal int, oneOff bool, env map[string]string, hash string) *runtime.ReplicaSpec {
	spec := &runtime.ReplicaSpec{
		Name:       name,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        env,
		WorkingDir: svc.WorkingDir,
		Volumes:    svc.Volumes,
		Labels:     runtime.OwnershipLabels(project.Name, svc.Name, ordinal, oneOff, project.ConfigFile, hash),
	}
	for k, v := range svc.Labels {
		spec.Labels[k] = v
	}
	if e.rt.Name() == "process" && spec.WorkingDir == "" {
		spec.WorkingDir = project.WorkingDir
	}
	if svc.Deploy != nil && svc.Deploy.Resources != nil && svc.Deploy.Resources.Limits != nil {
		spec.MemoryLimit = int64(svc.Deploy.Resources.Limits.Memory)
		spec.CPULimit = svc.Deploy.Resources.Limits.CPUs
	}
	return spec
}

// cappedLogFunc parses replica output into stored log events, capped at
// MaxLogLines per run with a single truncation notice.
func (e *Engine) cappedLogFunc(ctx context.Context, project string, service string, ordinal int) runtime.LogFunc {
	parser := &events.OutputParser{Project: project, Service: service, Replica: ordinal}
	var mu sync.Mutex
	stored := 0
	return func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stored > e.cfg.MaxLogLines {
			return
		}
		if stored == e.cfg.MaxLogLines {
			stored++
			e.record(ctx, events.New(events.EventTypeLogLine, project, events.SeverityWarning,
				"[output truncated: log line limit reached]").ForReplica(service, ordinal))
			return
		}
		if event := parser.ParseLine(line, stream); event != nil {
			stored++
			e.record(ctx, event)
		}
	}
}

// superviseReplica owns one replica slot for the lifetime of an up: it
// starts the replica, waits for it to exit, and applies the service's
// restart policy until the replica is terminal or ctx is canceled.
//
// The first start outcome (nil or error) is always sent on startedCh.
func (e *Engine) superviseReplica(ctx context.Context, project *compose.Project, svc *compose.Service, ordinal int, env map[string]string, hash string, startedCh chan<- error) {
	log := e.logger.WithFields(map[string]interface{}{
		"project": project.Name,
		"service": svc.Name,
		"replica": ordinal,
	})

	// Reuse the existing slot record so restart history survives
	// repeated ups.
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
		startedCh <- err
		return
	}
	record.Runtime = e.rt.Name()
	record.Image = svc.Image

	policy := svc.Restart.Base()
	maxRetries := svc.Restart.MaxRetries()
	backoff := e.cfg.BackoffBase
	runRestarts := 0
	firstStart := true

	// Stop uses a context that survives cancellation of the up.
	graceful := func(rep runtime.Replica) {
		grace := time.Duration(svc.StopGracePeriod)
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), grace+5*time.Second)
		defer stopCancel()
		if err := rep.Stop(stopCtx, grace); err != nil {
			log.WithError(err).Warn("failed to stop replica")
		}
	}

	for {
		record.Status = storage.StatusCreated
		if err := e.store.UpsertReplica(ctx, record); err != nil {
			if firstStart {
				startedCh <- err
			}
			return
		}

		logs := e.cappedLogFunc(context.WithoutCancel(ctx), project.Name, svc.Name, ordinal)
		rep, err := e.rt.Start(ctx, e.replicaSpec(project, svc, record.Name(), ordinal, false, env, hash), logs)
		if err != nil {
			_ = e.store.SetReplicaStatus(context.WithoutCancel(ctx), record.ID, storage.StatusFailed, nil)
			e.record(context.WithoutCancel(ctx), events.New(events.EventTypeReplicaFailed, project.Name,
				events.SeverityError, fmt.Sprintf("failed to start: %v", err)).ForReplica(svc.Name, ordinal))
			log.WithError(err).Error("failed to start replica")
			if firstStart {
				startedCh <- err
			}
			return
		}

		e.trackReplica(record.ID, rep)
		record.ContainerID = rep.Handle()
		record.Status = storage.StatusRunning
		if err := e.store.UpsertReplica(ctx, record); err != nil {
			log.WithError(err).Warn("failed to persist replica state")
		}
		_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusRunning, nil)

		eventType := events.EventTypeReplicaStarted
		message := "replica started"
		if runRestarts > 0 {
			eventType = events.EventTypeReplicaRestarted
			message = fmt.Sprintf("replica restarted (attempt %d)", runRestarts)
		}
		e.record(ctx, events.New(eventType, project.Name, events.SeverityInfo, message).ForReplica(svc.Name, ordinal))
		log.WithField("handle", rep.Handle()).Info(message)

		if firstStart {
			startedCh <- nil
			firstStart = false
		}

		startedAt := time.Now()
		code, waitErr := rep.Wait(ctx)
		e.untrackReplica(record.ID)

		if ctx.Err() != nil {
			// Shutdown: stop the replica, don't apply restart policy.
			graceful(rep)
			bg := context.WithoutCancel(ctx)
			_ = e.store.SetReplicaStatus(bg, record.ID, storage.StatusStopped, nil)
			e.record(bg, events.New(events.EventTypeReplicaStopped, project.Name, events.SeverityInfo,
				"replica stopped").ForReplica(svc.Name, ordinal))
			log.Info("replica stopped")
			return
		}
		if waitErr != nil {
			_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusFailed, nil)
			e.record(ctx, events.New(events.EventTypeReplicaFailed, project.Name, events.SeverityError,
				fmt.Sprintf("wait failed: %v", waitErr)).ForReplica(svc.Name, ordinal))
			log.WithError(waitErr).Error("replica wait failed")
			return
		}

		uptime := time.Since(startedAt)
		severity := events.SeverityInfo
		if code != 0 {
			severity = events.SeverityWarning
		}
		e.record(ctx, events.New(events.EventTypeReplicaExited, project.Name, severity,
			fmt.Sprintf("replica exited with code %d", code)).ForReplica(svc.Name, ordinal).WithData(map[string]interface{}{
			"exit_code": code,
			"uptime":    uptime.String(),
			"restarts":  runRestarts,
		}))
		log.WithFields(map[string]interface{}{"exit_code": code, "uptime": uptime.Round(time.Millisecond)}).Info("replica exited")

		restart := false
		switch policy {
		case compose.RestartAlways, compose.RestartUnlessStopped:
			restart = true
		case compose.RestartOnFailure:
			restart = code != 0 && (maxRetries == 0 || runRestarts < maxRetries)
		}

		if !restart {
			status := storage.StatusExited
			if policy == compose.RestartOnFailure && code != 0 {
				// Retry budget exhausted.
				status = storage.StatusFailed
				e.record(ctx, events.New(events.EventTypeReplicaFailed, project.Name, events.SeverityError,
					fmt.Sprintf("replica failed after %d restart(s)", runRestarts)).ForReplica(svc.Name, ordinal))
			}
			_ = e.store.SetReplicaStatus(ctx, record.ID, status, &code)
			return
		}

		_ = e.store.SetReplicaStatus(ctx, record.ID, storage.StatusExited, &code)

		// Exponential backoff, reset after a healthy run, plus the
		// shared stack-wide restart rate limit.
		if uptime >= e.cfg.BackoffResetAfter {
			backoff = e.cfg.BackoffBase
		}
		if !e.sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > e.cfg.BackoffCap {
			backoff = e.cfg.BackoffCap
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		runRestarts++
		if _, err := e.store.IncrementRestarts(ctx, record.ID); err != nil {
			log.WithError(err).Warn("failed to persist restart count")
		}
		record.Restarts++
	}
}

// sleep waits for d unless ctx is canceled first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

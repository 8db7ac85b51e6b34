package engine

import (
	"context"
	"fmt"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/events"
)

// UpOptions adjust Up behavior.
type UpOptions struct {
	// Services narrows the stack to these services plus their
	// dependencies. Empty means all services.
	Services []string
	// NoBuild skips image builds for services that declare one.
	NoBuild bool
}

// Up builds images, starts every selected service at its declared
// scale in dependency order, then supervises the replicas until ctx is
// canceled or every replica has reached a terminal state.
//
// A replica that fails to start aborts the whole up. A replica that
// starts and later exits is handled by its restart policy and never
// takes down its siblings.
func (e *Engine) Up(ctx context.Context, project *compose.Project, opts UpOptions) error {
	services, err := selectServices(project, opts.Services)
	if err != nil {
		return err
	}

	if !opts.NoBuild {
		if err := e.BuildImages(ctx, project, opts.Services); err != nil {
			return err
		}
	}

	e.record(ctx, events.New(events.EventTypeStackUp, project.Name, events.SeverityInfo,
		fmt.Sprintf("bringing up %d service(s)", len(services))))
	e.logger.WithFields(map[string]interface{}{
		"project":  project.Name,
		"instance": e.instanceID,
		"host":     e.hostname,
		"runtime":  e.rt.Name(),
	}).Info("stack up")

	upCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	supervisors := newSupervisorGroup()

	for _, svc := range services {
		replicas := svc.Replicas()
		if replicas == 0 {
			e.logger.WithField("service", svc.Name).Info("service scaled to zero, skipping")
			continue
		}
		env, err := project.ResolveEnvironment(svc)
		if err != nil {
			cancel()
			supervisors.Wait()
			return err
		}
		hash := configHash(svc)

		// Start this service's replicas in parallel, but wait for all
		// of them to be running before the next service starts: that is
		// the ordering depends_on promises.
		startErrs := make(chan error, replicas)
		svc := svc
		for ordinal := 1; ordinal <= replicas; ordinal++ {
			ordinal := ordinal
			supervisors.Go(func() {
				e.superviseReplica(upCtx, project, svc, ordinal, env, hash, startErrs)
			})
		}
		for i := 0; i < replicas; i++ {
			if err := <-startErrs; err != nil {
				cancel()
				supervisors.Wait()
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
		}
	}

	supervisors.Wait()

	reason := "all replicas stopped"
	if ctx.Err() != nil {
		reason = "interrupted"
	}
	e.record(context.WithoutCancel(ctx), events.New(events.EventTypeStackDown, project.Name,
		events.SeverityInfo, fmt.Sprintf("stack down: %s", reason)))
	e.logger.WithField("project", project.Name).Info("stack down: " + reason)
	return nil
}

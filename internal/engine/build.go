package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ttngu207/stackrun/internal/compose"
	"github.com/ttngu207/stackrun/internal/events"
)

// BuildImages builds every selected service that declares a build,
// in parallel. Build output is recorded as build-scoped log events.
func (e *Engine) BuildImages(ctx context.Context, project *compose.Project, names []string) error {
	services, err := selectServices(project, names)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		if svc.Build == nil {
			continue
		}
		svc := svc
		g.Go(func() error {
			return e.buildImage(ctx, project, svc)
		})
	}
	return g.Wait()
}

// buildImage builds one service image and records start/completion
// events.
func (e *Engine) buildImage(ctx context.Context, project *compose.Project, svc *compose.Service) error {
	e.record(ctx, events.New(events.EventTypeImageBuildStarted, project.Name, events.SeverityInfo,
		fmt.Sprintf("building image %s", svc.Image)).ForService(svc.Name))

	parser := &events.OutputParser{Project: project.Name, Service: svc.Name}
	logs := func(stream, line string) {
		if event := parser.ParseLine(line, stream); event != nil {
			e.record(ctx, event)
		}
	}

	if err := e.rt.BuildImage(ctx, svc, logs); err != nil {
		e.record(ctx, events.New(events.EventTypeReplicaFailed, project.Name, events.SeverityError,
			fmt.Sprintf("image build failed: %v", err)).ForService(svc.Name))
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}

	e.record(ctx, events.New(events.EventTypeImageBuilt, project.Name, events.SeverityInfo,
		fmt.Sprintf("built image %s", svc.Image)).ForService(svc.Name))
	return nil
}

// record persists an event, logging instead of failing when storage is
// unavailable: a full event log must never take the stack down.
func (e *Engine) record(ctx context.Context, event *events.Event) {
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event_type", event.Type).Warn("failed to store event")
	}
}

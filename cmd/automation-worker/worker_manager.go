package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxishq/automation/pkg/engine"
	"github.com/praxishq/automation/pkg/eventbus"
	"github.com/praxishq/automation/pkg/events"
	"github.com/praxishq/automation/pkg/otelhelper"
	"github.com/praxishq/automation/pkg/persistence"
)

// WorkerManager consumes dispatched runs from the event bus and executes them
// through the engine.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *engine.Engine
	tracer      trace.Tracer
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	eng *engine.Engine,
	tracer trace.Tracer,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "automation-worker", "worker_id", id),
		persistence: store,
		eventBus:    eventBus,
		engine:      eng,
		tracer:      tracer,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.RunDispatchedEvent, w.handleRunDispatched)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleRunDispatched(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.RunDispatched)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunDispatched")

		return nil
	}

	logger := w.logger.With(
		"run_id", dispatched.RunID,
		"automation_id", dispatched.AutomationID,
		"event_id", dispatched.ID,
	)
	logger.InfoContext(ctx, "Processing dispatched run")

	if w.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, w.tracer, "handleRunDispatched",
			attribute.String(otelhelper.RunIDKey, dispatched.RunID),
			attribute.String(otelhelper.AutomationIDKey, dispatched.AutomationID),
			attribute.String(otelhelper.VersionIDKey, dispatched.VersionID),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)
		defer span.End()
	}

	started := time.Now()

	run, err := w.persistence.RunRepository().GetByID(ctx, dispatched.RunID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load run", "error", err)

		return err
	}

	_, err = w.engine.Execute(ctx, run, dispatched.TriggerData)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to execute run", "error", err)

		return err
	}

	finished, err := w.persistence.RunRepository().GetByID(ctx, run.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload finished run", "error", err)

		return err
	}

	finishedEvent := events.RunFinished{
		BaseEvent:  events.NewBaseEvent(events.RunFinishedEvent, run.AutomationID),
		RunID:      run.ID,
		Status:     finished.Status,
		Error:      finished.Error,
		DurationMs: time.Since(started).Milliseconds(),
	}
	finishedEvent.WorkerID = w.id

	err = w.eventBus.Publish(ctx, run.ID, finishedEvent)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish run finished event", "error", err)
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/pulse/pkg/eventbus"
	"github.com/dukex/pulse/pkg/events"
)

// AuditedEvents are the lifecycle changes written to the audit log. Progress
// and log events are too frequent to be worth a line each.
var AuditedEvents = []events.EventType{
	events.TaskInitializedEvent,
	events.TaskCompletedEvent,
	events.TaskFailedEvent,
	events.TaskCanceledEvent,
	events.TaskDeletedEvent,
	events.WorkflowInitializedEvent,
	events.WorkflowCompletedEvent,
	events.WorkflowFailedEvent,
	events.WorkflowCanceledEvent,
	events.WorkflowDeletedEvent,
}

// SubscribeAudit consumes the lifecycle topics of bus and logs every audited
// event once it has round-tripped through the broker.
func SubscribeAudit(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	logger = logger.With("module", "audit")

	for _, eventType := range AuditedEvents {
		err := bus.Handle(eventType, auditHandler(logger))
		if err != nil {
			return fmt.Errorf("failed to register audit handler for %s: %w", eventType, err)
		}
	}

	err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	return nil
}

func auditHandler(logger *slog.Logger) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case *events.TaskLifecycle:
			attrs := []any{"event", e.Type, "task_id", e.EntityID}
			if e.Task != nil {
				attrs = append(attrs, "status", e.Task.Status, "progress", e.Task.Progress)
			}

			logger.InfoContext(ctx, "task lifecycle", attrs...)
		case *events.WorkflowLifecycle:
			attrs := []any{"event", e.Type, "workflow_id", e.EntityID}
			if e.Workflow != nil {
				attrs = append(attrs, "status", e.Workflow.Status, "progress", e.Workflow.OverallProgress)
			}

			logger.InfoContext(ctx, "workflow lifecycle", attrs...)
		default:
			// Redelivery cannot fix a payload of the wrong kind.
			logger.WarnContext(ctx, "unexpected lifecycle payload", "type", fmt.Sprintf("%T", event))
		}

		return nil
	}
}

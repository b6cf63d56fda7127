package recurrence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"todoflow/internal/events"
	"todoflow/internal/logger"
	"todoflow/internal/model"
	"todoflow/internal/repository"
)

// TaskStore is the slice of the task repository the consumer needs.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	HasChild(ctx context.Context, parentID uuid.UUID) (bool, error)
}

// Consumer reacts to completion signals: when the completed task carries a
// recurrence rule, it creates the next occurrence. Signals arrive
// at-least-once, so everything here is written to be safe under
// redelivery: the HasChild read is the cheap first check, and the unique
// index on parent_task_id (surfaced as ErrDuplicateParent) settles races
// between concurrent deliveries.
type Consumer struct {
	store TaskStore
}

func NewConsumer(store TaskStore) *Consumer {
	return &Consumer{store: store}
}

// Register subscribes the consumer on the task-events topic.
func (c *Consumer) Register(bus *events.Bus) {
	bus.Subscribe(events.TopicTaskEvents, "recurrence", c.Handle)
}

// Handle processes one completion signal. A nil return acknowledges the
// signal; a non-nil return leaves it unacknowledged for redelivery, so
// only transient store failures are returned as errors. Malformed input
// will not get better on redelivery and is acknowledged after a warning.
func (c *Consumer) Handle(ctx context.Context, msg any) error {
	evt, ok := msg.(events.TaskCompleted)
	if !ok {
		logger.Warn("recurrence: unexpected message type on task-events",
			zap.String("type", fmt.Sprintf("%T", msg)))
		return nil
	}

	if evt.Recurrence == nil {
		logger.Debug("recurrence: task is not recurring",
			zap.String("task_id", evt.TaskID.String()))
		return nil
	}

	kind := *evt.Recurrence
	if !kind.Valid() {
		logger.Warn("recurrence: unknown recurrence kind, treating as none",
			zap.String("task_id", evt.TaskID.String()),
			zap.String("kind", string(kind)))
		return nil
	}

	if evt.DueAt == nil {
		// Recurrence without a due date is inconsistent input. Fabricating
		// a due date here would guess at user intent, so skip instead.
		logger.Warn("recurrence: recurring task completed without a due date, skipping next instance",
			zap.String("task_id", evt.TaskID.String()),
			zap.String("owner_id", evt.OwnerID.String()))
		return nil
	}

	interval := 0
	if evt.RecurrenceIntervalDays != nil {
		interval = *evt.RecurrenceIntervalDays
	}
	nextDue, err := NextDueAt(kind, interval, *evt.DueAt)
	if err != nil {
		logger.Warn("recurrence: cannot compute next due date",
			zap.String("task_id", evt.TaskID.String()),
			zap.Error(err))
		return nil
	}

	exists, err := c.store.HasChild(ctx, evt.TaskID)
	if err != nil {
		return fmt.Errorf("recurrence dedup check for task %s: %w", evt.TaskID, err)
	}
	if exists {
		logger.Debug("recurrence: next instance already exists",
			zap.String("task_id", evt.TaskID.String()))
		return nil
	}

	next := &model.Task{
		ID:                     uuid.New(),
		OwnerID:                evt.OwnerID,
		Title:                  evt.Title,
		Description:            evt.Description,
		Priority:               evt.Priority,
		Tags:                   pq.StringArray(evt.Tags),
		DueAt:                  &nextDue,
		Recurrence:             &kind,
		RecurrenceIntervalDays: evt.RecurrenceIntervalDays,
		ParentTaskID:           &evt.TaskID,
	}

	if err := c.store.Create(ctx, next); err != nil {
		if errors.Is(err, repository.ErrDuplicateParent) {
			// Lost the race against a concurrent delivery of this signal.
			logger.Debug("recurrence: concurrent delivery already created the next instance",
				zap.String("task_id", evt.TaskID.String()))
			return nil
		}
		return fmt.Errorf("creating next occurrence of task %s: %w", evt.TaskID, err)
	}

	logger.Info("recurrence: created next occurrence",
		zap.String("parent_task_id", evt.TaskID.String()),
		zap.String("task_id", next.ID.String()),
		zap.String("kind", string(kind)),
		zap.Time("due_at", nextDue))
	return nil
}

package events

import (
	"time"

	"github.com/google/uuid"

	"todoflow/internal/model"
)

// Topic names. The backend publishes completion signals on TaskEvents;
// the reminder scanner publishes on Reminders.
const (
	TopicTaskEvents = "task-events"
	TopicReminders  = "reminders"
)

// TaskCompleted is the signal emitted when an owner marks a task done.
// It carries everything the recurrence consumer needs so it never has to
// read the completed row back.
type TaskCompleted struct {
	TaskID                 uuid.UUID         `json:"task_id"`
	OwnerID                uuid.UUID         `json:"owner_id"`
	Title                  string            `json:"title"`
	Description            string            `json:"description"`
	Priority               *model.Priority   `json:"priority,omitempty"`
	Tags                   []string          `json:"tags,omitempty"`
	CompletedAt            time.Time         `json:"completed_at"`
	DueAt                  *time.Time        `json:"due_at,omitempty"`
	Recurrence             *model.Recurrence `json:"recurrence,omitempty"`
	RecurrenceIntervalDays *int              `json:"recurrence_interval_days,omitempty"`
	ParentTaskID           *uuid.UUID        `json:"parent_task_id,omitempty"`
}

// Reminder is the signal emitted by the due-soon scanner, one per task.
type Reminder struct {
	TaskID          uuid.UUID `json:"task_id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	Title           string    `json:"title"`
	DueAt           time.Time `json:"due_at"`
	MinutesUntilDue int       `json:"minutes_until_due"`
}

// NewTaskCompleted builds the completion signal from a freshly completed row.
func NewTaskCompleted(task *model.Task, completedAt time.Time) TaskCompleted {
	return TaskCompleted{
		TaskID:                 task.ID,
		OwnerID:                task.OwnerID,
		Title:                  task.Title,
		Description:            task.Description,
		Priority:               task.Priority,
		Tags:                   task.Tags,
		CompletedAt:            completedAt,
		DueAt:                  task.DueAt,
		Recurrence:             task.Recurrence,
		RecurrenceIntervalDays: task.RecurrenceIntervalDays,
		ParentTaskID:           task.ParentTaskID,
	}
}

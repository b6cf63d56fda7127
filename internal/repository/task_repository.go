package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"todoflow/internal/model"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// TaskFilter narrows and orders ListByOwner results.
type TaskFilter struct {
	Status    string // "all", "pending" or "completed"
	Priority  *model.Priority
	Tags      []string // AND logic: a task must carry all of them
	Search    string   // case-insensitive match on title or description
	SortBy    string   // "created", "due_date", "priority" or "title"
	SortOrder string   // "asc" or "desc"
}

// TaskUpdate carries the owner-editable fields of a task. Nil pointers
// leave the current value untouched.
type TaskUpdate struct {
	Title                  *string
	Description            *string
	Completed              *bool
	DueAt                  *time.Time
	ClearDueAt             bool
	Priority               *model.Priority
	Tags                   *[]string
	Recurrence             *model.Recurrence
	ClearRecurrence        bool
	RecurrenceIntervalDays *int
}

// Create adds a new task. A unique-index violation on parent_task_id is
// surfaced as ErrDuplicateParent so that the recurrence consumer can treat
// a lost dedup race as a no-op.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	err := r.db.WithContext(ctx).Create(task).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) && task.ParentTaskID != nil {
		return ErrDuplicateParent
	}
	return err
}

// GetByID retrieves a task scoped to its owner.
func (r *TaskRepository) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error) {
	var task model.Task
	result := r.db.WithContext(ctx).First(&task, "id = ? AND owner_id = ?", id, ownerID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, result.Error
	}
	return &task, nil
}

// ListByOwner retrieves an owner's tasks with optional filtering and sorting.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, filter TaskFilter) ([]model.Task, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)

	switch filter.Status {
	case "pending":
		query = query.Where("completed = ?", false)
	case "completed":
		query = query.Where("completed = ?", true)
	}

	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}

	if len(filter.Tags) > 0 {
		query = query.Where("tags @> ?", pq.Array(filter.Tags))
	}

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("title ILIKE ? OR description ILIKE ?", pattern, pattern)
	}

	query = query.Order(orderClause(filter.SortBy, filter.SortOrder))

	var tasks []model.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func orderClause(sortBy, sortOrder string) string {
	direction := "DESC"
	if sortOrder == "asc" {
		direction = "ASC"
	}
	switch sortBy {
	case "due_date":
		return "due_at " + direction + " NULLS LAST"
	case "priority":
		// high < medium < low, so rank explicitly instead of sorting the text
		return "CASE priority WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END " + direction
	case "title":
		return "title " + direction
	default:
		return "created_at " + direction
	}
}

// Update applies an owner's partial edit inside a transaction. Changing
// due_at clears reminder_sent_at so a reminder can fire for the new time.
func (r *TaskRepository) Update(ctx context.Context, id, ownerID uuid.UUID, upd TaskUpdate) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}

		dueChanged := false
		if upd.ClearDueAt {
			dueChanged = task.DueAt != nil
			task.DueAt = nil
		} else if upd.DueAt != nil {
			dueChanged = task.DueAt == nil || !task.DueAt.Equal(*upd.DueAt)
			task.DueAt = upd.DueAt
		}
		if dueChanged {
			task.ReminderSentAt = nil
		}

		if upd.Title != nil {
			task.Title = *upd.Title
		}
		if upd.Description != nil {
			task.Description = *upd.Description
		}
		if upd.Completed != nil {
			task.Completed = *upd.Completed
		}
		if upd.Priority != nil {
			task.Priority = upd.Priority
		}
		if upd.Tags != nil {
			task.Tags = pq.StringArray(*upd.Tags)
		}
		if upd.ClearRecurrence {
			task.Recurrence = nil
			task.RecurrenceIntervalDays = nil
		} else if upd.Recurrence != nil {
			task.Recurrence = upd.Recurrence
		}
		if upd.RecurrenceIntervalDays != nil {
			task.RecurrenceIntervalDays = upd.RecurrenceIntervalDays
		}

		return tx.Save(&task).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// MarkCompleted sets completed = true and returns the task so the caller
// can publish the completion signal.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		task.Completed = true
		return tx.Save(&task).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Delete removes a task by its ID. Hard delete; lineage pointers from
// generated instances stay behind as history.
func (r *TaskRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&model.Task{}, "id = ? AND owner_id = ?", id, ownerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListDueBetween retrieves, across all owners, the incomplete tasks that
// fall due inside [start, end] and have not been reminded yet. The caller
// must still partition the result by owner before emitting anything
// user-visible.
func (r *TaskRepository) ListDueBetween(ctx context.Context, start, end time.Time) ([]model.Task, error) {
	var tasks []model.Task
	result := r.db.WithContext(ctx).
		Where("due_at >= ? AND due_at <= ?", start, end).
		Where("completed = ?", false).
		Where("reminder_sent_at IS NULL").
		Order("due_at").
		Find(&tasks)
	if result.Error != nil {
		return nil, result.Error
	}
	return tasks, nil
}

// MarkReminderSent records that a reminder went out for the task's current
// due time.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", id).
		Update("reminder_sent_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// HasChild reports whether a next-instance task already exists for the
// given parent. First line of the recurrence dedup; the unique index on
// parent_task_id backs it up under concurrency.
func (r *TaskRepository) HasChild(ctx context.Context, parentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("parent_task_id = ?", parentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("counting child tasks: %w", err)
	}
	return count > 0, nil
}

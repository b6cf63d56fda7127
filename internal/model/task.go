package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Recurrence is the repeat pattern attached to a task.
type Recurrence string

const (
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceCustom  Recurrence = "custom"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom:
		return true
	}
	return false
}

type Task struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Title       string    `gorm:"not null"`
	Description string
	Completed   bool           `gorm:"not null;default:false"`
	DueAt       *time.Time     `gorm:"index"`
	Priority    *Priority      `gorm:"type:varchar(10)"`
	Tags        pq.StringArray `gorm:"type:text[]"`

	// Recurrence is only meaningful together with DueAt; the interval is
	// used when Recurrence is "custom".
	Recurrence             *Recurrence `gorm:"type:varchar(10)"`
	RecurrenceIntervalDays *int

	// ParentTaskID links a generated recurring instance back to the task
	// whose completion produced it. The unique index is the idempotency
	// backstop: two concurrent deliveries of the same completion signal
	// cannot both insert a child. It is lineage, not a foreign key.
	ParentTaskID *uuid.UUID `gorm:"type:uuid;uniqueIndex"`

	// ReminderSentAt is set once a reminder has gone out for the current
	// DueAt value, and cleared whenever DueAt changes.
	ReminderSentAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

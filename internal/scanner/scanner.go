package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"todoflow/internal/clock"
	"todoflow/internal/events"
	"todoflow/internal/logger"
	"todoflow/internal/model"
)

// TaskStore is the slice of the task repository the scanner needs.
type TaskStore interface {
	ListDueBetween(ctx context.Context, start, end time.Time) ([]model.Task, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Publisher emits reminder signals. Satisfied by *events.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

// Scanner finds tasks falling due inside the lookahead window and emits
// one reminder signal per task, then marks the task reminded. Emit happens
// before mark: if the mark fails the task is found again next tick and
// re-reminded, which is the accepted at-least-once notification semantic.
// The reverse order would risk marking a task whose reminder never went out.
type Scanner struct {
	store     TaskStore
	pub       Publisher
	clk       clock.Clock
	lookahead time.Duration

	// ticking guards against overlapping scans: a tick that fires while
	// the previous one still runs is skipped, never queued.
	ticking sync.Mutex
}

func New(store TaskStore, pub Publisher, clk clock.Clock, lookahead time.Duration) *Scanner {
	return &Scanner{
		store:     store,
		pub:       pub,
		clk:       clk,
		lookahead: lookahead,
	}
}

// Schedule registers the scan as a periodic cron job.
func (s *Scanner) Schedule(c *cron.Cron, interval time.Duration) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("scan interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return c.AddFunc(spec, func() {
		s.Scan(context.Background())
	})
}

// Scan runs one tick. It returns the number of reminders emitted; a tick
// skipped because the previous one is still running returns 0. One task's
// failure never aborts the rest of the batch.
func (s *Scanner) Scan(ctx context.Context) int {
	if !s.ticking.TryLock() {
		logger.Warn("scanner: previous scan still running, skipping tick")
		return 0
	}
	defer s.ticking.Unlock()

	now := s.clk.Now()
	windowEnd := now.Add(s.lookahead)

	tasks, err := s.store.ListDueBetween(ctx, now, windowEnd)
	if err != nil {
		logger.Error("scanner: due-window query failed", err)
		return 0
	}

	sent := 0
	for _, task := range tasks {
		if task.DueAt == nil {
			continue
		}

		// The payload carries only this task's fields, so one owner's
		// reminder can never leak another owner's data.
		reminder := events.Reminder{
			TaskID:          task.ID,
			OwnerID:         task.OwnerID,
			Title:           task.Title,
			DueAt:           *task.DueAt,
			MinutesUntilDue: int(task.DueAt.Sub(now).Minutes()),
		}

		if err := s.pub.Publish(ctx, events.TopicReminders, reminder); err != nil {
			// Not marked, so the task stays eligible for the next scan.
			logger.Warn("scanner: failed to emit reminder",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
			continue
		}

		if err := s.store.MarkReminderSent(ctx, task.ID, now); err != nil {
			// Reminder went out but the mark failed; the task may be
			// re-reminded next scan. Accepted, not a correctness bug.
			logger.Warn("scanner: reminder emitted but mark-sent failed, task may be re-reminded",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 || len(tasks) > 0 {
		logger.Info("scanner: tick complete",
			zap.Int("matched", len(tasks)),
			zap.Int("reminders_sent", sent),
			zap.Time("window_start", now),
			zap.Time("window_end", windowEnd))
	}
	return sent
}

package recurrence

import (
	"fmt"
	"time"

	"todoflow/internal/model"
)

// NextDueAt computes the due time of the next occurrence from the current
// one. The next occurrence is always derived from the due time, not from
// when the task was actually completed.
func NextDueAt(kind model.Recurrence, intervalDays int, dueAt time.Time) (time.Time, error) {
	switch kind {
	case model.RecurrenceDaily:
		return dueAt.AddDate(0, 0, 1), nil
	case model.RecurrenceWeekly:
		return dueAt.AddDate(0, 0, 7), nil
	case model.RecurrenceMonthly:
		return addOneMonthClamped(dueAt), nil
	case model.RecurrenceCustom:
		if intervalDays <= 0 {
			return time.Time{}, fmt.Errorf("custom recurrence needs a positive interval, got %d", intervalDays)
		}
		return dueAt.AddDate(0, 0, intervalDays), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence kind %q", kind)
	}
}

// addOneMonthClamped advances by one calendar month, keeping the
// day-of-month where it exists and clamping to the last day where it does
// not (Jan 31 -> Feb 28/29). Plain AddDate would normalize the overflow
// into March instead.
func addOneMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(firstOfNext.Month(), firstOfNext.Year()); day > last {
		day = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfMonth.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return lastOfMonth.Day()
}

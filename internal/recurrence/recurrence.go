package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/crewtasks/internal/apperr"
	"github.com/dukerupert/crewtasks/internal/model"
)

// ErrInvalidRecurrence is returned for cadences that cannot produce a
// successor. It wraps apperr.ErrValidation.
var ErrInvalidRecurrence = fmt.Errorf("%w: invalid recurrence", apperr.ErrValidation)

var fromName = map[string]model.Recurrence{
	"once":    model.RecurrenceOnce,
	"daily":   model.RecurrenceDaily,
	"weekly":  model.RecurrenceWeekly,
	"monthly": model.RecurrenceMonthly,
}

// Parse accepts a cadence name case-insensitively. Unknown names are an
// error, never a default cadence.
func Parse(s string) (model.Recurrence, error) {
	r, ok := fromName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecurrence, s)
	}
	return r, nil
}

// IsRecurring reports whether completing a task with this cadence
// produces a successor.
func IsRecurring(r model.Recurrence) bool {
	switch r {
	case model.RecurrenceDaily, model.RecurrenceWeekly, model.RecurrenceMonthly:
		return true
	}
	return false
}

// NextDueDate advances due by one period. Monthly steps clamp to the last
// day of the target month: Jan 31 becomes Feb 29 in a leap year.
func NextDueDate(due model.Date, r model.Recurrence) (model.Date, error) {
	switch r {
	case model.RecurrenceDaily:
		return due.AddDays(1), nil
	case model.RecurrenceWeekly:
		return due.AddDays(7), nil
	case model.RecurrenceMonthly:
		return addMonthClamped(due, 1), nil
	case model.RecurrenceOnce:
		return model.Date{}, fmt.Errorf("%w: one-off tasks do not recur", ErrInvalidRecurrence)
	}
	return model.Date{}, fmt.Errorf("%w: %q", ErrInvalidRecurrence, r)
}

// Successor builds the next instance of a just-completed recurring task.
// The due date advances from the prior due date, not from completion
// time, so late completions do not drift the schedule.
func Successor(task model.Task, now time.Time, id string) (model.Task, error) {
	if id == "" {
		return model.Task{}, errors.New("successor id is required")
	}
	due, err := NextDueDate(task.DueDate, task.Recurrence)
	if err != nil {
		return model.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}

	next := model.Task{
		ID:          id,
		Title:       task.Title,
		Description: task.Description,
		AssignedTo:  task.AssignedTo,
		AssignedBy:  task.AssignedBy,
		Category:    task.Category,
		Recurrence:  task.Recurrence,
		DueDate:     due,
		CreatedAt:   now,
		Priority:    task.Priority,
		Status:      model.StatusPending,
		Points:      task.Points,
	}
	return next, nil
}

// Describe returns a human-readable description of the cadence.
func Describe(r model.Recurrence) string {
	switch r {
	case model.RecurrenceDaily:
		return "Repeats daily"
	case model.RecurrenceWeekly:
		return "Repeats weekly"
	case model.RecurrenceMonthly:
		return "Repeats monthly"
	case model.RecurrenceOnce:
		return "Does not repeat"
	}
	return ""
}

func addMonthClamped(d model.Date, months int) model.Date {
	first := time.Date(d.Year, d.Month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := d.Day
	if day > last {
		day = last
	}
	return model.Date{Year: first.Year(), Month: first.Month(), Day: day}
}

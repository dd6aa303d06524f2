// Package availability classifies tasks against the observer's current
// calendar day. Every comparison truncates to calendar days in now's
// location, so two instants on the same local day always agree.
package availability

import (
	"time"

	"github.com/dukerupert/crewtasks/internal/model"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusUpcoming  Status = "upcoming"
	StatusOverdue   Status = "overdue"
)

// TaskWithStatus is a task annotated for display at a given instant.
type TaskWithStatus struct {
	model.Task
	Availability Status `json:"availability"`
	DaysUntilDue int    `json:"daysUntilDue"`
}

// IsAvailable reports whether the task can be worked on today. Completed
// tasks are always available.
func IsAvailable(task model.Task, now time.Time) bool {
	if task.IsCompleted() {
		return true
	}
	return !task.DueDate.After(today(now))
}

// IsOverdue reports whether an open task's due day has passed.
func IsOverdue(task model.Task, now time.Time) bool {
	if task.IsCompleted() {
		return false
	}
	return task.DueDate.Before(today(now))
}

// ComputeStatus partitions open tasks into upcoming, available (due today)
// and overdue. Completed tasks are always available.
func ComputeStatus(task model.Task, now time.Time) Status {
	if task.IsCompleted() {
		return StatusAvailable
	}
	switch task.DueDate.Compare(today(now)) {
	case 1:
		return StatusUpcoming
	case -1:
		return StatusOverdue
	default:
		return StatusAvailable
	}
}

// DaysUntilDue is zero when due today and negative when overdue.
func DaysUntilDue(task model.Task, now time.Time) int {
	return today(now).DaysUntil(task.DueDate)
}

// Annotate returns tasks with their availability at now, in input order.
func Annotate(tasks []model.Task, now time.Time) []TaskWithStatus {
	out := make([]TaskWithStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskWithStatus{
			Task:         t,
			Availability: ComputeStatus(t, now),
			DaysUntilDue: DaysUntilDue(t, now),
		})
	}
	return out
}

// Overdue returns the open tasks whose due day has passed.
func Overdue(tasks []model.Task, now time.Time) []model.Task {
	var out []model.Task
	for _, t := range tasks {
		if IsOverdue(t, now) {
			out = append(out, t)
		}
	}
	return out
}

func today(now time.Time) model.Date {
	return model.DateOf(now)
}

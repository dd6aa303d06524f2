package taskstore

import (
	"time"

	"github.com/dukerupert/crewtasks/internal/model"
)

// SeedAssignee owns the first-run tasks until an admin reassigns them.
const SeedAssignee = "unassigned"

// DefaultMonthlyTarget applies until an admin sets one.
const DefaultMonthlyTarget = 1000

// DefaultRewardTiers applies until an admin configures tiers.
func DefaultRewardTiers() []model.RewardTier {
	return []model.RewardTier{
		{ID: "tier-bronze", Points: 300, Reward: "Coffee voucher"},
		{ID: "tier-silver", Points: 500, Reward: "Team lunch"},
		{ID: "tier-gold", Points: 1000, Reward: "Extra day off"},
	}
}

type seedTask struct {
	title       string
	description string
	category    model.Category
	recurrence  model.Recurrence
	priority    model.Priority
	points      int
	dueIn       int
}

var defaultSeed = []seedTask{
	{"Open store checklist", "Lights, registers, floor walk", model.CategoryDaily, model.RecurrenceDaily, model.PriorityHigh, 10, 0},
	{"Close store checklist", "Cash count, lock up", model.CategoryDaily, model.RecurrenceDaily, model.PriorityHigh, 10, 0},
	{"Weekly inventory count", "Count stock in the back room", model.CategoryCustom, model.RecurrenceWeekly, model.PriorityMedium, 50, 2},
	{"Monthly safety inspection", "Fire exits, extinguishers, first aid kit", model.CategoryCustom, model.RecurrenceMonthly, model.PriorityMedium, 100, 7},
	{"Update staff handbook", "", model.CategoryCustom, model.RecurrenceOnce, model.PriorityLow, 30, 14},
}

// DefaultSeed builds the first-run task set with due dates relative to now.
func DefaultSeed(now time.Time, newID func() string) []model.Task {
	today := model.DateOf(now)
	tasks := make([]model.Task, 0, len(defaultSeed))
	for _, s := range defaultSeed {
		tasks = append(tasks, model.Task{
			ID:          newID(),
			Title:       s.title,
			Description: s.description,
			AssignedTo:  SeedAssignee,
			AssignedBy:  SeedAssignee,
			Category:    s.category,
			Recurrence:  s.recurrence,
			DueDate:     today.AddDays(s.dueIn),
			CreatedAt:   now,
			Priority:    s.priority,
			Status:      model.StatusPending,
			Points:      s.points,
		})
	}
	return tasks
}

// Package report summarizes the task store for administrators.
package report

import (
	"time"

	"github.com/dukerupert/crewtasks/internal/availability"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/points"
)

// Source is the read side of the task store.
type Source interface {
	Tasks() []model.Task
	RewardTiers() []model.RewardTier
	MonthlyTarget() int
	Period() points.Period
}

type Summary struct {
	GeneratedAt   time.Time        `json:"generated_at" yaml:"generated_at"`
	PeriodStart   time.Time        `json:"period_start" yaml:"period_start"`
	PeriodEnd     time.Time        `json:"period_end" yaml:"period_end"`
	MonthlyTarget int              `json:"monthly_target" yaml:"monthly_target"`
	Tasks         points.TaskStats `json:"tasks" yaml:"tasks"`
	Available     int              `json:"available" yaml:"available"`
	Upcoming      int              `json:"upcoming" yaml:"upcoming"`
	Overdue       int              `json:"overdue" yaml:"overdue"`
	Users         []UserSummary    `json:"users" yaml:"users"`
}

type UserSummary struct {
	Rank            int    `json:"rank" yaml:"rank"`
	UserID          string `json:"user_id" yaml:"user_id"`
	FullName        string `json:"full_name" yaml:"full_name"`
	Points          int    `json:"points" yaml:"points"`
	PercentOfTarget int    `json:"percent_of_target" yaml:"percent_of_target"`
	Tier            string `json:"tier,omitempty" yaml:"tier,omitempty"`
	Completed       int    `json:"completed" yaml:"completed"`
	Open            int    `json:"open" yaml:"open"`
	Overdue         int    `json:"overdue" yaml:"overdue"`
}

// Build computes the summary at now. Only approved profiles are ranked.
func Build(src Source, profiles []model.Profile, now time.Time) Summary {
	tasks := src.Tasks()
	tiers := src.RewardTiers()
	target := src.MonthlyTarget()
	period := src.Period()

	s := Summary{
		GeneratedAt:   now,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		MonthlyTarget: target,
		Tasks:         points.ComputeTaskStats(tasks, points.AllUsers),
		Users:         []UserSummary{},
	}

	overdueBy := make(map[string]int)
	for _, t := range availability.Annotate(tasks, now) {
		if t.IsCompleted() {
			continue
		}
		switch t.Availability {
		case availability.StatusOverdue:
			s.Overdue++
			overdueBy[t.AssignedTo]++
		case availability.StatusUpcoming:
			s.Upcoming++
		default:
			s.Available++
		}
	}

	var approved []model.Profile
	for _, p := range profiles {
		if p.IsApproved {
			approved = append(approved, p)
		}
	}

	totals := points.Totals(tasks, period)
	for _, e := range points.Leaderboard(totals, approved) {
		ps := points.ComputePointsStats(tasks, e.UserID, target, period)
		ts := points.ComputeTaskStats(tasks, e.UserID)
		u := UserSummary{
			Rank:            e.Rank,
			UserID:          e.UserID,
			FullName:        e.FullName,
			Points:          e.Points,
			PercentOfTarget: ps.PercentComplete,
			Completed:       ts.Completed,
			Open:            ts.Pending,
			Overdue:         overdueBy[e.UserID],
		}
		if tier, ok := points.AttainedTier(e.Points, tiers); ok {
			u.Tier = tier.Reward
		}
		s.Users = append(s.Users, u)
	}
	return s
}

// Package points derives progress and reward figures from a task set. It
// never mutates its inputs; totals are recomputed from scratch on every
// call so they cannot drift from the tasks they summarize.
package points

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/dukerupert/crewtasks/internal/model"
)

// AllUsers scopes TaskStats to every assignee.
const AllUsers = ""

type TaskStats struct {
	Completed       int `json:"completed" yaml:"completed"`
	Pending         int `json:"pending" yaml:"pending"`
	Total           int `json:"total" yaml:"total"`
	PercentComplete int `json:"percentComplete" yaml:"percentComplete"`
}

type PointsStats struct {
	Earned          int `json:"earned" yaml:"earned"`
	Target          int `json:"target" yaml:"target"`
	PercentComplete int `json:"percentComplete" yaml:"percentComplete"`
}

// Period is a half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthOf returns the calendar month containing now, in now's location.
func MonthOf(now time.Time) Period {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ComputeTaskStats counts tasks for one assignee, or for everyone when
// userID is AllUsers. In-progress tasks count as pending.
func ComputeTaskStats(tasks []model.Task, userID string) TaskStats {
	var s TaskStats
	for _, t := range tasks {
		if userID != AllUsers && t.AssignedTo != userID {
			continue
		}
		s.Total++
		if t.IsCompleted() {
			s.Completed++
		} else {
			s.Pending++
		}
	}
	s.PercentComplete = percent(s.Completed, s.Total)
	return s
}

// ComputePointsStats sums the points of userID's tasks completed within
// period and measures them against the shared monthly target.
func ComputePointsStats(tasks []model.Task, userID string, target int, period Period) PointsStats {
	earned := earnedBy(tasks, userID, period)
	return PointsStats{
		Earned:          earned,
		Target:          target,
		PercentComplete: percent(earned, target),
	}
}

// Totals returns the points each assignee earned within period.
func Totals(tasks []model.Task, period Period) model.UserPoints {
	totals := make(model.UserPoints)
	for _, t := range tasks {
		if !completedWithin(t, period) {
			continue
		}
		totals[t.AssignedTo] += t.Points
	}
	return totals
}

// AttainedTier returns the highest tier whose threshold is at most earned.
// On duplicate thresholds the first configured tier wins.
func AttainedTier(earned int, tiers []model.RewardTier) (model.RewardTier, bool) {
	var best model.RewardTier
	found := false
	for _, tier := range tiers {
		if tier.Points > earned {
			continue
		}
		if !found || tier.Points > best.Points {
			best = tier
			found = true
		}
	}
	return best, found
}

// NextTier returns the lowest tier still above earned.
func NextTier(earned int, tiers []model.RewardTier) (model.RewardTier, bool) {
	var next model.RewardTier
	found := false
	for _, tier := range tiers {
		if tier.Points <= earned {
			continue
		}
		if !found || tier.Points < next.Points {
			next = tier
			found = true
		}
	}
	return next, found
}

// Leaderboard ranks every profile by points, highest first. Equal totals
// share a rank and are ordered by name.
func Leaderboard(totals model.UserPoints, profiles []model.Profile) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(profiles))
	for _, p := range profiles {
		entries = append(entries, model.LeaderboardEntry{
			UserID:   p.ID,
			FullName: p.FullName,
			Points:   totals[p.ID],
		})
	}
	slices.SortStableFunc(entries, func(a, b model.LeaderboardEntry) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.FullName, b.FullName)
	})
	for i := range entries {
		if i > 0 && entries[i].Points == entries[i-1].Points {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}

func earnedBy(tasks []model.Task, userID string, period Period) int {
	sum := 0
	for _, t := range tasks {
		if t.AssignedTo == userID && completedWithin(t, period) {
			sum += t.Points
		}
	}
	return sum
}

func completedWithin(t model.Task, period Period) bool {
	return t.IsCompleted() && t.CompletedAt != nil && period.Contains(*t.CompletedAt)
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/points"
	"github.com/dukerupert/crewtasks/internal/report"
	"github.com/dukerupert/crewtasks/internal/store"
	"github.com/dukerupert/crewtasks/internal/taskstore"
)

type PointsHandler struct {
	tasks    *taskstore.Store
	profiles *store.ProfileStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewPointsHandler(ts *taskstore.Store, ps *store.ProfileStore, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{tasks: ts, profiles: ps, logger: logger, now: time.Now}
}

// scopeUser resolves the ?user= query parameter. Empty means the caller;
// "all" means every assignee.
func scopeUser(r *http.Request) string {
	switch u := r.URL.Query().Get("user"); u {
	case "":
		return auth.UserID(r.Context())
	case "all":
		return points.AllUsers
	default:
		return u
	}
}

// TaskStats handles GET /api/stats/tasks.
func (h *PointsHandler) TaskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, points.ComputeTaskStats(h.tasks.Tasks(), scopeUser(r)))
}

type pointsResponse struct {
	points.PointsStats
	Tier     *model.RewardTier `json:"tier,omitempty"`
	NextTier *model.RewardTier `json:"nextTier,omitempty"`
}

// PointsStats handles GET /api/stats/points.
func (h *PointsHandler) PointsStats(w http.ResponseWriter, r *http.Request) {
	userID := scopeUser(r)
	if userID == points.AllUsers {
		writeMessage(w, http.StatusBadRequest, "points are tracked per user")
		return
	}

	tiers := h.tasks.RewardTiers()
	stats := points.ComputePointsStats(h.tasks.Tasks(), userID, h.tasks.MonthlyTarget(), h.tasks.Period())
	resp := pointsResponse{PointsStats: stats}
	if tier, ok := points.AttainedTier(stats.Earned, tiers); ok {
		resp.Tier = &tier
	}
	if next, ok := points.NextTier(stats.Earned, tiers); ok {
		resp.NextTier = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// Leaderboard handles GET /api/leaderboard.
func (h *PointsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List()
	if err != nil {
		writeError(w, h.logger, err, "failed to list profiles")
		return
	}
	approved := profiles[:0]
	for _, p := range profiles {
		if p.IsApproved {
			approved = append(approved, p)
		}
	}
	writeJSON(w, http.StatusOK, points.Leaderboard(h.tasks.UserPoints(), approved))
}

type rewardConfig struct {
	Tiers         []model.RewardTier `json:"tiers"`
	MonthlyTarget int                `json:"monthlyTarget"`
}

// RewardTiers handles GET /api/reward-tiers.
func (h *PointsHandler) RewardTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rewardConfig{
		Tiers:         h.tasks.RewardTiers(),
		MonthlyTarget: h.tasks.MonthlyTarget(),
	})
}

// UpdateRewardTiers handles PUT /api/reward-tiers. The body replaces the
// whole tier list.
func (h *PointsHandler) UpdateRewardTiers(w http.ResponseWriter, r *http.Request) {
	var tiers []model.RewardTier
	if !decodeJSON(w, r, &tiers) {
		return
	}
	saved, err := h.tasks.UpdateRewardTiers(r.Context(), tiers)
	if !applied(w, h.logger, err, "failed to update reward tiers") {
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type targetRequest struct {
	MonthlyTarget *int `json:"monthlyTarget"`
}

// UpdateMonthlyTarget handles PUT /api/monthly-target.
func (h *PointsHandler) UpdateMonthlyTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MonthlyTarget == nil {
		writeMessage(w, http.StatusBadRequest, "monthlyTarget is required")
		return
	}
	err := h.tasks.UpdateMonthlyTarget(r.Context(), *req.MonthlyTarget)
	if !applied(w, h.logger, err, "failed to update monthly target") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"monthlyTarget": h.tasks.MonthlyTarget()})
}

// ResetPoints handles POST /api/points/reset.
func (h *PointsHandler) ResetPoints(w http.ResponseWriter, r *http.Request) {
	if !applied(w, h.logger, h.tasks.ResetUserPoints(r.Context()), "failed to reset points") {
		return
	}
	if err := h.profiles.SetMonthlyPoints(h.tasks.UserPoints()); err != nil {
		h.logger.Error("sync monthly points", "error", err)
	}
	writeJSON(w, http.StatusOK, h.tasks.UserPoints())
}

// Summary handles GET /api/reports/summary.
func (h *PointsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List()
	if err != nil {
		writeError(w, h.logger, err, "failed to list profiles")
		return
	}
	writeJSON(w, http.StatusOK, report.Build(h.tasks, profiles, h.now()))
}

package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/availability"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/push"
	"github.com/dukerupert/crewtasks/internal/recurrence"
	"github.com/dukerupert/crewtasks/internal/taskstore"
)

type TaskHandler struct {
	tasks    *taskstore.Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewTaskHandler(ts *taskstore.Store, notifier Notifier, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: ts, notifier: notifier, logger: logger, now: time.Now}
}

// canManage reports whether the caller may edit or delete task. Admins,
// managers and team leads manage every task; others only those they
// assigned.
func canManage(ac auth.AuthContext, task model.Task) bool {
	switch ac.Role {
	case model.RoleAdmin, model.RoleManager, model.RoleTeamLead:
		return true
	}
	return task.AssignedBy == ac.UserID
}

// canWork additionally lets the assignee move the task along.
func canWork(ac auth.AuthContext, task model.Task) bool {
	return task.AssignedTo == ac.UserID || canManage(ac, task)
}

// List handles GET /api/tasks. Query filters: assignee ("me" for the
// caller), status, availability.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assignee := q.Get("assignee")
	if assignee == "me" {
		assignee = auth.UserID(r.Context())
	}
	status := model.TaskStatus(q.Get("status"))
	avail := availability.Status(q.Get("availability"))

	annotated := availability.Annotate(h.tasks.Tasks(), h.now())
	out := make([]availability.TaskWithStatus, 0, len(annotated))
	for _, t := range annotated {
		if assignee != "" && t.AssignedTo != assignee {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if avail != "" && t.Availability != avail {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b availability.TaskWithStatus) int {
		return a.DueDate.Compare(b.DueDate)
	})
	writeJSON(w, http.StatusOK, out)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Task(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Create handles POST /api/tasks. The caller is recorded as the assigner.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in taskstore.TaskInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ac, _ := auth.FromContext(r.Context())
	in.AssignedBy = ac.UserID

	task, err := h.tasks.Create(r.Context(), in)
	if !applied(w, h.logger, err, "failed to create task") {
		return
	}

	if task.AssignedTo != ac.UserID {
		msg := fmt.Sprintf("New task assigned: %s", task.Title)
		h.notifier.Notify(task.AssignedTo, model.NotifTypeTaskAssigned, msg, push.Payload{
			Title: "New task",
			Body:  msg,
			URL:   "/tasks/" + task.ID,
			Tag:   "assigned-" + task.ID,
		})
	}
	writeJSON(w, http.StatusCreated, task)
}

// Update handles PUT /api/tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.tasks.Task(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if !canManage(ac, existing) {
		writeMessage(w, http.StatusForbidden, "not allowed to edit this task")
		return
	}

	var in taskstore.TaskInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.AssignedBy = existing.AssignedBy

	task, err := h.tasks.Update(r.Context(), id, in)
	if !applied(w, h.logger, err, "failed to update task") {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type statusRequest struct {
	Status model.TaskStatus `json:"status"`
}

// SetStatus handles PUT /api/tasks/{id}/status.
func (h *TaskHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.tasks.Task(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if !canWork(ac, existing) {
		writeMessage(w, http.StatusForbidden, "not allowed to update this task")
		return
	}

	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.tasks.SetStatus(r.Context(), id, req.Status)
	if !applied(w, h.logger, err, "failed to update task status") {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type completeResponse struct {
	Task model.Task  `json:"task"`
	Next *model.Task `json:"next,omitempty"`
}

// Complete handles POST /api/tasks/{id}/complete.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.tasks.Task(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if !canWork(ac, existing) {
		writeMessage(w, http.StatusForbidden, "not allowed to complete this task")
		return
	}

	task, next, err := h.tasks.Complete(r.Context(), id)
	if !applied(w, h.logger, err, "failed to complete task") {
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Task: task, Next: next})
}

// Delete handles DELETE /api/tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.tasks.Task(id)
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if !canManage(ac, existing) {
		writeMessage(w, http.StatusForbidden, "not allowed to delete this task")
		return
	}

	if !applied(w, h.logger, h.tasks.Delete(r.Context(), id), "failed to delete task") {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Availability handles GET /api/tasks/{id}/availability.
func (h *TaskHandler) Availability(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Task(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err, "failed to get task")
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           task.ID,
		"available":    availability.IsAvailable(task, now),
		"overdue":      availability.IsOverdue(task, now),
		"status":       availability.ComputeStatus(task, now),
		"daysUntilDue": availability.DaysUntilDue(task, now),
		"recurrence":   recurrence.Describe(task.Recurrence),
	})
}

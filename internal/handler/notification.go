package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/store"
)

type NotificationHandler struct {
	notifications *store.NotificationStore
	logger        *slog.Logger
}

func NewNotificationHandler(ns *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: ns, logger: logger}
}

// List handles GET /api/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notes, err := h.notifications.ListByUser(userID, limit)
	if err != nil {
		writeError(w, h.logger, err, "failed to list notifications")
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	unread, err := h.notifications.CountUnread(userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes, "unread": unread})
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkRead(r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to mark notification read")
		return
	}
	if n == nil {
		writeMessage(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/crewtasks/internal/apperr"
	"github.com/dukerupert/crewtasks/internal/push"
)

// persistenceWarningHeader flags a response whose change was applied but
// not durably written.
const persistenceWarningHeader = "X-Persistence-Warning"

// Notifier records a notification for a user and pushes it to their
// devices. *push.Scheduler implements it.
type Notifier interface {
	Notify(userID, notifType, message string, payload push.Payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err to a status code. Server-side failures are logged
// and answered with fallback instead of the raw error.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(fallback, "error", err)
		writeMessage(w, status, fallback)
		return
	}
	writeMessage(w, status, err.Error())
}

// applied reports whether a mutation took effect. A persistence failure
// still counts: the change stands in memory and the response carries a
// warning header.
func applied(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, apperr.ErrPersistence) {
		logger.Warn("change applied but not persisted", "error", err)
		w.Header().Set(persistenceWarningHeader, "change not saved")
		return true
	}
	writeError(w, logger, err, fallback)
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/email"
	"github.com/dukerupert/crewtasks/internal/identity"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/push"
	"github.com/dukerupert/crewtasks/internal/store"
)

type AdminHandler struct {
	ids      *identity.Service
	profiles *store.ProfileStore
	mailer   *email.Client
	notifier Notifier
	logger   *slog.Logger
}

func NewAdminHandler(ids *identity.Service, ps *store.ProfileStore, mailer *email.Client, notifier Notifier, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ids: ids, profiles: ps, mailer: mailer, notifier: notifier, logger: logger}
}

// ListProfiles handles GET /api/profiles. ?pending=true limits the list to
// accounts awaiting approval.
func (h *AdminHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List()
	if err != nil {
		writeError(w, h.logger, err, "failed to list profiles")
		return
	}
	if r.URL.Query().Get("pending") == "true" {
		pending := []model.Profile{}
		for _, p := range profiles {
			if !p.IsApproved {
				pending = append(pending, p)
			}
		}
		profiles = pending
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

type approveRequest struct {
	Role model.Role `json:"role"`
}

// Approve handles POST /api/profiles/{id}/approve. The user is notified
// in-app and, when mail is configured, by email.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = model.RoleEmployee
	}
	if !req.Role.Valid() {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	profile, err := h.profiles.Approve(r.PathValue("id"), req.Role)
	if err != nil {
		writeError(w, h.logger, err, "failed to approve profile")
		return
	}
	if profile == nil {
		writeMessage(w, http.StatusNotFound, "profile not found")
		return
	}
	h.logger.Info("profile approved", "user_id", profile.ID, "role", profile.Role, "by", auth.UserID(r.Context()))

	msg := fmt.Sprintf("Your account was approved as %s", profile.Role)
	h.notifier.Notify(profile.ID, model.NotifTypeAccountApprove, msg, push.Payload{
		Title: "Account approved",
		Body:  msg,
		URL:   "/",
		Tag:   "approved",
	})
	if h.mailer.Configured() {
		if err := h.mailer.SendApprovalNotice(profile.FullName, profile.Email, string(profile.Role)); err != nil {
			h.logger.Warn("send approval email", "user_id", profile.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, profile)
}

type deleteUserRequest struct {
	UserID string `json:"userId"`
}

// DeleteUser handles POST /functions/delete-user.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var req deleteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeMessage(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.UserID == auth.UserID(r.Context()) {
		writeMessage(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	if err := h.ids.DeleteUser(req.UserID); err != nil {
		writeError(w, h.logger, err, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type approvalEmailRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ApprovalEmail handles POST /functions/approval-email.
func (h *AdminHandler) ApprovalEmail(w http.ResponseWriter, r *http.Request) {
	var req approvalEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.mailer.SendApprovalNotice(req.Name, strings.TrimSpace(req.Email), req.Role); err != nil {
		writeError(w, h.logger, err, "failed to send approval email")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

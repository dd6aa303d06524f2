package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/identity"
	"github.com/dukerupert/crewtasks/internal/store"
)

type AuthHandler struct {
	ids      *identity.Service
	profiles *store.ProfileStore
	logger   *slog.Logger
}

func NewAuthHandler(ids *identity.Service, ps *store.ProfileStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{ids: ids, profiles: ps, logger: logger}
}

// SignUp handles POST /auth/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var in identity.SignUpInput
	if !decodeJSON(w, r, &in) {
		return
	}

	profile, err := h.ids.SignUp(in)
	if errors.Is(err, identity.ErrAlreadyRegistered) {
		writeMessage(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		writeError(w, h.logger, err, "failed to sign up")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn handles POST /auth/signin.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.ids.SignIn(req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err, "failed to sign in")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SignOut handles POST /auth/signout.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if err := h.ids.SignOut(ac.Token); err != nil {
		writeError(w, h.logger, err, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetByID(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to load profile")
		return
	}
	if profile == nil {
		writeMessage(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type updateMeRequest struct {
	FullName   string `json:"full_name"`
	Department string `json:"department"`
	Title      string `json:"title"`
	AvatarURL  string `json:"avatar_url"`
}

// UpdateMe handles PUT /api/me.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.profiles.UpdateDetails(auth.UserID(r.Context()), req.FullName, req.Department, req.Title, req.AvatarURL)
	if err != nil {
		writeError(w, h.logger, err, "failed to update profile")
		return
	}
	if profile == nil {
		writeMessage(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/identity"
	"github.com/dukerupert/crewtasks/internal/store"
)

// RequireAuth validates the bearer token and populates AuthContext with the
// caller's current role and approval state. Browsers opening a WebSocket
// cannot set headers, so a token query parameter is accepted as well.
func RequireAuth(ids *identity.Service, profiles *store.ProfileStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := ids.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			profile, err := profiles.GetByID(claims.Subject)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "load profile")
				return
			}
			if profile == nil {
				writeError(w, http.StatusUnauthorized, "account no longer exists")
				return
			}

			ac := auth.AuthContext{
				UserID:   profile.ID,
				Role:     profile.Role,
				Approved: profile.IsApproved,
				TokenID:  claims.ID,
				Token:    token,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// RequireApproved refuses users an admin has not approved yet.
func RequireApproved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !ac.Approved {
			writeError(w, http.StatusForbidden, "approval pending")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/crewtasks/internal/auth"
	"github.com/dukerupert/crewtasks/internal/database"
	"github.com/dukerupert/crewtasks/internal/email"
	"github.com/dukerupert/crewtasks/internal/identity"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/store"
)

type postmarkStub struct {
	mu   sync.Mutex
	sent []map[string]any
	srv  *httptest.Server
}

func newPostmarkStub(t *testing.T) *postmarkStub {
	t.Helper()
	stub := &postmarkStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		stub.mu.Lock()
		stub.sent = append(stub.sent, body)
		stub.mu.Unlock()
		w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

type adminFixture struct {
	ids      *identity.Service
	profiles *store.ProfileStore
	notifier *recordingNotifier
	mux      *http.ServeMux
	admin    *model.Profile
}

func setupAdminHandler(t *testing.T, mailer *email.Client) *adminFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profiles := store.NewProfileStore(db)
	ids := identity.NewService(profiles, store.NewCredentialStore(db), strings.Repeat("s", 32), time.Hour, logger,
		identity.WithBcryptCost(bcrypt.MinCost))

	admin, err := ids.SignUp(identity.SignUpInput{Email: "boss@example.com", Password: "password123", FullName: "Boss"})
	if err != nil {
		t.Fatalf("sign up admin: %v", err)
	}

	f := &adminFixture{ids: ids, profiles: profiles, notifier: &recordingNotifier{}, admin: admin}
	h := NewAdminHandler(ids, profiles, mailer, f.notifier, logger)

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("GET /api/profiles", h.ListProfiles)
	f.mux.HandleFunc("POST /api/profiles/{id}/approve", h.Approve)
	f.mux.HandleFunc("POST /functions/delete-user", h.DeleteUser)
	f.mux.HandleFunc("POST /functions/approval-email", h.ApprovalEmail)
	return f
}

func (f *adminFixture) asAdmin() auth.AuthContext {
	return auth.AuthContext{UserID: f.admin.ID, Role: model.RoleAdmin, Approved: true}
}

func (f *adminFixture) signUp(t *testing.T, email, name string) *model.Profile {
	t.Helper()
	p, err := f.ids.SignUp(identity.SignUpInput{Email: email, Password: "password123", FullName: name})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return p
}

func TestListPendingProfiles(t *testing.T) {
	f := setupAdminHandler(t, email.NewClient("", "", ""))
	f.signUp(t, "new@example.com", "Newbie")

	rec := serve(f.mux, f.asAdmin(), "GET", "/api/profiles?pending=true", nil)
	var got []model.Profile
	json.NewDecoder(rec.Body).Decode(&got)
	if len(got) != 1 || got[0].Email != "new@example.com" {
		t.Errorf("pending = %+v", got)
	}

	rec = serve(f.mux, f.asAdmin(), "GET", "/api/profiles", nil)
	got = nil
	json.NewDecoder(rec.Body).Decode(&got)
	if len(got) != 2 {
		t.Errorf("profiles = %d, want 2", len(got))
	}
}

func TestApproveNotifiesAndEmails(t *testing.T) {
	stub := newPostmarkStub(t)
	mailer := email.NewClient("token", "team@example.com", "https://crew.example.com", email.WithAPIURL(stub.srv.URL))
	f := setupAdminHandler(t, mailer)
	user := f.signUp(t, "new@example.com", "Newbie")

	rec := serve(f.mux, f.asAdmin(), "POST", "/api/profiles/"+user.ID+"/approve", map[string]string{"role": "manager"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var p model.Profile
	json.NewDecoder(rec.Body).Decode(&p)
	if !p.IsApproved || p.Role != model.RoleManager {
		t.Errorf("profile = %+v", p)
	}
	if len(f.notifier.notices) != 1 || f.notifier.notices[0].notifType != model.NotifTypeAccountApprove {
		t.Errorf("notices = %+v", f.notifier.notices)
	}
	if len(stub.sent) != 1 || stub.sent[0]["To"] != "new@example.com" {
		t.Errorf("emails = %+v", stub.sent)
	}
}

func TestApproveErrors(t *testing.T) {
	f := setupAdminHandler(t, email.NewClient("", "", ""))
	user := f.signUp(t, "new@example.com", "Newbie")

	rec := serve(f.mux, f.asAdmin(), "POST", "/api/profiles/"+user.ID+"/approve", map[string]string{"role": "owner"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown role: status = %d, want 400", rec.Code)
	}
	rec = serve(f.mux, f.asAdmin(), "POST", "/api/profiles/missing/approve", map[string]string{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing profile: status = %d, want 404", rec.Code)
	}

	// Without a mailer the approval still succeeds, defaulting the role.
	rec = serve(f.mux, f.asAdmin(), "POST", "/api/profiles/"+user.ID+"/approve", map[string]string{})
	var p model.Profile
	json.NewDecoder(rec.Body).Decode(&p)
	if rec.Code != http.StatusOK || p.Role != model.RoleEmployee {
		t.Errorf("status = %d, role = %q", rec.Code, p.Role)
	}
}

func TestDeleteUser(t *testing.T) {
	f := setupAdminHandler(t, email.NewClient("", "", ""))
	user := f.signUp(t, "gone@example.com", "Gone")

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing id", map[string]string{}, http.StatusBadRequest},
		{"self", map[string]string{"userId": f.admin.ID}, http.StatusBadRequest},
		{"unknown", map[string]string{"userId": "nobody"}, http.StatusNotFound},
		{"ok", map[string]string{"userId": user.ID}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(f.mux, f.asAdmin(), "POST", "/functions/delete-user", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	p, err := f.profiles.GetByID(user.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p != nil {
		t.Error("profile still present after delete")
	}
}

func TestApprovalEmailFunction(t *testing.T) {
	stub := newPostmarkStub(t)
	mailer := email.NewClient("token", "team@example.com", "https://crew.example.com", email.WithAPIURL(stub.srv.URL))
	f := setupAdminHandler(t, mailer)

	rec := serve(f.mux, f.asAdmin(), "POST", "/functions/approval-email", map[string]string{
		"name": "Alice", "email": "alice@example.com", "role": "employee",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"success":true}` {
		t.Errorf("body = %s", got)
	}

	rec = serve(f.mux, f.asAdmin(), "POST", "/functions/approval-email", map[string]string{"name": "Alice"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing email: status = %d, want 400", rec.Code)
	}
}

func TestApprovalEmailUpstreamFailure(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ErrorCode":500,"Message":"down"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)
	mailer := email.NewClient("token", "team@example.com", "https://crew.example.com", email.WithAPIURL(failing.URL))
	f := setupAdminHandler(t, mailer)

	rec := serve(f.mux, f.asAdmin(), "POST", "/functions/approval-email", map[string]string{
		"name": "Alice", "email": "alice@example.com", "role": "employee",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "500") {
		t.Errorf("upstream detail leaked: %s", rec.Body)
	}
}

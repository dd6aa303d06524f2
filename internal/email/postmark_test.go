package email

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/crewtasks/internal/apperr"
)

func TestSendApprovalNotice(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://crew.test",
		WithHTTPClient(server.Client()), WithAPIURL(server.URL))

	if err := client.SendApprovalNotice("Alice", "alice@example.com", "team_lead"); err != nil {
		t.Fatalf("send approval notice: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("to = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("from = %q, want %q", received.From, "noreply@example.com")
	}
	if !strings.Contains(received.TextBody, "team_lead") || !strings.Contains(received.TextBody, "https://crew.test") {
		t.Errorf("text body = %q", received.TextBody)
	}
}

func TestSendApprovalNoticeEscapesHTML(t *testing.T) {
	var received postmarkEmail
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	client := NewClient("tok", "noreply@example.com", "https://crew.test", WithAPIURL(server.URL))
	if err := client.SendApprovalNotice("<b>Bob</b>", "bob@example.com", "employee"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(received.HtmlBody, "<b>Bob</b>") {
		t.Errorf("html body not escaped: %q", received.HtmlBody)
	}
}

func TestSendApprovalNoticeNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://crew.test")
	err := client.SendApprovalNotice("Alice", "alice@example.com", "employee")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSendApprovalNoticeMissingRecipient(t *testing.T) {
	client := NewClient("tok", "noreply@example.com", "https://crew.test")
	err := client.SendApprovalNotice("Alice", "", "employee")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSendApprovalNoticeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("tok", "noreply@example.com", "https://crew.test", WithAPIURL(server.URL))
	err := client.SendApprovalNotice("Alice", "alice@example.com", "employee")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestConfigured(t *testing.T) {
	if NewClient("", "a@b.c", "").Configured() {
		t.Error("empty token should not be configured")
	}
	if !NewClient("tok", "a@b.c", "").Configured() {
		t.Error("token set should be configured")
	}
}

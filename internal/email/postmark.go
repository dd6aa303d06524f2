package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/dukerupert/crewtasks/internal/apperr"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark-compatible endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

// NewClient creates a Postmark client. baseURL is the public address of the
// app and is linked from outgoing mail.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendApprovalNotice tells a newly approved user which role they were given.
func (c *Client) SendApprovalNotice(name, toEmail, role string) error {
	if toEmail == "" {
		return fmt.Errorf("%w: recipient email is required", apperr.ErrValidation)
	}
	if !c.Configured() {
		return fmt.Errorf("%w: email client not configured: missing server token", apperr.ErrValidation)
	}
	if name == "" {
		name = toEmail
	}
	if role == "" {
		role = "employee"
	}

	textBody := fmt.Sprintf("Hi %s,\n\nYour account has been approved with the role %q. You can now sign in:\n\n%s\n", name, role, c.baseURL)
	htmlBody := fmt.Sprintf(
		`<p>Hi %s,</p><p>Your account has been approved with the role <strong>%s</strong>.</p><p><a href="%s">Sign in</a></p>`,
		html.EscapeString(name), html.EscapeString(role), html.EscapeString(c.baseURL),
	)

	return c.send(postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Your account has been approved",
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send email: %v", apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: postmark API error: status %d", apperr.ErrNetwork, resp.StatusCode)
	}

	return nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/httpretry"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
)

const defaultBaseURL = "https://api.sendgrid.com"

// How much of an error body is worth keeping in logs and tracking rows.
const maxBodySnippet = 500

// Config carries the SendGrid connection settings.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the API host, used by tests.
	BaseURL string
	// Timeout bounds a single HTTP attempt. Zero means 30s.
	Timeout time.Duration
}

// SendGrid is a client for the v3 mail-send and message-status APIs.
type SendGrid struct {
	baseURL   string
	apiKey    string
	fromEmail string
	fromName  string
	http      httpretry.Doer
	log       *logger.Logger
}

// NewSendGrid builds a client. Transient API failures are retried with
// backoff before a send is reported failed.
func NewSendGrid(cfg Config) *SendGrid {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SendGrid{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		http:      httpretry.New(&http.Client{Timeout: timeout}, 3),
		log:       logger.With("sendgrid"),
	}
}

// Send dispatches one message and returns the provider message id. The
// id comes from the X-Message-Id response header; if SendGrid omits it,
// a random id is minted so the tracking row is never left without one.
func (c *SendGrid) Send(ctx context.Context, msg Message) (string, error) {
	if c.apiKey == "" {
		return "", errs.Configf("sendgrid api key not configured")
	}
	if !strings.Contains(msg.To, "@") {
		return "", errs.Dataf("invalid recipient address %q", msg.To)
	}

	to := map[string]interface{}{"email": msg.To}
	if msg.ToName != "" {
		to["name"] = msg.ToName
	}
	// SendGrid requires text/plain before text/html.
	var content []map[string]interface{}
	if msg.Text != "" {
		content = append(content, map[string]interface{}{"type": "text/plain", "value": msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, map[string]interface{}{"type": "text/html", "value": msg.HTML})
	}
	if len(content) == 0 {
		return "", errs.Dataf("message has no body")
	}
	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{{"to": []map[string]interface{}{to}}},
		"from":             map[string]interface{}{"email": c.fromEmail, "name": c.fromName},
		"subject":          msg.Subject,
		"content":          content,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Providerf("encoding mail payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", errs.Providerf("building send request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Providerf("sending mail: %v", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errs.Providerf("sendgrid status %d: %s",
			resp.StatusCode, errs.Truncate(strings.TrimSpace(string(respBody)), maxBodySnippet))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.NewString()
		c.log.Warn("send accepted without X-Message-Id, minted one",
			"message_id", messageID, "status", resp.StatusCode)
	}
	return messageID, nil
}

// QueryMessage reads one message's status from the v3 messages API.
func (c *SendGrid) QueryMessage(ctx context.Context, messageID string) (MessageStatus, error) {
	if c.apiKey == "" {
		return MessageStatus{}, errs.Configf("sendgrid api key not configured")
	}
	url := fmt.Sprintf("%s/v3/messages/%s", c.baseURL, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MessageStatus{}, errs.Providerf("building status request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return MessageStatus{}, errs.Providerf("querying message %s: %v", messageID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return MessageStatus{}, errs.Providerf("reading status response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return MessageStatus{}, errs.Providerf("message status %s: status %d: %s",
			messageID, resp.StatusCode, errs.Truncate(strings.TrimSpace(string(body)), maxBodySnippet))
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return MessageStatus{}, errs.Providerf("parsing status response: %v", err)
	}
	return MessageStatus{Status: parsed.Status, Raw: string(body)}, nil
}

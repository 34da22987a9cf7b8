package api

import (
	"io"
	"net/http"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/httputil"
	"github.com/maxretain/lifecycle-mailer/internal/status"
)

// Webhook payloads beyond this size are cut off; SendGrid batches events
// well below it.
const maxWebhookBytes = 1 << 20

// SendGridWebhook ingests a provider event batch. The response is 200
// even when verification or parsing fails: SendGrid retries non-2xx
// responses and eventually disables the webhook, and a bad delivery will
// not get better on retry. Failures are logged and reported in the body.
func (h *Handlers) SendGridWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.log.Warn("webhook body unreadable", "error", err)
		httputil.OK(w, map[string]interface{}{"success": false, "error": "unreadable body"})
		return
	}

	signature := r.Header.Get("X-Twilio-Email-Event-Webhook-Signature")
	timestamp := r.Header.Get("X-Twilio-Email-Event-Webhook-Timestamp")

	res, err := h.webhook.Process(r.Context(), payload, signature, timestamp)
	if err != nil {
		h.log.Warn("webhook rejected", "error", err)
		httputil.OK(w, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	httputil.OK(w, struct {
		Success bool `json:"success"`
		status.Result
	}{Success: true, Result: res})
}

package status

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
	"github.com/maxretain/lifecycle-mailer/internal/tracking"
)

// Event is one entry of a SendGrid event webhook payload. Only the fields
// the pipeline reads are declared; the raw JSON is preserved for storage.
type Event struct {
	SGMessageID string `json:"sg_message_id"`
	Event       string `json:"event"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	Response    string `json:"response"`
}

// Processor applies provider event webhooks to whichever org store owns
// each message.
type Processor struct {
	orgs *orgs.Manager
	key  string
	log  *logger.Logger
}

// NewProcessor builds a Processor. An empty signing key disables
// verification, which is only sensible in development.
func NewProcessor(m *orgs.Manager, signingKey string) *Processor {
	return &Processor{
		orgs: m,
		key:  signingKey,
		log:  logger.With("webhook"),
	}
}

// Result tallies one webhook delivery.
type Result struct {
	Received int            `json:"received"`
	Applied  int            `json:"applied"`
	Dropped  int            `json:"dropped"`
	Errors   int            `json:"errors"`
	Counts   map[string]int `json:"counts,omitempty"`
}

// VerifySignature checks the webhook HMAC: SHA-256 over timestamp+payload
// keyed with the configured signing key, base64-encoded, compared in
// constant time. No configured key accepts anything, with a warning.
func (p *Processor) VerifySignature(payload []byte, signature, timestamp string) error {
	if p.key == "" {
		p.log.Warn("no webhook signing key configured, accepting unsigned event")
		return nil
	}
	mac := hmac.New(sha256.New, []byte(p.key))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errs.Authf("webhook signature mismatch")
	}
	return nil
}

type pendingEvent struct {
	event Event
	raw   json.RawMessage
}

// Process verifies and applies one webhook delivery. Events are grouped
// by message id with the latest timestamp winning, so an out-of-order
// delivery cannot regress a final state.
func (p *Processor) Process(ctx context.Context, payload []byte, signature, timestamp string) (Result, error) {
	if err := p.VerifySignature(payload, signature, timestamp); err != nil {
		return Result{}, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return Result{}, errs.Dataf("webhook payload: %v", err)
	}

	latest := map[string]pendingEvent{}
	res := Result{Counts: map[string]int{}}
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			res.Errors++
			p.log.Warn("unreadable webhook event", "error", err)
			continue
		}
		res.Received++
		messageID := strings.SplitN(ev.SGMessageID, ".", 2)[0]
		if messageID == "" {
			res.Dropped++
			continue
		}
		if cur, ok := latest[messageID]; !ok || ev.Timestamp > cur.event.Timestamp {
			latest[messageID] = pendingEvent{event: ev, raw: raw}
		}
	}

	for messageID, pe := range latest {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		status := eventStatus(pe.event.Event)
		if status == "" {
			p.log.Debug("ignoring webhook event type", "event", pe.event.Event, "message_id", messageID)
			res.Dropped++
			continue
		}
		applied, err := p.apply(ctx, messageID, status, pe)
		switch {
		case err != nil:
			res.Errors++
			p.log.Warn("webhook apply failed", "message_id", messageID, "error", err)
		case !applied:
			res.Dropped++
		default:
			res.Applied++
			res.Counts[status]++
		}
	}

	p.log.Info("webhook processed",
		"received", res.Received, "applied", res.Applied, "dropped", res.Dropped, "errors", res.Errors)
	return res, nil
}

// apply routes one settled event to the org store owning its message.
// A message no org recognizes is reported as not applied, without error.
func (p *Processor) apply(ctx context.Context, messageID, status string, pe pendingEvent) (bool, error) {
	orgID, found, err := p.orgs.ScanForMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if !found {
		p.log.Warn("no org owns webhook message", "message_id", messageID)
		return false, nil
	}
	db, err := p.orgs.ForOrg(orgID)
	if err != nil {
		return false, err
	}
	store := tracking.NewStore(db, orgID)
	row, ok, err := store.ByMessageID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errs.Dataf("message %s vanished from org %d", messageID, orgID)
	}
	if err := store.UpdateDeliveryStatus(ctx, row.ID, status, pe.event.Event, string(pe.raw)); err != nil {
		return false, err
	}
	p.log.Info("webhook settled row",
		"org_id", orgID, "row_id", row.ID, "status", status, "event", pe.event.Event,
		"at", time.Unix(pe.event.Timestamp, 0).UTC().Format(time.RFC3339))
	return true, nil
}

// eventStatus maps a webhook event type to a send_status value. Opens and
// clicks imply delivery. Unmapped types (spam reports, unsubscribes) are
// ignored.
func eventStatus(event string) string {
	switch strings.ToLower(event) {
	case "delivered", "open", "click":
		return tracking.StatusDelivered
	case "bounce":
		return tracking.StatusBounced
	case "dropped":
		return tracking.StatusDropped
	case "deferred":
		return tracking.StatusDeferred
	case "processed", "sent":
		return tracking.StatusSent
	}
	return ""
}

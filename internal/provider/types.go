// Package provider sends email through SendGrid's v3 API and reads back
// per-message delivery status.
package provider

import "context"

// Message is one outbound email, already rendered.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// MessageStatus is the provider's view of a dispatched message. Raw
// carries the unparsed response body for the tracking record.
type MessageStatus struct {
	Status string
	Raw    string
}

// Mailer dispatches rendered messages. Implementations return the
// provider's message id for later status lookups.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// StatusQuerier reads back the delivery status of a sent message.
type StatusQuerier interface {
	QueryMessage(ctx context.Context, messageID string) (MessageStatus, error)
}

// Package types defines the shared domain model for the Steward payments
// webhook service: inbound webhook events, donation and recurring-gift
// statuses, and the messages exchanged with downstream collaborators.
package types

import "time"

// EventType is the string tag the payment provider attaches to each
// webhook delivery. The set of known types is closed; anything else is
// acknowledged as a no-op so the provider stops redelivering it.
type EventType string

const (
	EventPaymentSucceeded          EventType = "payment.succeeded"
	EventPaymentFailed             EventType = "payment.failed"
	EventPaymentRefunded           EventType = "payment.refunded"
	EventSubscriptionCreated       EventType = "subscription.created"
	EventSubscriptionUpdated       EventType = "subscription.updated"
	EventSubscriptionCancelled     EventType = "subscription.cancelled"
	EventSubscriptionPaymentFailed EventType = "subscription.payment_failed"
)

// Known reports whether the event type is one the dispatcher routes.
func (t EventType) Known() bool {
	switch t {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentRefunded,
		EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCancelled, EventSubscriptionPaymentFailed:
		return true
	default:
		return false
	}
}

// WebhookEvent is the inbound message from the payment provider.
//
// ID is unique per delivery from the provider and stable across
// redeliveries of the same logical event; it is the idempotency key.
// Data is opaque to the verification layer -- each handler pulls the
// fields it needs.
type WebhookEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"created_at"`
}

// DonationStatus tracks a one-time gift through its lifecycle.
// Transitions: pending -> completed | failed, completed -> refunded.
type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
	DonationRefunded  DonationStatus = "refunded"
)

// SubscriptionStatus tracks a recurring gift.
// Transitions: (none) -> active, active -> cancelled | past_due,
// past_due -> active (on a later successful payment).
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// ProcessedWebhook is the idempotency store's persisted unit: one row per
// webhook ID that has been claimed or fully processed.
type ProcessedWebhook struct {
	WebhookID   string     `json:"webhook_id"`
	Status      string     `json:"status"` // "processing" or "processed"
	FirstSeenAt time.Time  `json:"first_seen_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DeliveryOutcome labels the result of a webhook delivery attempt for the
// audit log and metrics.
type DeliveryOutcome string

const (
	OutcomeProcessed        DeliveryOutcome = "processed"
	OutcomeDuplicate        DeliveryOutcome = "duplicate"
	OutcomeUnknownType      DeliveryOutcome = "unknown_type"
	OutcomeInvalidSignature DeliveryOutcome = "invalid_signature"
	OutcomeStaleTimestamp   DeliveryOutcome = "stale_timestamp"
	OutcomeMalformed        DeliveryOutcome = "malformed"
	OutcomeHandlerFailure   DeliveryOutcome = "handler_failure"
)

// DeliveryRecord is one audit-log row per delivery attempt. RawPayload is
// stored zstd-compressed; SourceIP supports the signature-failure audit
// trail and is never paired with the secret or the presented signature.
type DeliveryRecord struct {
	WebhookID  string
	EventType  string
	Outcome    DeliveryOutcome
	SourceIP   string
	RawPayload []byte
	ReceivedAt time.Time
}

// TriggerMessage is the fire-and-forget notification published to the
// automation queue for the workflow engine. One message per successfully
// handled event.
type TriggerMessage struct {
	MessageID string         `json:"message_id"`
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// ReceiptInput carries everything the receipt sender needs to issue a
// donor tax receipt through the email provider's template API.
type ReceiptInput struct {
	TemplateID string
	Recipient  string
	Data       map[string]any
}

package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"steward/internal/types"
)

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// DonationUpdater is the subset of the donation repository the handlers
// need: apply a status transition to an existing donation record.
// Implementations must be safe to call twice with the same arguments --
// applying "completed" to an already-completed donation is a no-op, not a
// double credit.
type DonationUpdater interface {
	UpdateStatus(ctx context.Context, donationID string, status types.DonationStatus) error
}

// SubscriptionUpdater manages recurring-gift records.
type SubscriptionUpdater interface {
	// Activate ensures an active subscription record exists for the given
	// provider subscription ID. Idempotent: re-activating is a no-op.
	Activate(ctx context.Context, subscriptionID string) error

	// UpdateStatus applies a status transition (cancelled, past_due, ...).
	UpdateStatus(ctx context.Context, subscriptionID string, status types.SubscriptionStatus) error

	// UpdateTerms records an amount or payment-method change on an active
	// subscription.
	UpdateTerms(ctx context.Context, subscriptionID string, amountCents int64, paymentMethod string) error
}

// ReceiptSender issues donor tax receipts through the email provider.
type ReceiptSender interface {
	Send(ctx context.Context, input types.ReceiptInput) error
}

// AutomationDispatcher notifies the workflow engine of a processed event.
// Fire-and-forget: delivery failures are logged, never propagated, so a
// flaky queue cannot turn successfully handled payments into webhook
// failures.
type AutomationDispatcher interface {
	Trigger(ctx context.Context, eventType types.EventType, data map[string]any) error
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// Handlers holds one method per known event type. Each performs a single
// domain action against the external collaborators; the heavy lifting
// (record keeping, email rendering, workflow execution) lives behind the
// interfaces above.
type Handlers struct {
	donations     DonationUpdater
	subscriptions SubscriptionUpdater
	receipts      ReceiptSender
	automation    AutomationDispatcher
	receiptTmpl   string
	logger        *slog.Logger
}

// NewHandlers creates the handler set. receipts and automation may be nil
// when the corresponding collaborator is not deployed (receipt sending
// and automation triggers are then skipped).
func NewHandlers(
	donations DonationUpdater,
	subscriptions SubscriptionUpdater,
	receipts ReceiptSender,
	automation AutomationDispatcher,
	receiptTemplateID string,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		donations:     donations,
		subscriptions: subscriptions,
		receipts:      receipts,
		automation:    automation,
		receiptTmpl:   receiptTemplateID,
		logger:        logger,
	}
}

// PaymentSucceeded marks the donation completed and sends the donor a
// receipt. A receipt-send failure is a processing failure: the event stays
// unmarked and the provider's retry re-attempts the send (UpdateStatus is
// idempotent, so the repeat transition is harmless).
func (h *Handlers) PaymentSucceeded(ctx context.Context, event *types.WebhookEvent) error {
	donationID := stringField(event.Data, "donation_id")
	if donationID == "" {
		return fmt.Errorf("payment.succeeded: missing donation_id in event %s", event.ID)
	}

	if err := h.donations.UpdateStatus(ctx, donationID, types.DonationCompleted); err != nil {
		return fmt.Errorf("mark donation completed: %w", err)
	}

	if h.receipts != nil {
		if recipient := stringField(event.Data, "donor_email"); recipient != "" {
			err := h.receipts.Send(ctx, types.ReceiptInput{
				TemplateID: h.receiptTmpl,
				Recipient:  recipient,
				Data:       event.Data,
			})
			if err != nil {
				return fmt.Errorf("send receipt: %w", err)
			}
		}
	}

	h.trigger(ctx, event)
	return nil
}

// PaymentFailed marks the donation failed.
func (h *Handlers) PaymentFailed(ctx context.Context, event *types.WebhookEvent) error {
	donationID := stringField(event.Data, "donation_id")
	if donationID == "" {
		return fmt.Errorf("payment.failed: missing donation_id in event %s", event.ID)
	}

	if err := h.donations.UpdateStatus(ctx, donationID, types.DonationFailed); err != nil {
		return fmt.Errorf("mark donation failed: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// PaymentRefunded marks a completed donation refunded.
func (h *Handlers) PaymentRefunded(ctx context.Context, event *types.WebhookEvent) error {
	donationID := stringField(event.Data, "donation_id")
	if donationID == "" {
		return fmt.Errorf("payment.refunded: missing donation_id in event %s", event.ID)
	}

	if err := h.donations.UpdateStatus(ctx, donationID, types.DonationRefunded); err != nil {
		return fmt.Errorf("mark donation refunded: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// SubscriptionCreated activates the recurring gift.
func (h *Handlers) SubscriptionCreated(ctx context.Context, event *types.WebhookEvent) error {
	subID := stringField(event.Data, "subscription_id")
	if subID == "" {
		return fmt.Errorf("subscription.created: missing subscription_id in event %s", event.ID)
	}

	if err := h.subscriptions.Activate(ctx, subID); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// SubscriptionUpdated records an amount or payment-method change. The
// status stays active; only the terms move.
func (h *Handlers) SubscriptionUpdated(ctx context.Context, event *types.WebhookEvent) error {
	subID := stringField(event.Data, "subscription_id")
	if subID == "" {
		return fmt.Errorf("subscription.updated: missing subscription_id in event %s", event.ID)
	}

	amount := int64Field(event.Data, "amount_cents")
	method := stringField(event.Data, "payment_method")

	if err := h.subscriptions.UpdateTerms(ctx, subID, amount, method); err != nil {
		return fmt.Errorf("update subscription terms: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// SubscriptionCancelled marks the recurring gift cancelled.
func (h *Handlers) SubscriptionCancelled(ctx context.Context, event *types.WebhookEvent) error {
	subID := stringField(event.Data, "subscription_id")
	if subID == "" {
		return fmt.Errorf("subscription.cancelled: missing subscription_id in event %s", event.ID)
	}

	if err := h.subscriptions.UpdateStatus(ctx, subID, types.SubscriptionCancelled); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// SubscriptionPaymentFailed moves the recurring gift to past_due. The
// dunning follow-up (emails, eventual cancellation) belongs to the
// automation engine, which learns about it from the trigger.
func (h *Handlers) SubscriptionPaymentFailed(ctx context.Context, event *types.WebhookEvent) error {
	subID := stringField(event.Data, "subscription_id")
	if subID == "" {
		return fmt.Errorf("subscription.payment_failed: missing subscription_id in event %s", event.ID)
	}

	if err := h.subscriptions.UpdateStatus(ctx, subID, types.SubscriptionPastDue); err != nil {
		return fmt.Errorf("mark subscription past_due: %w", err)
	}

	h.trigger(ctx, event)
	return nil
}

// trigger notifies the automation engine, logging and swallowing failures.
func (h *Handlers) trigger(ctx context.Context, event *types.WebhookEvent) {
	if h.automation == nil {
		return
	}
	if err := h.automation.Trigger(ctx, event.Type, event.Data); err != nil {
		h.logger.WarnContext(ctx, "automation trigger dispatch failed",
			"event_id", event.ID,
			"event_type", string(event.Type),
			"error", err,
		)
	}
}

// int64Field extracts an integer from the opaque data map. JSON numbers
// decode as float64; provider payloads may also carry them as strings.
func int64Field(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

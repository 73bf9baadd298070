package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"steward/internal/types"
)

// Dispatcher routes a verified webhook event to the handler for its type.
//
// Unknown-but-well-formed event types degrade to acknowledged no-ops:
// failing them would make the provider redeliver forever, and a provider
// rolling out new event types must not break existing consumers.
type Dispatcher struct {
	handlers *Handlers
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given handler set.
func NewDispatcher(handlers *Handlers, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Dispatch validates the event envelope and invokes exactly one handler.
// A nil return means the event may be marked processed; a non-nil return
// means the delivery must be failed (and its claim released) so the
// provider retries.
//
// Handler panics are contained here: a panic in one event's handler must
// not take down the delivery pipeline, but it is a processing failure for
// that event.
func (d *Dispatcher) Dispatch(ctx context.Context, event *types.WebhookEvent) (err error) {
	if event.ID == "" || event.Type == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"webhook event is missing id or type",
			nil,
		)
	}

	if !event.Type.Known() {
		d.logger.InfoContext(ctx, "ignoring unknown webhook event type",
			"event_id", event.ID,
			"event_type", string(event.Type),
		)
		return nil
	}

	defer func() {
		if rvr := recover(); rvr != nil {
			d.logger.ErrorContext(ctx, "webhook handler panicked",
				"event_id", event.ID,
				"event_type", string(event.Type),
				"panic", fmt.Sprintf("%v", rvr),
			)
			err = types.NewAppError(
				types.ErrCodeInternalHandler,
				fmt.Sprintf("handler for %s panicked", event.Type),
				nil,
			)
		}
	}()

	switch event.Type {
	case types.EventPaymentSucceeded:
		err = d.handlers.PaymentSucceeded(ctx, event)
	case types.EventPaymentFailed:
		err = d.handlers.PaymentFailed(ctx, event)
	case types.EventPaymentRefunded:
		err = d.handlers.PaymentRefunded(ctx, event)
	case types.EventSubscriptionCreated:
		err = d.handlers.SubscriptionCreated(ctx, event)
	case types.EventSubscriptionUpdated:
		err = d.handlers.SubscriptionUpdated(ctx, event)
	case types.EventSubscriptionCancelled:
		err = d.handlers.SubscriptionCancelled(ctx, event)
	case types.EventSubscriptionPaymentFailed:
		err = d.handlers.SubscriptionPaymentFailed(ctx, event)
	}

	if err != nil {
		d.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", event.ID,
			"event_type", string(event.Type),
			"error", err,
		)
	}
	return err
}

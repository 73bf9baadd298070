// Package handlers contains the HTTP handler implementations for the Steward
// webhook API.
//
// The payments webhook endpoint is NOT behind auth middleware -- it is called
// directly by the payment provider. Security is provided by verifying the
// X-Signature header (HMAC-SHA256 over the raw body) and, when present, the
// X-Timestamp replay guard.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"steward/internal/core"
	"steward/internal/types"
	"steward/internal/webhook"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
// Provider payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// DeliveryAuditor records one audit row per delivery attempt. Failures are
// logged and swallowed by the handler.
type DeliveryAuditor interface {
	Record(ctx context.Context, rec types.DeliveryRecord) error
}

// DeliveryMetrics publishes per-delivery telemetry.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, eventType string, outcome types.DeliveryOutcome)
	RecordDeliveryLatency(ctx context.Context, eventType string, duration time.Duration)
}

// PaymentsWebhookHandler handles asynchronous payment events from the
// provider: it verifies authenticity, suppresses duplicate deliveries, and
// hands verified events to the dispatcher.
//
// auditor and metrics are optional; when nil the corresponding concern is
// skipped.
type PaymentsWebhookHandler struct {
	verifier    webhook.SignatureVerifier
	replayGuard *webhook.ReplayGuard
	store       webhook.IdempotencyStore
	dispatcher  *webhook.Dispatcher
	auditor     DeliveryAuditor
	metrics     DeliveryMetrics

	secret           string
	requireTimestamp bool
	logger           *slog.Logger

	nowFn func() time.Time // for testability; defaults to time.Now
}

// PaymentsWebhookHandlerOption configures optional handler collaborators.
type PaymentsWebhookHandlerOption func(*PaymentsWebhookHandler)

// WithDeliveryAuditor attaches the delivery audit log.
func WithDeliveryAuditor(a DeliveryAuditor) PaymentsWebhookHandlerOption {
	return func(h *PaymentsWebhookHandler) { h.auditor = a }
}

// WithDeliveryMetrics attaches the telemetry publisher.
func WithDeliveryMetrics(m DeliveryMetrics) PaymentsWebhookHandlerOption {
	return func(h *PaymentsWebhookHandler) { h.metrics = m }
}

// WithRequireTimestamp rejects deliveries missing the X-Timestamp header.
func WithRequireTimestamp(require bool) PaymentsWebhookHandlerOption {
	return func(h *PaymentsWebhookHandler) { h.requireTimestamp = require }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(fn func() time.Time) PaymentsWebhookHandlerOption {
	return func(h *PaymentsWebhookHandler) { h.nowFn = fn }
}

// NewPaymentsWebhookHandler creates a PaymentsWebhookHandler with the
// provided dependencies.
func NewPaymentsWebhookHandler(
	verifier webhook.SignatureVerifier,
	replayGuard *webhook.ReplayGuard,
	store webhook.IdempotencyStore,
	dispatcher *webhook.Dispatcher,
	secret string,
	logger *slog.Logger,
	opts ...PaymentsWebhookHandlerOption,
) *PaymentsWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &PaymentsWebhookHandler{
		verifier:    verifier,
		replayGuard: replayGuard,
		store:       store,
		dispatcher:  dispatcher,
		secret:      secret,
		logger:      logger,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the payments webhook endpoint. This is kept separate
// from any authenticated route groups because webhook routes are public.
func (h *PaymentsWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments", h.Handle)
}

// ackBody is the acknowledgement envelope for accepted deliveries.
type ackBody struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Handle processes incoming payment webhook deliveries.
//
//  1. Reads the raw body (size-limited) and the X-Signature header.
//  2. Verifies the signature over the exact raw bytes.
//  3. Checks X-Timestamp freshness when the header is present.
//  4. Parses the event envelope.
//  5. Claims the webhook ID; an already-processed ID is acknowledged as a
//     duplicate without re-dispatching.
//  6. Dispatches to the event handlers. Handler failure releases the claim
//     and returns 500 so the provider redelivers; success completes the
//     claim and returns 200.
func (h *PaymentsWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := h.nowFn()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.finish(r, "", types.OutcomeMalformed, payload, start)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationBodyTooLarge,
			"failed to read request body",
			err,
		))
		return
	}

	// Refuse everything when no secret is configured. Accepting unverified
	// deliveries would be worse than an outage.
	if h.secret == "" {
		h.logger.ErrorContext(ctx, "webhook secret is not configured; rejecting delivery")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalSecretMissing,
			"webhook verification is not configured",
			nil,
		))
		return
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		h.logger.WarnContext(ctx, "missing X-Signature header", "source_ip", r.RemoteAddr)
		h.finish(r, "", types.OutcomeInvalidSignature, payload, start)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing X-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, signature, h.secret); err != nil {
		// The presented signature is never logged; a forger must learn
		// nothing beyond pass/fail.
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			"source_ip", r.RemoteAddr,
		)
		h.finish(r, "", types.OutcomeInvalidSignature, payload, start)
		core.Error(w, r, err)
		return
	}

	if timestamp := r.Header.Get("X-Timestamp"); timestamp != "" {
		if !h.replayGuard.IsFresh(timestamp, h.nowFn()) {
			h.logger.WarnContext(ctx, "webhook timestamp outside replay window",
				"source_ip", r.RemoteAddr,
			)
			h.finish(r, "", types.OutcomeStaleTimestamp, payload, start)
			core.Error(w, r, types.NewAppError(
				types.ErrCodeAuthTimestampStale,
				"webhook timestamp is outside the accepted window",
				nil,
			))
			return
		}
	} else if h.requireTimestamp {
		h.finish(r, "", types.OutcomeStaleTimestamp, payload, start)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTimestampStale,
			"missing X-Timestamp header",
			nil,
		))
		return
	}

	event, err := webhook.ParseEvent(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to parse webhook event", "error", err)
		h.finish(r, "", types.OutcomeMalformed, payload, start)
		core.Error(w, r, err)
		return
	}

	log := h.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)

	claimed, err := h.store.Begin(ctx, event.ID)
	if err != nil {
		log.ErrorContext(ctx, "idempotency claim failed", "error", err)
		core.Error(w, r, err)
		return
	}
	if !claimed {
		log.InfoContext(ctx, "duplicate webhook delivery suppressed")
		h.finishEvent(r, event, types.OutcomeDuplicate, payload, start)
		core.JSON(w, r, http.StatusOK, ackBody{Received: true, Duplicate: true})
		return
	}

	if err := h.dispatcher.Dispatch(ctx, event); err != nil {
		// Release the claim so the provider's redelivery is reprocessed.
		if abortErr := h.store.Abort(ctx, event.ID); abortErr != nil {
			log.ErrorContext(ctx, "failed to release idempotency claim", "error", abortErr)
		}
		log.ErrorContext(ctx, "webhook event processing failed", "error", err)
		h.finishEvent(r, event, types.OutcomeHandlerFailure, payload, start)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalHandler,
			"webhook event processing failed",
			err,
		))
		return
	}

	if err := h.store.Complete(ctx, event.ID); err != nil {
		// Side effects are committed; failing the delivery now would force a
		// redelivery the handlers must absorb. Log and acknowledge.
		log.ErrorContext(ctx, "failed to mark webhook processed", "error", err)
	}

	outcome := types.OutcomeProcessed
	if !event.Type.Known() {
		outcome = types.OutcomeUnknownType
	}

	log.InfoContext(ctx, "webhook delivery processed", "outcome", string(outcome))
	h.finishEvent(r, event, outcome, payload, start)
	core.JSON(w, r, http.StatusOK, ackBody{Received: true})
}

// finish records audit and telemetry for deliveries that never produced a
// parsed event.
func (h *PaymentsWebhookHandler) finish(r *http.Request, eventType string, outcome types.DeliveryOutcome, payload []byte, start time.Time) {
	h.audit(r, "", eventType, outcome, payload)
	if h.metrics != nil {
		ctx := r.Context()
		h.metrics.RecordDelivery(ctx, eventType, outcome)
		h.metrics.RecordDeliveryLatency(ctx, eventType, h.nowFn().Sub(start))
	}
}

// finishEvent records audit and telemetry for deliveries with a parsed event.
func (h *PaymentsWebhookHandler) finishEvent(r *http.Request, event *types.WebhookEvent, outcome types.DeliveryOutcome, payload []byte, start time.Time) {
	h.audit(r, event.ID, string(event.Type), outcome, payload)
	if h.metrics != nil {
		ctx := r.Context()
		h.metrics.RecordDelivery(ctx, string(event.Type), outcome)
		h.metrics.RecordDeliveryLatency(ctx, string(event.Type), h.nowFn().Sub(start))
	}
}

// audit writes the delivery audit row, best-effort.
func (h *PaymentsWebhookHandler) audit(r *http.Request, webhookID, eventType string, outcome types.DeliveryOutcome, payload []byte) {
	if h.auditor == nil {
		return
	}

	rec := types.DeliveryRecord{
		WebhookID:  webhookID,
		EventType:  eventType,
		Outcome:    outcome,
		SourceIP:   r.RemoteAddr,
		RawPayload: payload,
		ReceivedAt: h.nowFn().UTC(),
	}

	if err := h.auditor.Record(r.Context(), rec); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to record delivery audit row",
			"error", err,
			"outcome", string(outcome),
		)
	}
}

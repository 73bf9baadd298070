package webhook

import "context"

// IdempotencyStore tracks which webhook IDs have been processed so that
// at-least-once delivery never produces observable side effects twice.
//
// The contract is claim-based rather than a bare has/mark pair because two
// deliveries of the same event can race: an unsynchronized check-then-mark
// lets both proceed. Begin is an atomic insert-if-absent taken BEFORE the
// event is dispatched; Complete durably records success AFTER the
// handler's side effects are committed; Abort releases the claim when the
// handler fails so the provider's retry can reprocess the event.
//
// Sequencing per delivery: verify -> Begin -> dispatch -> Complete -> ack,
// with Abort on the dispatch-failure path.
type IdempotencyStore interface {
	// Begin atomically claims the webhook ID. It returns false when the ID
	// is already claimed or processed -- the delivery is a duplicate and
	// must be acknowledged without re-dispatching.
	Begin(ctx context.Context, webhookID string) (bool, error)

	// Complete marks the webhook ID as durably processed. Called only
	// after the event's side effects have been committed or queued.
	Complete(ctx context.Context, webhookID string) error

	// Abort releases an in-flight claim after a handler failure, allowing
	// the provider's retry to take a fresh claim.
	Abort(ctx context.Context, webhookID string) error
}

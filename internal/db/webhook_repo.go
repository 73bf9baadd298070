package db

import (
	"context"
	"log/slog"
	"time"

	"steward/internal/types"
)

// staleClaimAfter is how long an in-flight claim may sit before another
// delivery is allowed to take it over. Protects against a process that
// crashed between claiming an event and committing its side effects.
const staleClaimAfter = 5 * time.Minute

// ProcessedWebhookRepo is the durable idempotency store, backed by a
// processed_webhooks table with a primary key on webhook_id. The unique
// constraint is what makes Begin's insert-if-absent atomic across all
// server instances.
//
// Schema:
//
//	CREATE TABLE processed_webhooks (
//	    webhook_id    TEXT PRIMARY KEY,
//	    status        TEXT NOT NULL,          -- 'processing' | 'processed'
//	    first_seen_at TIMESTAMPTZ NOT NULL,
//	    claimed_at    TIMESTAMPTZ NOT NULL,
//	    processed_at  TIMESTAMPTZ
//	);
//
// Rows older than the configured retention are purged by PurgeOlderThan,
// run from a scheduled job; reprocessing an event that old is safe because
// handlers are idempotent at the domain level.
type ProcessedWebhookRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedWebhookRepo creates a ProcessedWebhookRepo backed by the
// given database connection (pool or transaction).
func NewProcessedWebhookRepo(db DBTX, logger *slog.Logger) *ProcessedWebhookRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedWebhookRepo{db: db, logger: logger}
}

// Begin atomically claims the webhook ID. The INSERT either creates a new
// claim, or -- via ON CONFLICT -- takes over a stale in-flight claim left
// behind by a crashed worker. Any other conflict leaves zero rows
// affected, which reports the delivery as a duplicate.
func (r *ProcessedWebhookRepo) Begin(ctx context.Context, webhookID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_webhooks (webhook_id, status, first_seen_at, claimed_at)
		 VALUES ($1, 'processing', NOW(), NOW())
		 ON CONFLICT (webhook_id) DO UPDATE
		 SET status = 'processing',
		     claimed_at = NOW()
		 WHERE processed_webhooks.status = 'processing'
		   AND processed_webhooks.claimed_at < NOW() - $2::interval`,
		webhookID,
		staleClaimAfter.String(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim webhook id", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Complete marks the claim as durably processed. Called only after the
// event's side effects have been committed.
func (r *ProcessedWebhookRepo) Complete(ctx context.Context, webhookID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE processed_webhooks
		 SET status = 'processed',
		     processed_at = NOW()
		 WHERE webhook_id = $1`,
		webhookID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark webhook processed", err)
	}

	if tag.RowsAffected() == 0 {
		// The claim was taken over after going stale; the takeover owner
		// will complete it. Log for visibility, nothing to repair here.
		r.logger.Warn("webhook claim vanished before completion",
			slog.String("webhook_id", webhookID),
		)
	}
	return nil
}

// Abort releases an in-flight claim after a handler failure so that the
// provider's retry can take a fresh claim. Processed rows are untouched.
func (r *ProcessedWebhookRepo) Abort(ctx context.Context, webhookID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM processed_webhooks
		 WHERE webhook_id = $1
		   AND status = 'processing'`,
		webhookID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release webhook claim", err)
	}
	return nil
}

// PurgeOlderThan removes processed rows outside the retention window and
// returns the number purged. Intended for a scheduled maintenance job.
func (r *ProcessedWebhookRepo) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_webhooks
		 WHERE status = 'processed'
		   AND processed_at < NOW() - $1::interval`,
		retention.String(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge processed webhooks", err)
	}
	return tag.RowsAffected(), nil
}

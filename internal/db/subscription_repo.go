package db

import (
	"context"
	"log/slog"

	"steward/internal/types"
)

// SubscriptionRepo manages recurring-gift records driven by provider
// subscription events. Like DonationRepo, every write is guarded so that
// redelivered or out-of-order events cannot double-apply: a cancelled
// subscription stays cancelled no matter what arrives afterwards.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// Activate ensures an active subscription row exists for the provider
// subscription ID. ON CONFLICT DO NOTHING makes a redelivered
// subscription.created event a no-op; it also refuses to resurrect a
// subscription that was cancelled between the original delivery and the
// redelivery.
func (r *SubscriptionRepo) Activate(ctx context.Context, subscriptionID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (id, status, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (id) DO NOTHING`,
		subscriptionID,
		string(types.SubscriptionActive),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	return nil
}

// UpdateStatus applies a status transition. Cancellation is terminal and
// idempotent; past_due only applies to subscriptions that are currently
// active or already past_due (a payment failure for a cancelled
// subscription is stale provider noise).
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, subscriptionID string, status types.SubscriptionStatus) error {
	var from []string
	switch status {
	case types.SubscriptionCancelled:
		from = []string{
			string(types.SubscriptionActive),
			string(types.SubscriptionPastDue),
			string(types.SubscriptionCancelled),
		}
	case types.SubscriptionPastDue:
		from = []string{
			string(types.SubscriptionActive),
			string(types.SubscriptionPastDue),
		}
	case types.SubscriptionActive:
		from = []string{
			string(types.SubscriptionActive),
			string(types.SubscriptionPastDue),
		}
	default:
		return types.NewAppError(
			types.ErrCodeConflictStateTransition,
			"unsupported subscription status "+string(status),
			nil,
		)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND status = ANY($3)`,
		string(status),
		subscriptionID,
		from,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}

	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx,
		`SELECT status FROM subscriptions WHERE id = $1`,
		subscriptionID,
	).Scan(&current)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
	}

	r.logger.Info("subscription status transition ignored (state guard)",
		slog.String("subscription_id", subscriptionID),
		slog.String("current_status", current),
		slog.String("requested_status", string(status)),
	)
	return nil
}

// UpdateTerms records an amount or payment-method change on an active
// subscription. Redelivery writes the same values again, which is
// harmless. A terms update for a cancelled subscription is ignored.
func (r *SubscriptionRepo) UpdateTerms(ctx context.Context, subscriptionID string, amountCents int64, paymentMethod string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET amount_cents = COALESCE(NULLIF($1, 0), amount_cents),
		     payment_method = COALESCE(NULLIF($2, ''), payment_method),
		     updated_at = NOW()
		 WHERE id = $3
		   AND status <> $4`,
		amountCents,
		paymentMethod,
		subscriptionID,
		string(types.SubscriptionCancelled),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription terms", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("subscription terms update ignored",
			slog.String("subscription_id", subscriptionID),
		)
	}
	return nil
}

package db

import (
	"context"
	"log/slog"

	"steward/internal/types"
)

// DonationRepo applies webhook-driven status transitions to donation
// records.
//
// Key invariant: transitions are guarded in SQL so that replaying the same
// event, or receiving events out of order, can never double-apply a
// transition. The legal moves are pending -> completed | failed and
// completed -> refunded; the guard set for each target status also
// includes the target itself, which makes a repeated transition a no-op
// rather than an error.
type DonationRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewDonationRepo creates a DonationRepo backed by the given database
// connection (pool or transaction).
func NewDonationRepo(db DBTX, logger *slog.Logger) *DonationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationRepo{db: db, logger: logger}
}

// allowedFrom maps each target status to the set of statuses the donation
// may currently hold for the transition to apply.
func allowedFrom(target types.DonationStatus) []string {
	switch target {
	case types.DonationCompleted:
		return []string{string(types.DonationPending), string(types.DonationCompleted)}
	case types.DonationFailed:
		return []string{string(types.DonationPending), string(types.DonationFailed)}
	case types.DonationRefunded:
		return []string{string(types.DonationCompleted), string(types.DonationRefunded)}
	default:
		return nil
	}
}

// UpdateStatus applies the transition. A repeat of an already-applied
// transition affects one row (status = status) and is therefore invisible
// to the caller, satisfying domain-level idempotency. A transition whose
// guard does not match (e.g., a refund for a donation still pending) is
// logged and ignored, mirroring how out-of-order provider events are
// tolerated elsewhere; only a donation that does not exist at all is an
// error.
func (r *DonationRepo) UpdateStatus(ctx context.Context, donationID string, status types.DonationStatus) error {
	from := allowedFrom(status)
	if from == nil {
		return types.NewAppError(
			types.ErrCodeConflictStateTransition,
			"unsupported donation status "+string(status),
			nil,
		)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE donations
		 SET status = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND status = ANY($3)`,
		string(status),
		donationID,
		from,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update donation status", err)
	}

	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing donation from a guarded-out transition.
	var current string
	err = r.db.QueryRow(ctx,
		`SELECT status FROM donations WHERE id = $1`,
		donationID,
	).Scan(&current)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotFoundDonation, "donation not found", err)
	}

	r.logger.Info("donation status transition ignored (state guard)",
		slog.String("donation_id", donationID),
		slog.String("current_status", current),
		slog.String("requested_status", string(status)),
	)
	return nil
}

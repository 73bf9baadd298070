package db

import (
	"context"
	"log/slog"

	"github.com/klauspost/compress/zstd"

	"steward/internal/types"
)

// DeliveryLogRepo records one audit row per webhook delivery attempt.
// Raw payloads are stored zstd-compressed; at typical JSON payload sizes
// this keeps the audit table an order of magnitude smaller than the raw
// traffic.
//
// Schema:
//
//	CREATE TABLE webhook_deliveries (
//	    id           BIGSERIAL PRIMARY KEY,
//	    webhook_id   TEXT,
//	    event_type   TEXT,
//	    outcome      TEXT NOT NULL,
//	    source_ip    TEXT NOT NULL,
//	    raw_payload  BYTEA,
//	    received_at  TIMESTAMPTZ NOT NULL
//	);
//
// webhook_id and event_type are nullable: a delivery rejected for a bad
// signature or unparsable body has neither.
type DeliveryLogRepo struct {
	db      DBTX
	encoder *zstd.Encoder
	logger  *slog.Logger
}

// NewDeliveryLogRepo creates a DeliveryLogRepo. The zstd encoder is
// stateless in EncodeAll mode and shared across calls.
func NewDeliveryLogRepo(db DBTX, logger *slog.Logger) (*DeliveryLogRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &DeliveryLogRepo{db: db, encoder: enc, logger: logger}, nil
}

// Record inserts the audit row. Callers treat failures as best-effort:
// the audit trail must never decide the fate of a delivery.
func (r *DeliveryLogRepo) Record(ctx context.Context, rec types.DeliveryRecord) error {
	var compressed []byte
	if len(rec.RawPayload) > 0 {
		compressed = r.encoder.EncodeAll(rec.RawPayload, nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries
		     (webhook_id, event_type, outcome, source_ip, raw_payload, received_at)
		 VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6)`,
		rec.WebhookID,
		rec.EventType,
		string(rec.Outcome),
		rec.SourceIP,
		compressed,
		rec.ReceivedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook delivery", err)
	}
	return nil
}

// Decompress restores a stored raw payload. Used by operational tooling
// when investigating a disputed delivery.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"steward/internal/types"
)

func TestDeliveryLogRepo_Record(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewDeliveryLogRepo(db, nil)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)
	var inserted []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	rec := types.DeliveryRecord{
		WebhookID:  "evt_1",
		EventType:  "payment.succeeded",
		Outcome:    types.OutcomeProcessed,
		SourceIP:   "203.0.113.7",
		RawPayload: payload,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Record(context.Background(), rec))

	require.Len(t, inserted, 6)
	assert.Equal(t, "evt_1", inserted[0])
	assert.Equal(t, "payment.succeeded", inserted[1])
	assert.Equal(t, "processed", inserted[2])
	assert.Equal(t, "203.0.113.7", inserted[3])

	// The stored payload is zstd-compressed and must round-trip.
	compressed, ok := inserted[4].([]byte)
	require.True(t, ok)
	require.NotEmpty(t, compressed)
	assert.NotEqual(t, payload, compressed)

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestDeliveryLogRepo_Record_EmptyPayload(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewDeliveryLogRepo(db, nil)
	require.NoError(t, err)

	var inserted []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	rec := types.DeliveryRecord{
		Outcome:    types.OutcomeInvalidSignature,
		SourceIP:   "203.0.113.7",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Record(context.Background(), rec))

	require.Len(t, inserted, 6)
	assert.Nil(t, inserted[4])
}

func TestDeliveryLogRepo_Record_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewDeliveryLogRepo(db, nil)
	require.NoError(t, err)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err = repo.Record(context.Background(), types.DeliveryRecord{
		Outcome:    types.OutcomeMalformed,
		ReceivedAt: time.Now().UTC(),
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

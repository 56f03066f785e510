package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldsync/pkg/config"
	dbpkg "github.com/angelmondragon/fieldsync/pkg/db"
	"github.com/angelmondragon/fieldsync/pkg/db/dbtest"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
)

type orderPayload struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.SyncOperation{}, &models.SyncDLQ{})
	client := dbpkg.NewFromConn(conn, config.DriverSQLite)
	svc, err := NewService(client, NewRepository(conn), NewDLQRepository(conn), logger.Nop())
	require.NoError(t, err)
	return svc, conn
}

func TestEnqueueStoresEnvelope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "order-1", "u1", orderPayload{OrderID: "order-1", Amount: 12.5}))

	pending, err := svc.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	op := pending[0]
	assert.Equal(t, "order-1", op.IdempotencyKey)
	assert.Equal(t, enums.SyncStatusPending, op.Status)

	envelope, err := DecodeEnvelope(op)
	require.NoError(t, err)
	assert.Equal(t, op.ID.String(), envelope.OperationID)
	assert.Equal(t, "u1", envelope.UserID)
	var data orderPayload
	require.NoError(t, envelope.DecodeData(&data))
	assert.Equal(t, 12.5, data.Amount)
}

func TestEnqueueIsIdempotentOnKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "order-1", "u1", orderPayload{Amount: 1}))
	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "order-1", "u1", orderPayload{Amount: 2}))

	count, err := svc.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEnqueueValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Enqueue(ctx, "bogus", "k", "u1", nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	err = svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, " ", "u1", nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestMarkFailedThenDone(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "order-1", "u1", orderPayload{}))
	pending, err := svc.FetchPending(ctx, 1)
	require.NoError(t, err)
	id := pending[0].ID

	require.NoError(t, svc.MarkFailed(ctx, id, errors.New("connection refused")))
	var row models.SyncOperation
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "connection refused", *row.LastError)

	require.NoError(t, svc.MarkDone(ctx, id))
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Equal(t, enums.SyncStatusDone, row.Status)
	assert.NotNil(t, row.ProcessedAt)

	pending, err = svc.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMoveToDLQAndRetry(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "order-9", "u1", orderPayload{OrderID: "order-9"}))
	pending, err := svc.FetchPending(ctx, 1)
	require.NoError(t, err)

	dlqID, err := svc.MoveToDLQ(ctx, pending[0], enums.SyncDLQReasonNonRetryable, errors.New("check constraint"))
	require.NoError(t, err)

	pending, err = svc.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "dead-lettered operation must not be replayed")

	letters, err := svc.ListDLQ(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, dlqID, letters[0].ID)
	assert.Equal(t, "order-9", letters[0].IdempotencyKey)
	assert.Equal(t, enums.SyncDLQReasonNonRetryable, letters[0].ErrorReason)

	others, err := svc.ListDLQ(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = svc.Retry(ctx, letters[0].ID, "u2")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	op, err := svc.Retry(ctx, letters[0].ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "order-9", op.IdempotencyKey)
	assert.Equal(t, pending0ID(t, conn, "order-9"), op.ID)

	pending, err = svc.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].AttemptCount)

	letters, err = svc.ListDLQ(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, letters)

	_, err = svc.Retry(ctx, uuid.New(), "u1")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteDoneBefore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "old", "u1", orderPayload{}))
	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "fresh", "u1", orderPayload{}))
	require.NoError(t, svc.Enqueue(ctx, enums.SyncOperationSubmitOrder, "waiting", "u1", orderPayload{}))
	pending, err := svc.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	byKey := map[string]uuid.UUID{}
	for _, op := range pending {
		byKey[op.IdempotencyKey] = op.ID
	}
	require.NoError(t, svc.MarkDone(ctx, byKey["old"]))
	svc.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, svc.MarkDone(ctx, byKey["fresh"]))

	deleted, err := svc.DeleteDoneBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := svc.Pending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope(models.SyncOperation{ID: uuid.New(), Payload: "{not json"})
	assert.Error(t, err)
	_, err = DecodeEnvelope(models.SyncOperation{ID: uuid.New(), Payload: `{"version":99}`})
	assert.Error(t, err)
}

func pending0ID(t *testing.T, conn *gorm.DB, key string) uuid.UUID {
	t.Helper()
	var row models.SyncOperation
	require.NoError(t, conn.Where("idempotency_key = ?", key).Take(&row).Error)
	return row.ID
}

func TestListDLQPageWalksNewestFirst(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, conn.Create(&models.SyncDLQ{
			ID:             id,
			OperationID:    uuid.New(),
			OperationType:  enums.SyncOperationSubmitOrder,
			IdempotencyKey: "order-" + id.String()[:8],
			UserID:         "u1",
			Payload:        "{}",
			ErrorReason:    enums.SyncDLQReasonMaxAttempts,
			FailedAt:       base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	first, err := svc.ListDLQPage(ctx, "u1", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, ids[4], first.Items[0].ID)
	assert.Equal(t, ids[3], first.Items[1].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListDLQPage(ctx, "u1", pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, ids[2], second.Items[0].ID)

	last, err := svc.ListDLQPage(ctx, "u1", pagination.Params{Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, ids[0], last.Items[0].ID)
	assert.Empty(t, last.NextCursor)

	_, err = svc.ListDLQPage(ctx, "u1", pagination.Params{Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

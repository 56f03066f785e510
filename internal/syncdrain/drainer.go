// Package syncdrain replays queued mutations against the backend once the
// device is back online.
package syncdrain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/internal/backend"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/metrics"
	"github.com/angelmondragon/fieldsync/pkg/syncqueue"
)

const (
	defaultBatchSize     = 20
	defaultPollInterval  = 2 * time.Second
	defaultMaxAttempts   = 10
	defaultReplayTimeout = 15 * time.Second
	maxBackoff           = 30 * time.Second
	jitterWindow         = 250 * time.Millisecond

	consumerName = "sync-drain"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type queue interface {
	FetchPending(ctx context.Context, limit int) ([]models.SyncOperation, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	MoveToDLQ(ctx context.Context, op models.SyncOperation, reason enums.SyncDLQErrorReason, cause error) (uuid.UUID, error)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Delete(ctx context.Context, consumer, key string) error
}

// OnlineChecker gates replays on device connectivity.
type OnlineChecker interface {
	Online() bool
}

type DrainerParams struct {
	Queue        queue
	Backend      backend.Service
	Reconciler   *Reconciler
	Snapshots    *snapshot.Store
	Bus          *events.Bus
	Idempotency  processedTracker
	Connectivity OnlineChecker
	Metrics      *metrics.SyncMetrics
	Logger       *logger.Logger
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

type Drainer struct {
	queue        queue
	backend      backend.Service
	reconciler   *Reconciler
	snapshots    *snapshot.Store
	bus          *events.Bus
	idempotency  processedTracker
	connectivity OnlineChecker
	metrics      *metrics.SyncMetrics
	logg         *logger.Logger
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	wake         chan struct{}
}

func NewDrainer(params DrainerParams) (*Drainer, error) {
	if params.Queue == nil {
		return nil, errors.New("sync queue is required")
	}
	if params.Backend == nil {
		return nil, errors.New("backend service is required")
	}
	if params.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Drainer{
		queue:        params.Queue,
		backend:      params.Backend,
		reconciler:   params.Reconciler,
		snapshots:    params.Snapshots,
		bus:          params.Bus,
		idempotency:  params.Idempotency,
		connectivity: params.Connectivity,
		metrics:      params.Metrics,
		logg:         logg,
		batchSize:    batch,
		pollInterval: interval,
		maxAttempts:  maxAttempts,
		wake:         make(chan struct{}, 1),
	}, nil
}

// Wake asks a sleeping Run loop to drain now.
func (d *Drainer) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is cancelled. Batch errors back off exponentially.
func (d *Drainer) Run(ctx context.Context) error {
	backoff := d.pollInterval
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "sync drain stopped")
			return nil
		default:
		}

		if d.connectivity != nil && !d.connectivity.Online() {
			if err := d.sleep(ctx, withJitter(d.pollInterval)); err != nil {
				return nil
			}
			continue
		}

		processed, err := d.Drain(ctx)
		if err != nil {
			d.logg.Error(ctx, "sync drain batch error", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxBackoff)
			if err := d.sleep(ctx, withJitter(backoff)); err != nil {
				return nil
			}
			continue
		}
		backoff = d.pollInterval

		if processed > 0 {
			continue
		}
		if err := d.sleep(ctx, withJitter(d.pollInterval)); err != nil {
			return nil
		}
	}
}

// Drain replays one batch and returns how many operations it handled.
func (d *Drainer) Drain(ctx context.Context) (int, error) {
	ops, err := d.queue.FetchPending(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}
	d.metrics.SetBatchSize(len(ops))
	for _, op := range ops {
		if err := d.replay(ctx, op); err != nil {
			return 0, err
		}
	}
	return len(ops), nil
}

func (d *Drainer) replay(ctx context.Context, op models.SyncOperation) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"operation_id":    op.ID.String(),
		"operation_type":  op.OperationType,
		"idempotency_key": op.IdempotencyKey,
		"attempt_count":   op.AttemptCount,
	})

	var payload submission.OrderPayload
	envelope, err := syncqueue.DecodeEnvelope(op)
	if err == nil {
		err = envelope.DecodeData(&payload)
	}
	if err != nil {
		return d.deadLetter(ctx, op, payload, enums.SyncDLQReasonDecodeFailed, err)
	}
	if op.OperationType != enums.SyncOperationSubmitOrder {
		return d.deadLetter(ctx, op, payload, enums.SyncDLQReasonNonRetryable, fmt.Errorf("unsupported operation type %q", op.OperationType))
	}

	// A key marked by an earlier run is only a hint: that run may have died
	// before the backend write, so the order is still submitted and a stored
	// row is read back through the conflict path.
	if d.idempotency != nil {
		seen, err := d.idempotency.CheckAndMarkProcessed(ctx, consumerName, op.IdempotencyKey)
		if err != nil {
			d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "idempotency check failed")
		} else if seen {
			d.logg.Info(ctx, "sync operation replayed before, verifying with backend")
		}
	}

	replayCtx, cancel := context.WithTimeout(ctx, defaultReplayTimeout)
	defer cancel()
	order, duplicate, err := d.submit(replayCtx, payload)
	if err != nil {
		d.forget(ctx, op)
		return d.handleFailure(ctx, op, payload, err)
	}

	d.reconciler.Confirm(ctx, payload, order.TotalAmount)
	if duplicate {
		d.metrics.IncReplay(metrics.ReplayDuplicate)
	} else {
		d.metrics.IncReplay(metrics.ReplayConfirmed)
	}
	d.logg.Info(d.logg.WithField(ctx, "confirmed_total", order.TotalAmount), "sync operation confirmed")
	return d.markDone(ctx, op)
}

// submit writes the queued order. An order already stored under the same id
// is read back and treated as confirmed.
func (d *Drainer) submit(ctx context.Context, payload submission.OrderPayload) (backend.Order, bool, error) {
	duplicate := false
	order, err := d.backend.InsertOrder(ctx, payload.Header)
	if err != nil {
		if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return backend.Order{}, false, err
		}
		duplicate = true
		order, err = d.backend.GetOrder(ctx, payload.Header.ID)
		if err != nil {
			return backend.Order{}, false, fmt.Errorf("read back order %s: %w", payload.Header.ID, err)
		}
	}
	if err := d.backend.InsertOrderItems(ctx, payload.Items); err != nil {
		return backend.Order{}, false, err
	}
	return order, duplicate, nil
}

func (d *Drainer) handleFailure(ctx context.Context, op models.SyncOperation, payload submission.OrderPayload, err error) error {
	if permanent(err) {
		return d.deadLetter(ctx, op, payload, enums.SyncDLQReasonNonRetryable, err)
	}
	if op.AttemptCount+1 >= d.maxAttempts {
		return d.deadLetter(ctx, op, payload, enums.SyncDLQReasonMaxAttempts, fmt.Errorf("max replay attempts reached: %w", err))
	}
	d.metrics.IncReplay(metrics.ReplayRetry)
	d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "sync replay failed, will retry")
	if markErr := d.queue.MarkFailed(ctx, op.ID, err); markErr != nil {
		return fmt.Errorf("mark failed %s: %w", op.ID, markErr)
	}
	return nil
}

func permanent(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeValidation) || pkgerrors.IsPermanent(err)
}

// deadLetter parks the operation and flags the cached order so the rep can
// resubmit it; the order itself is kept.
func (d *Drainer) deadLetter(ctx context.Context, op models.SyncOperation, payload submission.OrderPayload, reason enums.SyncDLQErrorReason, cause error) error {
	ctx = d.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()})
	d.logg.Warn(ctx, "sync operation will not be retried")

	dlqID, err := d.queue.MoveToDLQ(ctx, op, reason, cause)
	if err != nil {
		return fmt.Errorf("dead letter %s: %w", op.ID, err)
	}
	d.metrics.IncReplay(metrics.ReplayDLQ)

	h := payload.Header
	orderID := h.ID
	if orderID == "" {
		orderID = op.IdempotencyKey
	}
	if d.snapshots != nil && h.UserID != "" && payload.Date != "" {
		d.snapshots.SetOrderStatus(ctx, h.UserID, payload.Date, orderID, enums.OrderStatusSyncFailed)
	}
	if d.bus != nil {
		d.bus.OrderSyncFailed.Publish(ctx, events.OrderSyncFailed{
			UserID:     op.UserID,
			Date:       payload.Date,
			OrderID:    orderID,
			RetailerID: h.RetailerID,
			DLQID:      dlqID.String(),
			Reason:     string(reason),
		})
	}
	return nil
}

func (d *Drainer) markDone(ctx context.Context, op models.SyncOperation) error {
	if err := d.queue.MarkDone(ctx, op.ID); err != nil {
		return fmt.Errorf("mark done %s: %w", op.ID, err)
	}
	return nil
}

func (d *Drainer) forget(ctx context.Context, op models.SyncOperation) {
	if d.idempotency == nil {
		return
	}
	if err := d.idempotency.Delete(ctx, consumerName, op.IdempotencyKey); err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "idempotency reset failed")
	}
}

func (d *Drainer) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

// Package submission places orders, falling back to the durable sync queue
// when the backend is slow or unreachable.
package submission

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/internal/backend"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/metrics"
	"github.com/angelmondragon/fieldsync/pkg/money"
	"github.com/angelmondragon/fieldsync/pkg/syncqueue"
)

const DefaultTimeout = 10 * time.Second

// OnlineChecker is the device connectivity indicator.
type OnlineChecker interface {
	Online() bool
}

type Params struct {
	Backend      backend.Service
	Queue        syncqueue.Enqueuer
	Snapshots    *snapshot.Store
	VisitStatus  *visitstatus.Cache
	Bus          *events.Bus
	Connectivity OnlineChecker
	Metrics      *metrics.SubmissionMetrics
	Logger       *logger.Logger
	Timeout      time.Duration
	NewID        func() string
}

type Orchestrator struct {
	backend      backend.Service
	queue        syncqueue.Enqueuer
	snapshots    *snapshot.Store
	visitStatus  *visitstatus.Cache
	bus          *events.Bus
	connectivity OnlineChecker
	metrics      *metrics.SubmissionMetrics
	logg         *logger.Logger
	timeout      time.Duration
	newID        func() string
	validate     *validator.Validate

	// inflight tracks network attempts that outlived their submission.
	inflight sync.WaitGroup
}

func NewOrchestrator(params Params) (*Orchestrator, error) {
	if params.Backend == nil {
		return nil, errors.New("backend service required")
	}
	if params.Queue == nil {
		return nil, errors.New("sync queue required")
	}
	if params.Snapshots == nil {
		return nil, errors.New("snapshot store required")
	}
	if params.VisitStatus == nil {
		return nil, errors.New("visit status cache required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	bus := params.Bus
	if bus == nil {
		bus = events.NewBus(logg)
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	newID := params.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		backend:      params.Backend,
		queue:        params.Queue,
		snapshots:    params.Snapshots,
		visitStatus:  params.VisitStatus,
		bus:          bus,
		connectivity: params.Connectivity,
		metrics:      params.Metrics,
		logg:         logg,
		timeout:      timeout,
		newID:        newID,
		validate:     newValidator(),
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

type attemptResult struct {
	order backend.Order
	err   error
}

// SubmitOrder places the order. Network failures and timeouts are not errors:
// the order is queued and the result reports Offline.
func (o *Orchestrator) SubmitOrder(ctx context.Context, in Input, opts Options) (Result, error) {
	started := time.Now()
	if err := o.validateInput(in); err != nil {
		return Result{}, err
	}
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		orderID = o.newID()
	}
	payload := in.payload(orderID)
	ctx = o.logg.WithFields(ctx, map[string]any{
		"order_id":    orderID,
		"user_id":     in.UserID,
		"retailer_id": in.RetailerID,
	})

	provisional := money.Round(in.TotalAmount)
	o.applyLocal(ctx, payload, provisional, enums.OrderStatusPending)

	if o.online(opts) {
		res, settled := o.attempt(ctx, payload)
		if settled && res.err == nil {
			return o.confirm(ctx, payload, res.order, started), nil
		}
		if settled {
			o.logg.Warn(o.logg.WithField(ctx, "error", res.err.Error()), "order write failed, queueing")
		} else {
			o.logg.Warn(ctx, "order write timed out, queueing")
		}
	}
	// The caller may have gone away; the order still has to be kept.
	return o.queueOffline(context.WithoutCancel(ctx), payload, provisional, started)
}

func (o *Orchestrator) validateInput(in Input) error {
	if err := o.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid order").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order")
	}
	return nil
}

func (o *Orchestrator) online(opts Options) bool {
	if !opts.Online {
		return false
	}
	return o.connectivity == nil || o.connectivity.Online()
}

// attempt races the backend write against the timeout. settled is false when
// the timer fired first; the write keeps running and its outcome is logged.
func (o *Orchestrator) attempt(ctx context.Context, payload OrderPayload) (attemptResult, bool) {
	results := make(chan attemptResult, 1)
	writeCtx := context.WithoutCancel(ctx)

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		order, err := o.backend.InsertOrder(writeCtx, payload.Header)
		if err == nil {
			err = o.backend.InsertOrderItems(writeCtx, payload.Items)
		}
		results <- attemptResult{order: order, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()
	select {
	case res := <-results:
		return res, true
	case <-timer.C:
	case <-ctx.Done():
	}

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		res := <-results
		if res.err != nil {
			o.logg.Warn(o.logg.WithField(writeCtx, "error", res.err.Error()), "late order write failed")
			return
		}
		o.logg.Info(writeCtx, "late order write landed; replay will reconcile")
	}()
	return attemptResult{}, false
}

func (o *Orchestrator) confirm(ctx context.Context, payload OrderPayload, order backend.Order, started time.Time) Result {
	confirmed := money.Round(order.TotalAmount)
	o.applyLocal(ctx, payload, confirmed, enums.OrderStatusConfirmed)
	o.snapshots.SyncConfirmedOrderValue(ctx, payload.Header.UserID, payload.Date, payload.Header.RetailerID, order.TotalAmount)
	o.publish(ctx, payload, confirmed, enums.OrderStatusConfirmed)
	o.metrics.Observe(metrics.PathOnline, time.Since(started))
	o.logg.Info(ctx, "order confirmed online")

	stored := order
	return Result{Success: true, OrderID: payload.Header.ID, TotalAmount: confirmed, Order: &stored}
}

func (o *Orchestrator) queueOffline(ctx context.Context, payload OrderPayload, provisional int64, started time.Time) (Result, error) {
	err := o.queue.Enqueue(ctx, enums.SyncOperationSubmitOrder, payload.Header.ID, payload.Header.UserID, payload)
	if err != nil {
		o.metrics.Observe(metrics.PathQueueFailed, time.Since(started))
		o.snapshots.SetOrderStatus(ctx, payload.Header.UserID, payload.Date, payload.Header.ID, enums.OrderStatusSyncFailed)
		o.logg.Error(ctx, "order could not be queued", err)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order could not be saved").
			WithDetails(map[string]any{"orderId": payload.Header.ID})
	}
	o.publish(ctx, payload, provisional, enums.OrderStatusPending)
	o.metrics.Observe(metrics.PathOffline, time.Since(started))
	o.logg.Info(ctx, "order queued for sync")
	return Result{Success: true, Offline: true, OrderID: payload.Header.ID, TotalAmount: provisional}, nil
}

// applyLocal folds the order into the visit status cache and the day snapshot.
func (o *Orchestrator) applyLocal(ctx context.Context, payload OrderPayload, amount int64, status enums.OrderStatus) {
	h := payload.Header
	visitID := ""
	if h.VisitID != nil {
		visitID = *h.VisitID
	}
	o.visitStatus.Set(ctx, visitstatus.Entry{
		VisitID:    visitID,
		RetailerID: h.RetailerID,
		Date:       payload.Date,
		UserID:     h.UserID,
		Status:     enums.VisitStatusProductive,
		OrderValue: amount,
	})
	o.snapshots.AddOrder(ctx, h.UserID, payload.Date, snapshot.OrderInput{
		ID:          h.ID,
		RetailerID:  h.RetailerID,
		UserID:      h.UserID,
		VisitID:     h.VisitID,
		OrderDate:   h.OrderDate,
		TotalAmount: float64(amount),
		Status:      status,
	})
}

func (o *Orchestrator) publish(ctx context.Context, payload OrderPayload, amount int64, status enums.OrderStatus) {
	h := payload.Header
	visitID := ""
	if h.VisitID != nil {
		visitID = *h.VisitID
	}
	o.bus.VisitStatusChanged.Publish(ctx, events.VisitStatusChanged{
		UserID:     h.UserID,
		Date:       payload.Date,
		VisitID:    visitID,
		Status:     enums.VisitStatusProductive,
		RetailerID: h.RetailerID,
		OrderValue: amount,
		Order: &snapshot.Order{
			ID:          h.ID,
			RetailerID:  h.RetailerID,
			UserID:      h.UserID,
			VisitID:     h.VisitID,
			OrderDate:   h.OrderDate,
			TotalAmount: amount,
			Status:      status,
		},
	})
	o.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: h.UserID, Date: payload.Date})
}

// Wait blocks until every background network attempt has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

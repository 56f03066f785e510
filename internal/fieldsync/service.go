// Package fieldsync is the surface the UI shell talks to.
package fieldsync

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/prefetch"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
	"github.com/angelmondragon/fieldsync/pkg/tasks"
)

type submitter interface {
	SubmitOrder(ctx context.Context, in submission.Input, opts submission.Options) (submission.Result, error)
}

type deadLetters interface {
	ListDLQPage(ctx context.Context, userID string, params pagination.Params) (pagination.Page[models.SyncDLQ], error)
	Retry(ctx context.Context, dlqID uuid.UUID, userID string) (*models.SyncOperation, error)
	Pending(ctx context.Context, userID string) (int64, error)
}

// waker is told when queued work appears.
type waker interface {
	Wake()
}

type ServiceParams struct {
	Submitter   submitter
	Snapshots   *snapshot.Store
	VisitStatus *visitstatus.Cache
	Prefetcher  *prefetch.Prefetcher
	DeadLetters deadLetters
	Drain       waker
	Bus         *events.Bus
	Logger      *logger.Logger
}

type Service struct {
	submitter   submitter
	snapshots   *snapshot.Store
	visitStatus *visitstatus.Cache
	prefetcher  *prefetch.Prefetcher
	deadLetters deadLetters
	drain       waker
	bus         *events.Bus
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Submitter == nil {
		return nil, errors.New("submitter required")
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
	return &Service{
		submitter:   params.Submitter,
		snapshots:   params.Snapshots,
		visitStatus: params.VisitStatus,
		prefetcher:  params.Prefetcher,
		deadLetters: params.DeadLetters,
		drain:       params.Drain,
		bus:         bus,
		logg:        logg,
	}, nil
}

func (s *Service) SubmitOrder(ctx context.Context, in submission.Input, opts submission.Options) (submission.Result, error) {
	res, err := s.submitter.SubmitOrder(ctx, in, opts)
	if err == nil && res.Offline && s.drain != nil {
		s.drain.Wake()
	}
	return res, err
}

func (s *Service) LoadSnapshot(ctx context.Context, userID, date string) (*snapshot.Snapshot, bool) {
	return s.snapshots.Load(ctx, userID, date)
}

// UpdateVisitStatus records a visit outcome in the snapshot and the visit
// status cache, keeping any order value already cached for the retailer.
func (s *Service) UpdateVisitStatus(ctx context.Context, userID, date, retailerID string, status enums.VisitStatus, reason *string) error {
	if strings.TrimSpace(retailerID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "retailer id is required")
	}
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid visit status").
			WithDetails(map[string]any{"status": status})
	}

	s.snapshots.UpdateVisitStatus(ctx, userID, date, retailerID, status, reason)

	entry := visitstatus.Entry{RetailerID: retailerID, Date: date, UserID: userID, Status: status}
	if prev, ok := s.visitStatus.ByRetailer(retailerID, date); ok {
		entry.VisitID = prev.VisitID
		entry.OrderValue = prev.OrderValue
	}
	s.visitStatus.Set(ctx, entry)

	s.bus.VisitStatusChanged.Publish(ctx, events.VisitStatusChanged{
		UserID:     userID,
		Date:       date,
		VisitID:    entry.VisitID,
		Status:     status,
		RetailerID: retailerID,
		OrderValue: entry.OrderValue,
	})
	s.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: userID, Date: date})
	return nil
}

func (s *Service) AddRetailerToDay(ctx context.Context, userID, date string, retailer snapshot.Retailer) error {
	if strings.TrimSpace(retailer.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "retailer id is required")
	}
	s.snapshots.AddRetailer(ctx, userID, date, retailer)
	s.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: userID, Date: date})
	return nil
}

func (s *Service) UpsertBeatPlan(ctx context.Context, userID, date string, plan snapshot.BeatPlan) error {
	if strings.TrimSpace(plan.ID) == "" && strings.TrimSpace(plan.BeatID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan id or beat id is required")
	}
	s.snapshots.UpsertBeatPlan(ctx, userID, date, plan)
	s.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: userID, Date: date})
	return nil
}

func (s *Service) ClearDaySnapshot(ctx context.Context, userID, date string) {
	s.snapshots.Clear(ctx, userID, date)
}

func (s *Service) CleanupExpiredSnapshots(ctx context.Context, userID string) int {
	return s.snapshots.CleanupExpired(ctx, userID)
}

func (s *Service) VisitStatus(retailerID, date string) (visitstatus.Entry, bool) {
	return s.visitStatus.ByRetailer(retailerID, date)
}

func (s *Service) VisitStatusByVisit(visitID string) (visitstatus.Entry, bool) {
	return s.visitStatus.ByVisit(visitID)
}

// ResetVisit forgets the optimistic status of one visit.
func (s *Service) ResetVisit(ctx context.Context, visitID string) {
	s.visitStatus.Delete(ctx, visitID)
}

// StartSession restores the cached day for userID and kicks off a prefetch.
// The visit status cache is reset first so a previous user's entries never leak.
func (s *Service) StartSession(ctx context.Context, userID, date string) (*tasks.Run, bool) {
	s.visitStatus.Reset()
	if _, err := s.visitStatus.Hydrate(ctx, userID, date); err != nil {
		s.logg.Warn(s.logg.WithField(s.logg.WithUserID(ctx, userID), "error", err.Error()), "visit status hydrate failed")
	}
	if snap, ok := s.snapshots.Load(ctx, userID, date); ok {
		s.visitStatus.RebuildFromSnapshot(ctx, snap)
	}
	return s.PrefetchDay(ctx, userID, date)
}

// PrefetchDay returns nil when no prefetcher is configured.
func (s *Service) PrefetchDay(ctx context.Context, userID, date string) (*tasks.Run, bool) {
	if s.prefetcher == nil {
		return nil, false
	}
	return s.prefetcher.Start(ctx, userID, date)
}

func (s *Service) ListFailedSyncs(ctx context.Context, userID string, params pagination.Params) (pagination.Page[models.SyncDLQ], error) {
	if s.deadLetters == nil {
		return pagination.Page[models.SyncDLQ]{Items: []models.SyncDLQ{}}, nil
	}
	return s.deadLetters.ListDLQPage(ctx, userID, params)
}

// RetryFailedSync requeues a dead-lettered operation and marks its order pending again.
func (s *Service) RetryFailedSync(ctx context.Context, userID string, dlqID uuid.UUID) (*models.SyncOperation, error) {
	if s.deadLetters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
	}
	op, err := s.deadLetters.Retry(ctx, dlqID, userID)
	if err != nil {
		return nil, err
	}
	if date, ok := s.orderDate(ctx, userID, op.IdempotencyKey); ok {
		s.snapshots.SetOrderStatus(ctx, userID, date, op.IdempotencyKey, enums.OrderStatusPending)
	}
	if s.drain != nil {
		s.drain.Wake()
	}
	return op, nil
}

func (s *Service) PendingSyncs(ctx context.Context, userID string) (int64, error) {
	if s.deadLetters == nil {
		return 0, nil
	}
	return s.deadLetters.Pending(ctx, userID)
}

// orderDate finds the cached day holding orderID.
func (s *Service) orderDate(ctx context.Context, userID, orderID string) (string, bool) {
	for _, date := range s.snapshots.Dates(ctx, userID) {
		snap, ok := s.snapshots.Load(ctx, userID, date)
		if !ok {
			continue
		}
		for _, o := range snap.Orders {
			if o.ID == orderID {
				return date, true
			}
		}
	}
	return "", false
}

// Events exposes the topics for subscribers such as the event stream.
func (s *Service) Events() *events.Bus {
	return s.bus
}

// Package prefetch loads a rep's day from the backend into the local caches.
package prefetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/fieldsync/internal/backend"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/money"
	"github.com/angelmondragon/fieldsync/pkg/tasks"
)

type Params struct {
	Backend     backend.Service
	Snapshots   *snapshot.Store
	VisitStatus *visitstatus.Cache
	Bus         *events.Bus
	Logger      *logger.Logger
}

// Prefetcher runs at most one fetch at a time; overlapping triggers join the
// fetch already in flight.
type Prefetcher struct {
	backend     backend.Service
	snapshots   *snapshot.Store
	visitStatus *visitstatus.Cache
	bus         *events.Bus
	logg        *logger.Logger
	slot        *tasks.Slot
}

func New(params Params) (*Prefetcher, error) {
	if params.Backend == nil {
		return nil, errors.New("backend service required")
	}
	if params.Snapshots == nil {
		return nil, errors.New("snapshot store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Prefetcher{
		backend:     params.Backend,
		snapshots:   params.Snapshots,
		visitStatus: params.VisitStatus,
		bus:         params.Bus,
		logg:        logg,
		slot:        tasks.NewSlot(),
	}, nil
}

// Start begins fetching the day unless a fetch is already running, in which
// case that run is returned with started=false.
func (p *Prefetcher) Start(ctx context.Context, userID, date string) (*tasks.Run, bool) {
	return p.slot.StartIfNotRunning(ctx, func(ctx context.Context) error {
		return p.fetch(ctx, userID, date)
	})
}

// Current returns the fetch in flight, if any.
func (p *Prefetcher) Current() *tasks.Run {
	return p.slot.Current()
}

func (p *Prefetcher) fetch(ctx context.Context, userID, date string) error {
	ctx = p.logg.WithFields(ctx, map[string]any{"user_id": userID, "date": date})
	day, err := p.backend.FetchDay(ctx, userID, date)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "day prefetch failed")
		return fmt.Errorf("fetch day %s: %w", date, err)
	}

	snap := fromDay(userID, date, day)
	if cached, ok := p.snapshots.Load(ctx, userID, date); ok {
		keepUnsynced(snap, cached)
	}
	snap.Recompute()
	p.snapshots.Save(ctx, userID, date, *snap)

	if p.visitStatus != nil {
		p.visitStatus.RebuildFromSnapshot(ctx, snap)
	}
	if p.bus != nil {
		p.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: userID, Date: date})
	}
	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"visits":    len(snap.Visits),
		"retailers": len(snap.Retailers),
		"orders":    len(snap.Orders),
	}), "day prefetched")
	return nil
}

// fromDay keeps only visits that belong to userID; the store rejects a day
// that carries anyone else's.
func fromDay(userID, date string, day backend.DayData) *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		OwnerUserID: userID,
		Date:        date,
		BeatPlans:   make([]snapshot.BeatPlan, 0, len(day.BeatPlans)),
		Visits:      make([]snapshot.Visit, 0, len(day.Visits)),
		Retailers:   make([]snapshot.Retailer, 0, len(day.Retailers)),
		Orders:      make([]snapshot.Order, 0, len(day.Orders)),
	}
	for _, bp := range day.BeatPlans {
		snap.BeatPlans = append(snap.BeatPlans, snapshot.BeatPlan{ID: bp.ID, BeatID: bp.BeatID, BeatName: bp.BeatName})
	}
	for _, v := range day.Visits {
		if v.UserID != userID {
			continue
		}
		snap.Visits = append(snap.Visits, snapshot.Visit{
			ID:            v.ID,
			RetailerID:    v.RetailerID,
			UserID:        v.UserID,
			Status:        v.Status,
			NoOrderReason: v.NoOrderReason,
			CheckInAt:     v.CheckInAt,
			CheckOutAt:    v.CheckOutAt,
		})
	}
	seen := make(map[string]struct{}, len(day.Retailers))
	for _, r := range day.Retailers {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		snap.Retailers = append(snap.Retailers, snapshot.Retailer{ID: r.ID, Name: r.Name, Phone: r.Phone, Address: r.Address})
	}
	for _, o := range day.Orders {
		snap.Orders = append(snap.Orders, snapshot.Order{
			ID:          o.ID,
			RetailerID:  o.RetailerID,
			UserID:      o.UserID,
			VisitID:     o.VisitID,
			OrderDate:   o.OrderDate,
			TotalAmount: money.Round(o.TotalAmount),
			Status:      enums.OrderStatusConfirmed,
		})
	}
	return snap
}

// keepUnsynced carries over cached orders the backend has not seen yet, and
// marks their retailers productive.
func keepUnsynced(fresh, cached *snapshot.Snapshot) {
	known := make(map[string]struct{}, len(fresh.Orders))
	for _, o := range fresh.Orders {
		known[o.ID] = struct{}{}
		known[o.RetailerID+"|"+o.OrderDate] = struct{}{}
	}
	for _, o := range cached.Orders {
		if o.Status == enums.OrderStatusConfirmed {
			continue
		}
		if _, ok := known[o.ID]; ok {
			continue
		}
		if _, ok := known[o.RetailerID+"|"+o.OrderDate]; ok {
			continue
		}
		fresh.Orders = append(fresh.Orders, o)
		for i := range fresh.Visits {
			if fresh.Visits[i].RetailerID == o.RetailerID {
				fresh.Visits[i].Status = enums.VisitStatusProductive
			}
		}
	}
}

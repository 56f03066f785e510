package syncdrain

import (
	"context"
	"errors"

	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/money"
)

// Reconciler folds server-confirmed order values back into the local caches.
type Reconciler struct {
	snapshots   *snapshot.Store
	visitStatus *visitstatus.Cache
	bus         *events.Bus
}

func NewReconciler(snapshots *snapshot.Store, visitStatus *visitstatus.Cache, bus *events.Bus) (*Reconciler, error) {
	if snapshots == nil {
		return nil, errors.New("snapshot store required")
	}
	return &Reconciler{snapshots: snapshots, visitStatus: visitStatus, bus: bus}, nil
}

// Confirm overwrites the provisional total of a queued order with the
// authoritative one. Visit outcomes and counters are left alone.
func (r *Reconciler) Confirm(ctx context.Context, payload submission.OrderPayload, confirmedTotal float64) {
	h := payload.Header
	r.snapshots.SyncConfirmedOrderValue(ctx, h.UserID, payload.Date, h.RetailerID, confirmedTotal)
	r.snapshots.SetOrderStatus(ctx, h.UserID, payload.Date, h.ID, enums.OrderStatusConfirmed)
	if r.visitStatus != nil {
		r.visitStatus.SetOrderValue(ctx, h.RetailerID, payload.Date, money.Round(confirmedTotal))
	}
	if r.bus != nil {
		r.bus.VisitDataChanged.Publish(ctx, events.VisitDataChanged{UserID: h.UserID, Date: payload.Date})
	}
}

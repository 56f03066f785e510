package fieldsync

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
)

const day = "2024-05-01"

type stubSubmitter struct {
	result submission.Result
	err    error
}

func (s *stubSubmitter) SubmitOrder(context.Context, submission.Input, submission.Options) (submission.Result, error) {
	return s.result, s.err
}

type stubDeadLetters struct {
	op      *models.SyncOperation
	retried []uuid.UUID
}

func (s *stubDeadLetters) ListDLQPage(context.Context, string, pagination.Params) (pagination.Page[models.SyncDLQ], error) {
	return pagination.Page[models.SyncDLQ]{Items: []models.SyncDLQ{{ID: uuid.New()}}}, nil
}

func (s *stubDeadLetters) Retry(_ context.Context, id uuid.UUID, _ string) (*models.SyncOperation, error) {
	s.retried = append(s.retried, id)
	return s.op, nil
}

func (s *stubDeadLetters) Pending(context.Context, string) (int64, error) { return 3, nil }

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func newService(t *testing.T, sub *stubSubmitter, dl *stubDeadLetters, w *countingWaker) (*Service, *snapshot.Store, *visitstatus.Cache, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	store, err := snapshot.NewStore(snapshot.StoreParams{KV: kv})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cache := visitstatus.New(kv, nil)
	params := ServiceParams{Submitter: sub, Snapshots: store, VisitStatus: cache}
	if dl != nil {
		params.DeadLetters = dl
	}
	if w != nil {
		params.Drain = w
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store, cache, kv
}

func TestSubmitOrderWakesDrainWhenOffline(t *testing.T) {
	w := &countingWaker{}
	svc, _, _, _ := newService(t, &stubSubmitter{result: submission.Result{Success: true, Offline: true}}, nil, w)
	if _, err := svc.SubmitOrder(context.Background(), submission.Input{}, submission.Options{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if w.n != 1 {
		t.Fatalf("expected drain woken once, got %d", w.n)
	}
}

func TestUpdateVisitStatusKeepsOrderValue(t *testing.T) {
	svc, store, cache, _ := newService(t, &stubSubmitter{}, nil, nil)
	ctx := context.Background()
	cache.Set(ctx, visitstatus.Entry{VisitID: "v1", RetailerID: "r1", Date: day, UserID: "u1", Status: enums.VisitStatusProductive, OrderValue: 900})
	var got []events.VisitStatusChanged
	svc.Events().VisitStatusChanged.Subscribe(func(_ context.Context, e events.VisitStatusChanged) { got = append(got, e) })

	reason := "owner away"
	if err := svc.UpdateVisitStatus(ctx, "u1", day, "r1", enums.VisitStatusUnproductive, &reason); err != nil {
		t.Fatalf("update: %v", err)
	}
	entry, _ := svc.VisitStatus("r1", day)
	if entry.Status != enums.VisitStatusUnproductive || entry.OrderValue != 900 || entry.VisitID != "v1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	snap, ok := store.Load(ctx, "u1", day)
	if !ok || snap.ProgressStats.Unproductive != 1 {
		t.Fatalf("snapshot not updated: %+v", snap)
	}
	if len(got) != 1 || got[0].Status != enums.VisitStatusUnproductive {
		t.Fatalf("expected one status event, got %+v", got)
	}

	if err := svc.UpdateVisitStatus(ctx, "u1", day, "r1", enums.VisitStatus("lost"), nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartSessionRestoresCachedDay(t *testing.T) {
	svc, store, cache, _ := newService(t, &stubSubmitter{}, nil, nil)
	ctx := context.Background()
	cache.Set(ctx, visitstatus.Entry{VisitID: "other", RetailerID: "r9", Date: day, UserID: "u2"})
	store.AddOrder(ctx, "u1", day, snapshot.OrderInput{ID: "o1", RetailerID: "r1", TotalAmount: 450})

	run, started := svc.StartSession(ctx, "u1", day)
	if run != nil || started {
		t.Fatal("no prefetcher configured")
	}
	if _, ok := svc.VisitStatusByVisit("other"); ok {
		t.Fatal("previous user's entries must be dropped")
	}
	if e, ok := svc.VisitStatus("r1", day); !ok || e.OrderValue != 450 {
		t.Fatalf("expected entry rebuilt from the snapshot, got %+v", e)
	}
}

func TestRetryFailedSyncMarksOrderPending(t *testing.T) {
	dl := &stubDeadLetters{op: &models.SyncOperation{IdempotencyKey: "o1"}}
	w := &countingWaker{}
	svc, store, _, _ := newService(t, &stubSubmitter{}, dl, w)
	ctx := context.Background()
	store.AddOrder(ctx, "u1", day, snapshot.OrderInput{ID: "o1", RetailerID: "r1", TotalAmount: 10})
	store.SetOrderStatus(ctx, "u1", day, "o1", enums.OrderStatusSyncFailed)

	id := uuid.New()
	if _, err := svc.RetryFailedSync(ctx, "u1", id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap, _ := store.Load(ctx, "u1", day)
	if snap.Orders[0].Status != enums.OrderStatusPending {
		t.Fatalf("expected pending again, got %q", snap.Orders[0].Status)
	}
	if len(dl.retried) != 1 || dl.retried[0] != id || w.n != 1 {
		t.Fatalf("expected one retry and wake, got %v %d", dl.retried, w.n)
	}
	if n, _ := svc.PendingSyncs(ctx, "u1"); n != 3 {
		t.Fatalf("unexpected pending count %d", n)
	}
}

func TestValidationOnDayMutations(t *testing.T) {
	svc, _, _, _ := newService(t, &stubSubmitter{}, nil, nil)
	ctx := context.Background()
	if err := svc.AddRetailerToDay(ctx, "u1", day, snapshot.Retailer{}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.UpsertBeatPlan(ctx, "u1", day, snapshot.BeatPlan{BeatName: "x"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.RetryFailedSync(ctx, "u1", uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found without a queue, got %v", err)
	}
}

func TestListFailedSyncsWithoutQueue(t *testing.T) {
	svc, _, _, _ := newService(t, &stubSubmitter{}, nil, nil)
	page, err := svc.ListFailedSyncs(context.Background(), "u1", pagination.Params{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 {
		t.Fatalf("expected empty non-nil page, got %+v", page)
	}
}

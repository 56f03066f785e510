package prefetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/fieldsync/internal/backend"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
)

const day = "2024-05-01"

type stubBackend struct {
	backend.Service
	day     backend.DayData
	err     error
	release chan struct{}
	calls   int
}

func (s *stubBackend) FetchDay(ctx context.Context, userID, date string) (backend.DayData, error) {
	s.calls++
	if s.release != nil {
		<-s.release
	}
	return s.day, s.err
}

func newPrefetcher(t *testing.T, be *stubBackend) (*Prefetcher, *snapshot.Store, *visitstatus.Cache, *events.Bus) {
	t.Helper()
	store, err := snapshot.NewStore(snapshot.StoreParams{KV: kvstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cache := visitstatus.New(nil, nil)
	bus := events.NewBus(nil)
	p, err := New(Params{Backend: be, Snapshots: store, VisitStatus: cache, Bus: bus})
	if err != nil {
		t.Fatalf("prefetcher: %v", err)
	}
	return p, store, cache, bus
}

func waitRun(t *testing.T, p *Prefetcher, userID string) error {
	t.Helper()
	run, _ := p.Start(context.Background(), userID, day)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return run.Wait(ctx)
}

func TestPrefetchSavesDay(t *testing.T) {
	be := &stubBackend{day: backend.DayData{
		BeatPlans: []backend.BeatPlan{{ID: "bp1", BeatID: "b1", BeatName: "North"}},
		Visits: []backend.Visit{
			{ID: "v1", UserID: "u1", RetailerID: "r1", Status: enums.VisitStatusProductive},
			{ID: "v9", UserID: "someone-else", RetailerID: "r2", Status: enums.VisitStatusProductive},
		},
		Retailers: []backend.Retailer{{ID: "r1", Name: "Alpha"}, {ID: "r2", Name: "Beta"}, {ID: "r2", Name: "Beta"}},
		Orders:    []backend.Order{{ID: "o1", RetailerID: "r1", UserID: "u1", OrderDate: day, TotalAmount: 1234.5}},
	}}
	p, store, cache, bus := newPrefetcher(t, be)
	notified := 0
	bus.VisitDataChanged.Subscribe(func(context.Context, events.VisitDataChanged) { notified++ })

	if err := waitRun(t, p, "u1"); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	snap, ok := store.Load(context.Background(), "u1", day)
	if !ok {
		t.Fatal("prefetched snapshot should load")
	}
	if len(snap.Visits) != 1 || len(snap.Retailers) != 2 {
		t.Fatalf("unexpected day %+v", snap)
	}
	want := snapshot.ProgressStats{Planned: 1, Productive: 1, TotalOrders: 1, TotalOrderValue: 1235}
	if snap.ProgressStats != want {
		t.Fatalf("expected %+v, got %+v", want, snap.ProgressStats)
	}
	if snap.CurrentBeatLabel != "North" {
		t.Fatalf("unexpected label %q", snap.CurrentBeatLabel)
	}
	if e, ok := cache.ByVisit("v1"); !ok || e.OrderValue != 1235 {
		t.Fatalf("visit status not rebuilt: %+v", e)
	}
	if notified != 1 {
		t.Fatalf("expected one data change, got %d", notified)
	}
	if p.Current() != nil {
		t.Fatal("slot should be idle after the run")
	}
}

func TestPrefetchKeepsUnsyncedOrders(t *testing.T) {
	be := &stubBackend{day: backend.DayData{
		Visits:    []backend.Visit{{ID: "v2", UserID: "u1", RetailerID: "r2", Status: enums.VisitStatusPlanned}},
		Retailers: []backend.Retailer{{ID: "r2", Name: "Beta"}},
	}}
	p, store, _, _ := newPrefetcher(t, be)
	store.AddOrder(context.Background(), "u1", day, snapshot.OrderInput{ID: "local-1", RetailerID: "r2", TotalAmount: 300})

	if err := waitRun(t, p, "u1"); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	snap, _ := store.Load(context.Background(), "u1", day)
	if len(snap.Orders) != 1 || snap.Orders[0].ID != "local-1" {
		t.Fatalf("queued order should survive prefetch, got %+v", snap.Orders)
	}
	if snap.Visits[0].Status != enums.VisitStatusProductive || snap.ProgressStats.Productive != 1 || snap.ProgressStats.Planned != 0 {
		t.Fatalf("unexpected day %+v", snap)
	}
}

func TestPrefetchCoalescesOverlappingTriggers(t *testing.T) {
	be := &stubBackend{release: make(chan struct{})}
	p, _, _, _ := newPrefetcher(t, be)

	first, started := p.Start(context.Background(), "u1", day)
	if !started {
		t.Fatal("first trigger should start")
	}
	second, started := p.Start(context.Background(), "u1", day)
	if started || second != first {
		t.Fatal("second trigger should join the running fetch")
	}
	close(be.release)
	if err := first.Wait(context.Background()); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if be.calls != 1 {
		t.Fatalf("expected one backend fetch, got %d", be.calls)
	}
}

func TestPrefetchFailureKeepsCache(t *testing.T) {
	be := &stubBackend{err: errors.New("offline")}
	p, store, _, _ := newPrefetcher(t, be)
	store.AddRetailer(context.Background(), "u1", day, snapshot.Retailer{ID: "r1"})

	if err := waitRun(t, p, "u1"); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, ok := store.Load(context.Background(), "u1", day); !ok {
		t.Fatal("cached day must survive a failed prefetch")
	}
}

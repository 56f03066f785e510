// Package snapshot caches each rep's day on the device so it survives
// restarts and connectivity loss.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/metrics"
	"github.com/angelmondragon/fieldsync/pkg/money"
)

const (
	keyPrefix  = "snapshot:"
	DefaultTTL = 7 * 24 * time.Hour
)

// Key returns the storage key of a user's day.
func Key(userID, date string) string {
	return keyPrefix + userID + ":" + date
}

// UserPrefix returns the key prefix shared by every day of userID.
func UserPrefix(userID string) string {
	return keyPrefix + userID + ":"
}

// ParseKey splits a snapshot key. The date is the last segment.
func ParseKey(key string) (userID, date string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

type StoreParams struct {
	KV      kvstore.Store
	Logger  *logger.Logger
	Metrics *metrics.SnapshotMetrics
	TTL     time.Duration
	Now     func() time.Time
}

// Store reads and patches day snapshots. Storage failures are logged and
// surface as absent data or skipped writes.
type Store struct {
	kv      kvstore.Store
	logg    *logger.Logger
	metrics *metrics.SnapshotMetrics
	ttl     time.Duration
	now     func() time.Time

	// mu serializes read-patch-write cycles.
	mu sync.Mutex
}

func NewStore(params StoreParams) (*Store, error) {
	if params.KV == nil {
		return nil, fmt.Errorf("kv store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{kv: params.KV, logg: logg, metrics: params.Metrics, ttl: ttl, now: now}, nil
}

// Save overwrites the user's day with data, stamped with the current time.
func (s *Store) Save(ctx context.Context, userID, date string, data Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data.OwnerUserID = userID
	data.Date = date
	s.write(ctx, &data)
}

// Load returns the user's day if it passes every integrity gate. A failed
// gate deletes the stored entry.
func (s *Store) Load(ctx context.Context, userID, date string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, state := s.load(ctx, userID, date)
	return snap, state == statePresent
}

type loadState int

const (
	stateAbsent loadState = iota
	statePresent
	// stateReadFailed means the stored day may still exist and must not be overwritten.
	stateReadFailed
)

func (s *Store) load(ctx context.Context, userID, date string) (*Snapshot, loadState) {
	key := Key(userID, date)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, stateAbsent
		}
		s.logg.Error(s.logg.WithSnapshotKey(ctx, key), "snapshot read failed", err)
		return nil, stateReadFailed
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.evict(ctx, key, ReasonMalformed)
		return nil, stateAbsent
	}
	if snap.OwnerUserID != userID {
		s.evict(ctx, key, ReasonOwnerMismatch)
		return nil, stateAbsent
	}
	for _, v := range snap.Visits {
		if v.UserID != userID {
			s.evict(ctx, key, ReasonVisitUserMismatch)
			return nil, stateAbsent
		}
	}
	if s.expired(snap) {
		s.evict(ctx, key, ReasonExpired)
		return nil, stateAbsent
	}
	return &snap, statePresent
}

func (s *Store) expired(snap Snapshot) bool {
	return s.now().Sub(snap.CapturedAt) >= s.ttl
}

// loadOrEmpty starts an empty day only when nothing usable is stored. A nil
// snapshot means the read failed and the mutation must be skipped.
func (s *Store) loadOrEmpty(ctx context.Context, userID, date string) (*Snapshot, bool) {
	snap, state := s.load(ctx, userID, date)
	switch state {
	case statePresent:
		return snap, true
	case stateReadFailed:
		return nil, false
	}
	return &Snapshot{
		OwnerUserID: userID,
		Date:        date,
		BeatPlans:   []BeatPlan{},
		Visits:      []Visit{},
		Retailers:   []Retailer{},
		Orders:      []Order{},
	}, false
}

func (s *Store) write(ctx context.Context, snap *Snapshot) {
	snap.CapturedAt = s.now().UTC()
	key := Key(snap.OwnerUserID, snap.Date)
	body, err := json.Marshal(snap)
	if err != nil {
		s.logg.Error(s.logg.WithSnapshotKey(ctx, key), "snapshot encode failed", err)
		return
	}
	if err := s.kv.Set(ctx, key, string(body)); err != nil {
		s.logg.Error(s.logg.WithSnapshotKey(ctx, key), "snapshot write failed", err)
	}
}

func (s *Store) evict(ctx context.Context, key, reason string) {
	logCtx := s.logg.WithFields(ctx, map[string]any{"snapshot_key": key, "reason": reason})
	s.logg.Warn(logCtx, "snapshot evicted")
	s.metrics.IncEviction(reason)
	if err := s.kv.Remove(ctx, key); err != nil {
		s.logg.Error(logCtx, "snapshot evict failed", err)
	}
}

// UpdateVisitStatus records the outcome of the retailer's visit, moving the
// progress counters from the previous state to the new one.
func (s *Store) UpdateVisitStatus(ctx context.Context, userID, date, retailerID string, status enums.VisitStatus, reason *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.loadOrEmpty(ctx, userID, date)
	if snap == nil {
		return
	}
	s.applyVisitStatus(snap, userID, retailerID, "", status, reason)
	s.write(ctx, snap)
}

func (s *Store) applyVisitStatus(snap *Snapshot, userID, retailerID, visitID string, status enums.VisitStatus, reason *string) {
	prev := snap.currentStatus(retailerID)
	now := s.now().UTC()
	if i := snap.visitIndex(retailerID); i >= 0 {
		snap.Visits[i].Status = status
		snap.Visits[i].UpdatedAt = now
		if reason != nil || status != enums.VisitStatusUnproductive {
			snap.Visits[i].NoOrderReason = reason
		}
		if snap.Visits[i].ID == "" {
			snap.Visits[i].ID = visitID
		}
	} else {
		snap.Visits = append(snap.Visits, Visit{
			ID:            visitID,
			RetailerID:    retailerID,
			UserID:        userID,
			Status:        status,
			NoOrderReason: reason,
			UpdatedAt:     now,
		})
	}
	snap.ProgressStats.move(prev, status)
	snap.setRetailerStatus(retailerID, status)
}

// AddOrder folds an order into the day: replaced by id, else by retailer and
// order date, else appended. Amounts are rounded to whole units.
func (s *Store) AddOrder(ctx context.Context, userID, date string, in OrderInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.loadOrEmpty(ctx, userID, date)
	if snap == nil {
		return
	}

	order := Order{
		ID:          in.ID,
		RetailerID:  in.RetailerID,
		UserID:      in.UserID,
		VisitID:     in.VisitID,
		OrderDate:   in.OrderDate,
		TotalAmount: money.Round(in.TotalAmount),
		Status:      in.Status,
	}
	if order.UserID == "" {
		order.UserID = userID
	}
	if order.OrderDate == "" {
		order.OrderDate = date
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusPending
	}

	idx := -1
	for i, o := range snap.Orders {
		if o.ID == order.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, o := range snap.Orders {
			if o.RetailerID == order.RetailerID && o.OrderDate == order.OrderDate {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		snap.Orders[idx] = order
	} else {
		snap.Orders = append(snap.Orders, order)
	}

	visitID := ""
	if order.VisitID != nil {
		visitID = *order.VisitID
	}
	if snap.currentStatus(order.RetailerID) != enums.VisitStatusProductive {
		s.applyVisitStatus(snap, userID, order.RetailerID, visitID, enums.VisitStatusProductive, nil)
	}
	snap.recomputeOrderStats()
	s.write(ctx, snap)
}

// SyncConfirmedOrderValue overwrites the amount of the retailer's order dated
// date with the server-confirmed value. Only the order value total is recomputed.
func (s *Store) SyncConfirmedOrderValue(ctx context.Context, userID, date, retailerID string, confirmedAmount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, state := s.load(ctx, userID, date)
	if state != statePresent {
		return
	}
	amount := money.Round(confirmedAmount)
	matched := false
	for i := range snap.Orders {
		if snap.Orders[i].RetailerID == retailerID && snap.Orders[i].OrderDate == date {
			snap.Orders[i].TotalAmount = amount
			matched = true
		}
	}
	if !matched {
		s.logg.Debug(s.logg.WithRetailerID(ctx, retailerID), "no cached order to reconcile")
		return
	}
	snap.recomputeOrderValue()
	s.write(ctx, snap)
}

// SetOrderStatus marks the cached order with orderID. Missing days or orders are ignored.
func (s *Store) SetOrderStatus(ctx context.Context, userID, date, orderID string, status enums.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, state := s.load(ctx, userID, date)
	if state != statePresent {
		return
	}
	for i := range snap.Orders {
		if snap.Orders[i].ID == orderID {
			if snap.Orders[i].Status == status {
				return
			}
			snap.Orders[i].Status = status
			s.write(ctx, snap)
			return
		}
	}
}

// AddRetailer appends the retailer once. Creating the day this way seeds
// one planned visit.
func (s *Store) AddRetailer(ctx context.Context, userID, date string, retailer Retailer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, existed := s.loadOrEmpty(ctx, userID, date)
	if snap == nil {
		return
	}
	if snap.retailerIndex(retailer.ID) >= 0 {
		return
	}
	if retailer.Status == "" {
		retailer.Status = enums.VisitStatusPlanned
	}
	snap.Retailers = append(snap.Retailers, retailer)
	if !existed {
		snap.ProgressStats.Planned = 1
	}
	s.write(ctx, snap)
}

// UpsertBeatPlan replaces the plan with the same id or beat id, else appends it.
func (s *Store) UpsertBeatPlan(ctx context.Context, userID, date string, plan BeatPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.loadOrEmpty(ctx, userID, date)
	if snap == nil {
		return
	}
	idx := -1
	for i, p := range snap.BeatPlans {
		if (plan.ID != "" && p.ID == plan.ID) || (plan.BeatID != "" && p.BeatID == plan.BeatID) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		snap.BeatPlans[idx] = plan
	} else {
		snap.BeatPlans = append(snap.BeatPlans, plan)
	}
	snap.recomputeBeatLabel()
	s.write(ctx, snap)
}

// Clear drops the user's day unconditionally.
func (s *Store) Clear(ctx context.Context, userID, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(userID, date)
	if err := s.kv.Remove(ctx, key); err != nil {
		s.logg.Error(s.logg.WithSnapshotKey(ctx, key), "snapshot clear failed", err)
	}
}

// CleanupExpired removes the user's days that are expired or unreadable and
// returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.kv.ListKeys(ctx, UserPrefix(userID))
	if err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, userID), "snapshot key listing failed", err)
		return 0
	}

	removed := 0
	var errs error
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, kvstore.ErrNotFound) {
				errs = multierr.Append(errs, fmt.Errorf("read %s: %w", key, err))
			}
			continue
		}
		reason := ""
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			reason = ReasonMalformed
		} else if s.expired(snap) {
			reason = ReasonExpired
		}
		if reason == "" {
			continue
		}
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		s.metrics.IncEviction(reason)
		removed++
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"user_id": userID, "removed": removed})
	if errs != nil {
		s.logg.Error(logCtx, "snapshot cleanup incomplete", errs)
	} else if removed > 0 {
		s.logg.Info(logCtx, "expired snapshots removed")
	}
	return removed
}

// Users lists every user that has at least one stored day.
func (s *Store) Users(ctx context.Context) []string {
	keys, err := s.kv.ListKeys(ctx, keyPrefix)
	if err != nil {
		s.logg.Error(ctx, "snapshot key listing failed", err)
		return nil
	}
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, key := range keys {
		userID, _, ok := ParseKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	return users
}

// Dates lists the stored days of userID, newest first.
func (s *Store) Dates(ctx context.Context, userID string) []string {
	keys, err := s.kv.ListKeys(ctx, UserPrefix(userID))
	if err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, userID), "snapshot key listing failed", err)
		return nil
	}
	dates := make([]string, 0, len(keys))
	for _, key := range keys {
		if owner, date, ok := ParseKey(key); ok && owner == userID {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

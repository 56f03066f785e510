// Package visitstatus holds the optimistic per-visit outcome shown by the UI
// before the backend confirms it.
package visitstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/kvstore"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

const keyPrefix = "visit_status:"

// Entry is not authoritative; the snapshot and the backend are.
type Entry struct {
	VisitID    string            `json:"visitId,omitempty"`
	RetailerID string            `json:"retailerId"`
	Date       string            `json:"date"`
	UserID     string            `json:"userId"`
	Status     enums.VisitStatus `json:"status"`
	OrderValue int64             `json:"orderValue"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type retailerKey struct {
	retailerID string
	date       string
}

// Key returns the KV key an entry is written through to.
func Key(userID, date, retailerID string) string {
	return keyPrefix + userID + ":" + date + ":" + retailerID
}

func dayPrefix(userID, date string) string {
	return keyPrefix + userID + ":" + date + ":"
}

// Cache is safe for concurrent readers. kv may be nil for a purely in-memory cache.
type Cache struct {
	kv   kvstore.Store
	logg *logger.Logger
	now  func() time.Time

	mu         sync.RWMutex
	byVisit    map[string]Entry
	byRetailer map[retailerKey]Entry
}

func New(kv kvstore.Store, logg *logger.Logger) *Cache {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Cache{
		kv:         kv,
		logg:       logg,
		now:        time.Now,
		byVisit:    make(map[string]Entry),
		byRetailer: make(map[retailerKey]Entry),
	}
}

// Set stores the entry in memory and writes it through to the KV store.
func (c *Cache) Set(ctx context.Context, entry Entry) {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = c.now().UTC()
	}
	c.mu.Lock()
	c.put(entry)
	c.mu.Unlock()
	c.persist(ctx, entry)
}

func (c *Cache) put(entry Entry) {
	rk := retailerKey{entry.RetailerID, entry.Date}
	if prev, ok := c.byRetailer[rk]; ok && prev.VisitID != "" && prev.VisitID != entry.VisitID {
		delete(c.byVisit, prev.VisitID)
	}
	c.byRetailer[rk] = entry
	if entry.VisitID != "" {
		c.byVisit[entry.VisitID] = entry
	}
}

func (c *Cache) persist(ctx context.Context, entry Entry) {
	if c.kv == nil || entry.UserID == "" {
		return
	}
	key := Key(entry.UserID, entry.Date, entry.RetailerID)
	body, err := json.Marshal(entry)
	if err != nil {
		c.logg.Error(c.logg.WithField(ctx, "kv_key", key), "visit status encode failed", err)
		return
	}
	if err := c.kv.Set(ctx, key, string(body)); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "kv_key", key), "visit status write-through failed")
	}
}

func (c *Cache) ByVisit(visitID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byVisit[visitID]
	return e, ok
}

func (c *Cache) ByRetailer(retailerID, date string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byRetailer[retailerKey{retailerID, date}]
	return e, ok
}

// SetOrderValue updates the order value of an existing retailer entry only.
func (c *Cache) SetOrderValue(ctx context.Context, retailerID, date string, value int64) bool {
	c.mu.Lock()
	entry, ok := c.byRetailer[retailerKey{retailerID, date}]
	if ok {
		entry.OrderValue = value
		entry.UpdatedAt = c.now().UTC()
		c.put(entry)
	}
	c.mu.Unlock()
	if ok {
		c.persist(ctx, entry)
	}
	return ok
}

// Delete resets one visit, in memory and in the KV store.
func (c *Cache) Delete(ctx context.Context, visitID string) {
	c.mu.Lock()
	entry, ok := c.byVisit[visitID]
	if ok {
		delete(c.byVisit, visitID)
		delete(c.byRetailer, retailerKey{entry.RetailerID, entry.Date})
	}
	c.mu.Unlock()
	if !ok || c.kv == nil || entry.UserID == "" {
		return
	}
	key := Key(entry.UserID, entry.Date, entry.RetailerID)
	if err := c.kv.Remove(ctx, key); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "kv_key", key), "visit status delete failed")
	}
}

// Reset drops every in-memory entry. Persisted entries are kept for Hydrate.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byVisit = make(map[string]Entry)
	c.byRetailer = make(map[retailerKey]Entry)
}

// Len reports how many retailer entries are held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byRetailer)
}

// Hydrate reloads the user's persisted entries for date and returns how many were loaded.
func (c *Cache) Hydrate(ctx context.Context, userID, date string) (int, error) {
	if c.kv == nil {
		return 0, nil
	}
	keys, err := c.kv.ListKeys(ctx, dayPrefix(userID, date))
	if err != nil {
		return 0, fmt.Errorf("list visit status keys: %w", err)
	}
	loaded := make([]Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := c.kv.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, kvstore.ErrNotFound) {
				c.logg.Warn(c.logg.WithField(ctx, "kv_key", key), "visit status read failed")
			}
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.UserID != userID {
			keyCtx := c.logg.WithField(ctx, "kv_key", key)
			c.logg.Warn(keyCtx, "dropping unreadable visit status")
			if err := c.kv.Remove(ctx, key); err != nil {
				c.logg.Warn(c.logg.WithField(keyCtx, "error", err.Error()), "visit status delete failed")
			}
			continue
		}
		loaded = append(loaded, entry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range loaded {
		c.put(entry)
	}
	return len(loaded), nil
}

// RebuildFromSnapshot replaces the day's entries with the snapshot's visits,
// carrying each retailer's order value.
func (c *Cache) RebuildFromSnapshot(ctx context.Context, snap *snapshot.Snapshot) int {
	if snap == nil {
		return 0
	}
	values := make(map[string]int64, len(snap.Orders))
	for _, o := range snap.Orders {
		values[o.RetailerID] = o.TotalAmount
	}
	now := c.now().UTC()
	entries := make([]Entry, 0, len(snap.Visits))
	for _, v := range snap.Visits {
		updated := v.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		entries = append(entries, Entry{
			VisitID:    v.ID,
			RetailerID: v.RetailerID,
			Date:       snap.Date,
			UserID:     snap.OwnerUserID,
			Status:     v.Status,
			OrderValue: values[v.RetailerID],
			UpdatedAt:  updated,
		})
	}

	c.mu.Lock()
	for rk, e := range c.byRetailer {
		if rk.date == snap.Date {
			delete(c.byRetailer, rk)
			if e.VisitID != "" {
				delete(c.byVisit, e.VisitID)
			}
		}
	}
	for _, e := range entries {
		c.put(e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		c.persist(ctx, e)
	}
	return len(entries)
}

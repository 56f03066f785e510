// Package idempotency remembers which queued operations have already been replayed.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/redis"
)

// Manager marks processed idempotency keys per consumer with SETNX and a TTL.
// Keys follow the `fs:idempotency:op:processed:<consumer>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether key was already processed by consumer
// and marks it otherwise.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	storeKey, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, storeKey, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete forgets key so a later replay is processed again.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	storeKey, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, storeKey)
}

func (m *Manager) processedKey(consumer, key string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("idempotency key is required")
	}
	return m.store.IdempotencyKey("op:processed:"+consumer, key), nil
}

// Package kvstore is the string key-value persistence the day cache is built on.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// Store persists opaque string values under string keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// ListKeys returns every key starting with prefix, in no particular order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

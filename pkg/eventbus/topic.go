// Package eventbus provides typed in-process publish/subscribe topics.
package eventbus

import (
	"context"
	"fmt"
	"sync"
)

// Handler receives one published event.
type Handler[T any] func(ctx context.Context, event T)

// PanicHandler is told about subscriber panics; the publish continues.
type PanicHandler func(topic string, recovered any)

// Topic fans a single event type out to its subscribers, synchronously and in
// subscription order.
type Topic[T any] struct {
	name    string
	onPanic PanicHandler

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn Handler[T]
}

// NewTopic builds a named topic. onPanic may be nil.
func NewTopic[T any](name string, onPanic PanicHandler) *Topic[T] {
	return &Topic[T]{name: name, onPanic: onPanic}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber and returns how many ran.
// A nil topic drops the event.
func (t *Topic[T]) Publish(ctx context.Context, event T) int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	subs := make([]subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if t.deliver(ctx, sub.fn, event) {
			delivered++
		}
	}
	return delivered
}

func (t *Topic[T]) deliver(ctx context.Context, fn Handler[T], event T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if t.onPanic != nil {
				t.onPanic(t.name, r)
			}
		}
	}()
	fn(ctx, event)
	return true
}

// Subscribers reports the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic[T]) String() string {
	return fmt.Sprintf("topic(%s, %d subscribers)", t.name, t.Subscribers())
}

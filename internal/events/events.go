// Package events declares the typed topics the agent publishes on.
package events

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/eventbus"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

const (
	TopicVisitStatusChanged = "visit_status_changed"
	TopicVisitDataChanged   = "visit_data_changed"
	TopicOrderSyncFailed    = "order_sync_failed"
)

// VisitStatusChanged carries the full order that changed a retailer's visit outcome.
type VisitStatusChanged struct {
	UserID     string            `json:"userId"`
	Date       string            `json:"date"`
	VisitID    string            `json:"visitId,omitempty"`
	Status     enums.VisitStatus `json:"status"`
	RetailerID string            `json:"retailerId"`
	OrderValue int64             `json:"orderValue"`
	Order      *snapshot.Order   `json:"order,omitempty"`
}

// VisitDataChanged tells listeners to re-read the day.
type VisitDataChanged struct {
	UserID string `json:"userId"`
	Date   string `json:"date"`
}

// OrderSyncFailed reports a queued order that will not reach the backend without help.
type OrderSyncFailed struct {
	UserID     string `json:"userId"`
	Date       string `json:"date"`
	OrderID    string `json:"orderId"`
	RetailerID string `json:"retailerId"`
	DLQID      string `json:"dlqId"`
	Reason     string `json:"reason"`
}

// Bus groups the agent's topics.
type Bus struct {
	VisitStatusChanged *eventbus.Topic[VisitStatusChanged]
	VisitDataChanged   *eventbus.Topic[VisitDataChanged]
	OrderSyncFailed    *eventbus.Topic[OrderSyncFailed]
}

// NewBus builds every topic. Subscriber panics are logged and swallowed.
func NewBus(logg *logger.Logger) *Bus {
	if logg == nil {
		logg = logger.Nop()
	}
	onPanic := func(topic string, recovered any) {
		ctx := logg.WithField(context.Background(), "topic", topic)
		logg.Error(ctx, "event subscriber panicked", fmt.Errorf("panic: %v", recovered))
	}
	return &Bus{
		VisitStatusChanged: eventbus.NewTopic[VisitStatusChanged](TopicVisitStatusChanged, onPanic),
		VisitDataChanged:   eventbus.NewTopic[VisitDataChanged](TopicVisitDataChanged, onPanic),
		OrderSyncFailed:    eventbus.NewTopic[OrderSyncFailed](TopicOrderSyncFailed, onPanic),
	}
}

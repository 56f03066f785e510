package snapshot

import (
	"time"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// Snapshot is the cached state of one rep's day.
type Snapshot struct {
	OwnerUserID      string        `json:"ownerUserId"`
	Date             string        `json:"date"`
	BeatPlans        []BeatPlan    `json:"beatPlans"`
	Visits           []Visit       `json:"visits"`
	Retailers        []Retailer    `json:"retailers"`
	Orders           []Order       `json:"orders"`
	ProgressStats    ProgressStats `json:"progressStats"`
	CurrentBeatLabel string        `json:"currentBeatLabel"`
	CapturedAt       time.Time     `json:"capturedAt"`
}

type BeatPlan struct {
	ID       string `json:"id,omitempty"`
	BeatID   string `json:"beatId,omitempty"`
	BeatName string `json:"beatName"`
}

type Visit struct {
	ID            string            `json:"id,omitempty"`
	RetailerID    string            `json:"retailerId"`
	UserID        string            `json:"userId"`
	Status        enums.VisitStatus `json:"status"`
	NoOrderReason *string           `json:"noOrderReason,omitempty"`
	CheckInAt     *time.Time        `json:"checkInAt,omitempty"`
	CheckOutAt    *time.Time        `json:"checkOutAt,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Retailer carries the outcome of the day's visit as Status.
type Retailer struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Phone   *string           `json:"phone,omitempty"`
	Address *string           `json:"address,omitempty"`
	Status  enums.VisitStatus `json:"status,omitempty"`
}

// Order amounts are whole currency units.
type Order struct {
	ID          string            `json:"id"`
	RetailerID  string            `json:"retailerId"`
	UserID      string            `json:"userId"`
	VisitID     *string           `json:"visitId,omitempty"`
	OrderDate   string            `json:"orderDate"`
	TotalAmount int64             `json:"totalAmount"`
	Status      enums.OrderStatus `json:"status"`
}

// OrderInput is an order as the caller knows it, before rounding.
type OrderInput struct {
	ID          string
	RetailerID  string
	UserID      string
	VisitID     *string
	OrderDate   string
	TotalAmount float64
	Status      enums.OrderStatus
}

type ProgressStats struct {
	Planned         int   `json:"planned"`
	Productive      int   `json:"productive"`
	Unproductive    int   `json:"unproductive"`
	TotalOrders     int   `json:"totalOrders"`
	TotalOrderValue int64 `json:"totalOrderValue"`
}

// Eviction reasons reported to metrics.
const (
	ReasonExpired           = "expired"
	ReasonMalformed         = "malformed"
	ReasonOwnerMismatch     = "owner_mismatch"
	ReasonVisitUserMismatch = "visit_user_mismatch"
)

package backend

import (
	"context"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// Service is the remote data store as seen from the device.
type Service interface {
	// InsertOrder writes the header under its client-generated ID and returns
	// the stored row with the server-computed total.
	InsertOrder(ctx context.Context, header OrderHeader) (Order, error)
	// InsertOrderItems writes line items. Items already stored are skipped.
	InsertOrderItems(ctx context.Context, items []OrderItem) error
	GetOrder(ctx context.Context, id string) (Order, error)
	FetchDay(ctx context.Context, userID, date string) (DayData, error)
	Ping(ctx context.Context) error
}

// OrderHeader is what the device sends when placing an order.
type OrderHeader struct {
	ID             string  `json:"id"`
	RetailerID     string  `json:"retailerId"`
	UserID         string  `json:"userId"`
	VisitID        *string `json:"visitId,omitempty"`
	OrderDate      string  `json:"orderDate"`
	TotalAmount    float64 `json:"totalAmount"`
	DiscountAmount float64 `json:"discountAmount,omitempty"`
	TaxAmount      float64 `json:"taxAmount,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

type OrderItem struct {
	ID          string  `json:"id,omitempty"`
	OrderID     string  `json:"orderId"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Order is the server's view of a stored order.
type Order struct {
	ID          string            `json:"id"`
	RetailerID  string            `json:"retailerId"`
	UserID      string            `json:"userId"`
	VisitID     *string           `json:"visitId,omitempty"`
	OrderDate   string            `json:"orderDate"`
	TotalAmount float64           `json:"totalAmount"`
	Status      enums.OrderStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type BeatPlan struct {
	ID       string `json:"id"`
	BeatID   string `json:"beatId"`
	BeatName string `json:"beatName"`
	PlanDate string `json:"planDate"`
}

type Visit struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	RetailerID    string            `json:"retailerId"`
	Status        enums.VisitStatus `json:"status"`
	NoOrderReason *string           `json:"noOrderReason,omitempty"`
	CheckInAt     *time.Time        `json:"checkInAt,omitempty"`
	CheckOutAt    *time.Time        `json:"checkOutAt,omitempty"`
}

type Retailer struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	BeatID  *string `json:"beatId,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

// DayData is everything the backend knows about one rep's day.
type DayData struct {
	BeatPlans []BeatPlan `json:"beatPlans"`
	Visits    []Visit    `json:"visits"`
	Retailers []Retailer `json:"retailers"`
	Orders    []Order    `json:"orders"`
}

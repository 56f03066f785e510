package submission

import (
	"github.com/angelmondragon/fieldsync/internal/backend"
)

// Input is one order as captured on the device.
type Input struct {
	// OrderID is generated when empty.
	OrderID        string  `json:"orderId" validate:"omitempty,max=64"`
	UserID         string  `json:"userId" validate:"required"`
	RetailerID     string  `json:"retailerId" validate:"required"`
	VisitID        *string `json:"visitId,omitempty"`
	OrderDate      string  `json:"orderDate" validate:"required,datetime=2006-01-02"`
	TotalAmount    float64 `json:"totalAmount" validate:"gte=0"`
	DiscountAmount float64 `json:"discountAmount" validate:"gte=0"`
	TaxAmount      float64 `json:"taxAmount" validate:"gte=0"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Items          []Item  `json:"items" validate:"dive"`
}

type Item struct {
	ProductID   string  `json:"productId" validate:"required"`
	ProductName string  `json:"productName" validate:"required"`
	Quantity    int     `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unitPrice" validate:"gte=0"`
}

// Options carry the caller's view of the environment.
type Options struct {
	Online bool
}

// Result is returned for every accepted submission. Offline means the order
// is queued and its values are provisional.
type Result struct {
	Success     bool           `json:"success"`
	Offline     bool           `json:"offline"`
	OrderID     string         `json:"orderId"`
	TotalAmount int64          `json:"totalAmount"`
	Order       *backend.Order `json:"order,omitempty"`
}

// OrderPayload is the queued form of a submission, replayed by the drain.
type OrderPayload struct {
	Date   string              `json:"date"`
	Header backend.OrderHeader `json:"header"`
	Items  []backend.OrderItem `json:"items"`
}

func (in Input) payload(orderID string) OrderPayload {
	items := make([]backend.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, backend.OrderItem{
			OrderID:     orderID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return OrderPayload{
		Date: in.OrderDate,
		Header: backend.OrderHeader{
			ID:             orderID,
			RetailerID:     in.RetailerID,
			UserID:         in.UserID,
			VisitID:        in.VisitID,
			OrderDate:      in.OrderDate,
			TotalAmount:    in.TotalAmount,
			DiscountAmount: in.DiscountAmount,
			TaxAmount:      in.TaxAmount,
			Notes:          in.Notes,
		},
		Items: items,
	}
}

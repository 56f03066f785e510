package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// Order is the backend's durable order header. ID is the client-generated id.
type Order struct {
	ID             string            `gorm:"column:id;primaryKey"`
	RetailerID     string            `gorm:"column:retailer_id;not null;index"`
	UserID         string            `gorm:"column:user_id;not null;index"`
	VisitID        *string           `gorm:"column:visit_id"`
	OrderDate      string            `gorm:"column:order_date;not null;index"`
	Subtotal       decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal   `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	TaxAmount      decimal.Decimal   `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	TotalAmount    decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Status         enums.OrderStatus `gorm:"column:status;not null"`
	Notes          *string           `gorm:"column:notes"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is a line on a backend order.
type OrderItem struct {
	ID          string          `gorm:"column:id;primaryKey"`
	OrderID     string          `gorm:"column:order_id;not null;index"`
	ProductID   string          `gorm:"column:product_id;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal   decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

package models

import (
	"time"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// BeatPlan assigns a beat (route) to a rep for a day.
type BeatPlan struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;not null;index"`
	BeatID    string    `gorm:"column:beat_id;not null"`
	BeatName  string    `gorm:"column:beat_name;not null"`
	PlanDate  string    `gorm:"column:plan_date;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (BeatPlan) TableName() string { return "beat_plans" }

// Visit records a rep's interaction with a retailer on a day.
type Visit struct {
	ID            string            `gorm:"column:id;primaryKey"`
	UserID        string            `gorm:"column:user_id;not null;index"`
	RetailerID    string            `gorm:"column:retailer_id;not null;index"`
	VisitDate     string            `gorm:"column:visit_date;not null;index"`
	Status        enums.VisitStatus `gorm:"column:status;not null"`
	NoOrderReason *string           `gorm:"column:no_order_reason"`
	CheckInAt     *time.Time        `gorm:"column:check_in_at"`
	CheckOutAt    *time.Time        `gorm:"column:check_out_at"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Visit) TableName() string { return "visits" }

// Retailer is the backend's retailer master record.
type Retailer struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	BeatID    *string   `gorm:"column:beat_id"`
	Phone     *string   `gorm:"column:phone"`
	Address   *string   `gorm:"column:address"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Retailer) TableName() string { return "retailers" }

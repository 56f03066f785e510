package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// SyncOperation is a queued mutation waiting to be replayed against the backend.
type SyncOperation struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OperationType  enums.SyncOperationType `gorm:"column:operation_type;not null"`
	IdempotencyKey string                  `gorm:"column:idempotency_key;not null;uniqueIndex:ux_sync_operations_idempotency_key"`
	UserID         string                  `gorm:"column:user_id;not null;index"`
	Payload        string                  `gorm:"column:payload;type:text;not null"`
	Status         enums.SyncStatus        `gorm:"column:status;not null;default:'pending';index"`
	AttemptCount   int                     `gorm:"column:attempt_count;not null;default:0"`
	LastError      *string                 `gorm:"column:last_error"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt    *time.Time              `gorm:"column:processed_at"`
}

func (SyncOperation) TableName() string { return "sync_operations" }

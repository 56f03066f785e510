package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/pkg/enums"
)

// SyncDLQ captures replays that will not be retried automatically.
type SyncDLQ struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OperationID    uuid.UUID                `gorm:"column:operation_id;type:uuid;not null;index"`
	OperationType  enums.SyncOperationType  `gorm:"column:operation_type;not null"`
	IdempotencyKey string                   `gorm:"column:idempotency_key;not null"`
	UserID         string                   `gorm:"column:user_id;not null;index"`
	Payload        string                   `gorm:"column:payload;type:text;not null"`
	ErrorReason    enums.SyncDLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage   *string                  `gorm:"column:error_message"`
	AttemptCount   int                      `gorm:"column:attempt_count;not null;default:0"`
	FailedAt       time.Time                `gorm:"column:failed_at"`
	ResolvedAt     *time.Time               `gorm:"column:resolved_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (SyncDLQ) TableName() string { return "sync_dlq" }

package controllers

import (
	"time"

	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
)

type VisitStatusResponse struct {
	RetailerID string            `json:"retailerId"`
	Date       string            `json:"date"`
	VisitID    string            `json:"visitId,omitempty"`
	Status     enums.VisitStatus `json:"status"`
	OrderValue int64             `json:"orderValue"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

func visitStatusDTO(entry visitstatus.Entry, retailerID, date string, status enums.VisitStatus) VisitStatusResponse {
	resp := VisitStatusResponse{
		RetailerID: retailerID,
		Date:       date,
		VisitID:    entry.VisitID,
		Status:     status,
		OrderValue: entry.OrderValue,
	}
	if !entry.UpdatedAt.IsZero() {
		updated := entry.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

type DeadLetterResponse struct {
	ID            string                   `json:"id"`
	OperationID   string                   `json:"operationId"`
	OperationType enums.SyncOperationType  `json:"operationType"`
	OrderID       string                   `json:"orderId"`
	Reason        enums.SyncDLQErrorReason `json:"reason"`
	Message       *string                  `json:"message,omitempty"`
	Attempts      int                      `json:"attempts"`
	FailedAt      time.Time                `json:"failedAt"`
}

func deadLetterDTO(row models.SyncDLQ) DeadLetterResponse {
	return DeadLetterResponse{
		ID:            row.ID.String(),
		OperationID:   row.OperationID.String(),
		OperationType: row.OperationType,
		OrderID:       row.IdempotencyKey,
		Reason:        row.ErrorReason,
		Message:       row.ErrorMessage,
		Attempts:      row.AttemptCount,
		FailedAt:      row.FailedAt,
	}
}

type SyncOperationResponse struct {
	ID        string                  `json:"id"`
	Type      enums.SyncOperationType `json:"type"`
	OrderID   string                  `json:"orderId"`
	Status    enums.SyncStatus        `json:"status"`
	Attempts  int                     `json:"attempts"`
	CreatedAt time.Time               `json:"createdAt"`
}

func syncOperationDTO(op models.SyncOperation) SyncOperationResponse {
	return SyncOperationResponse{
		ID:        op.ID.String(),
		Type:      op.OperationType,
		OrderID:   op.IdempotencyKey,
		Status:    op.Status,
		Attempts:  op.AttemptCount,
		CreatedAt: op.CreatedAt,
	}
}

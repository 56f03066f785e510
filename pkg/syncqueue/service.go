// Package syncqueue is the durable queue of mutations made while offline.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
)

const idempotencyConstraint = "ux_sync_operations_idempotency_key"

// Enqueuer is the write side consumed by the submission orchestrator.
type Enqueuer interface {
	Enqueue(ctx context.Context, opType enums.SyncOperationType, idempotencyKey, userID string, payload any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service struct {
	tx   txRunner
	repo *Repository
	dlq  *DLQRepository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(tx txRunner, repo *Repository, dlq *DLQRepository, logg *logger.Logger) (*Service, error) {
	if tx == nil || repo == nil || dlq == nil {
		return nil, errors.New("sync queue dependencies are required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{tx: tx, repo: repo, dlq: dlq, logg: logg, now: time.Now}, nil
}

// Enqueue stores one mutation. A second enqueue with the same idempotency key
// is a no-op, so replays of the same logical order collapse to one row.
func (s *Service) Enqueue(ctx context.Context, opType enums.SyncOperationType, idempotencyKey, userID string, payload any) error {
	if !opType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown operation type %q", opType))
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" || strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and user id are required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", opType, err)
	}

	opID := uuid.New()
	envelope := PayloadEnvelope{
		Version:        envelopeVersion,
		OperationID:    opID.String(),
		IdempotencyKey: idempotencyKey,
		UserID:         userID,
		OccurredAt:     s.now().UTC(),
		Data:           data,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	queued := true
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.repo.FindByIdempotencyKeyTx(tx, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			queued = false
			return nil
		}
		return s.repo.InsertTx(tx, &models.SyncOperation{
			ID:             opID,
			OperationType:  opType,
			IdempotencyKey: idempotencyKey,
			UserID:         userID,
			Payload:        string(envelopeJSON),
			Status:         enums.SyncStatusPending,
		})
	})
	if err != nil {
		if pkgerrors.IsUniqueViolation(err, idempotencyConstraint) {
			queued = false
		} else {
			return fmt.Errorf("enqueue %s: %w", opType, err)
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"operation_type":  opType,
		"idempotency_key": idempotencyKey,
		"user_id":         userID,
	})
	if queued {
		s.logg.Info(s.logg.WithField(logCtx, "operation_id", opID.String()), "sync operation queued")
	} else {
		s.logg.Info(logCtx, "sync operation already queued")
	}
	return nil
}

// FetchPending returns up to limit operations awaiting replay, oldest first.
func (s *Service) FetchPending(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	return s.repo.FetchPending(ctx, limit)
}

// MarkDone records a successful replay.
func (s *Service) MarkDone(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkDone(ctx, id, s.now().UTC())
}

// MarkFailed records a retryable replay failure.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return s.repo.MarkFailed(ctx, id, cause)
}

// MoveToDLQ stops replaying op and records why. It returns the dead letter id.
func (s *Service) MoveToDLQ(ctx context.Context, op models.SyncOperation, reason enums.SyncDLQErrorReason, cause error) (uuid.UUID, error) {
	now := s.now().UTC()
	message := cause.Error()
	dlqID := uuid.New()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.MarkTerminalTx(tx, op.ID, cause, now); err != nil {
			return err
		}
		return s.dlq.InsertTx(tx, models.SyncDLQ{
			ID:             dlqID,
			OperationID:    op.ID,
			OperationType:  op.OperationType,
			IdempotencyKey: op.IdempotencyKey,
			UserID:         op.UserID,
			Payload:        op.Payload,
			ErrorReason:    reason,
			ErrorMessage:   &message,
			AttemptCount:   op.AttemptCount + 1,
			FailedAt:       now,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return dlqID, nil
}

// ListDLQ returns the first page of unresolved dead letters owned by userID.
func (s *Service) ListDLQ(ctx context.Context, userID string, limit int) ([]models.SyncDLQ, error) {
	page, err := s.ListDLQPage(ctx, userID, pagination.Params{Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ListDLQPage pages through userID's unresolved dead letters, newest first.
func (s *Service) ListDLQPage(ctx context.Context, userID string, params pagination.Params) (pagination.Page[models.SyncDLQ], error) {
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.SyncDLQ]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.dlq.ListUnresolved(ctx, userID, after, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.SyncDLQ]{}, err
	}
	return pagination.Build(rows, params.Limit, func(row models.SyncDLQ) pagination.Cursor {
		return pagination.Cursor{At: row.FailedAt, ID: row.ID}
	}), nil
}

// Retry puts a dead-lettered operation back on the queue under its original
// idempotency key and resolves the dead letter.
func (s *Service) Retry(ctx context.Context, dlqID uuid.UUID, userID string) (*models.SyncOperation, error) {
	var requeued *models.SyncOperation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.dlq.FindUnresolvedTx(tx, dlqID, userID)
		if err != nil {
			return err
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
		}
		op, err := s.repo.FindByIdempotencyKeyTx(tx, entry.IdempotencyKey)
		if err != nil {
			return err
		}
		if op == nil {
			op = &models.SyncOperation{
				ID:             uuid.New(),
				OperationType:  entry.OperationType,
				IdempotencyKey: entry.IdempotencyKey,
				UserID:         entry.UserID,
				Payload:        entry.Payload,
				Status:         enums.SyncStatusPending,
			}
			if err := s.repo.InsertTx(tx, op); err != nil {
				return err
			}
		} else {
			if err := s.repo.RequeueTx(tx, op.ID); err != nil {
				return err
			}
			op.Status = enums.SyncStatusPending
			op.AttemptCount = 0
			op.LastError = nil
			op.ProcessedAt = nil
		}
		requeued = op
		return s.dlq.MarkResolvedTx(tx, entry.ID, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dlq_id":          dlqID.String(),
		"idempotency_key": requeued.IdempotencyKey,
	})
	s.logg.Info(logCtx, "dead letter requeued")
	return requeued, nil
}

// DeleteDoneBefore prunes finished operations older than cutoff.
func (s *Service) DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteDoneBefore(ctx, cutoff)
}

// Pending reports the number of operations waiting for replay for userID.
func (s *Service) Pending(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountPending(ctx, userID)
}

package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertTx(tx *gorm.DB, op *models.SyncOperation) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(op).Error
}

func (r *Repository) FetchPending(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	var rows []models.SyncOperation
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.SyncStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindByIdempotencyKeyTx returns nil, nil when no operation carries key.
func (r *Repository) FindByIdempotencyKeyTx(tx *gorm.DB, key string) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := tx.Where("idempotency_key = ?", key).Take(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

func (r *Repository) MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.SyncStatusDone,
			"processed_at": at,
			"last_error":   nil,
		}).Error
}

// MarkFailed records a retryable failure and bumps the attempt counter.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(cause.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx stops further replays of the operation.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, at time.Time) error {
	return tx.Model(&models.SyncOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.SyncStatusFailed,
			"last_error":    truncateError(cause.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"processed_at":  at,
		}).Error
}

// RequeueTx resets a failed operation so the drain picks it up again.
func (r *Repository) RequeueTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.SyncOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.SyncStatusPending,
			"attempt_count": 0,
			"last_error":    nil,
			"processed_at":  nil,
		}).Error
}

// DeleteDoneBefore removes finished operations processed before cutoff.
func (r *Repository) DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", enums.SyncStatusDone, cutoff).
		Delete(&models.SyncOperation{})
	return res.RowsAffected, res.Error
}

// CountPending reports how many operations still wait for replay, for userID when set.
func (r *Repository) CountPending(ctx context.Context, userID string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SyncOperation{}).
		Where("status = ?", enums.SyncStatusPending)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

func truncateError(message string) string {
	if len(message) <= maxErrorLen {
		return message
	}
	return message[:maxErrorLen]
}

package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
)

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.SyncDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := truncateError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindUnresolvedTx returns nil, nil when no open entry matches id and userID.
func (r *DLQRepository) FindUnresolvedTx(tx *gorm.DB, id uuid.UUID, userID string) (*models.SyncDLQ, error) {
	var entry models.SyncDLQ
	err := tx.Where("id = ? AND user_id = ? AND resolved_at IS NULL", id, userID).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *DLQRepository) MarkResolvedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.SyncDLQ{}).
		Where("id = ?", id).
		Update("resolved_at", at).Error
}

// ListUnresolved returns open entries for userID, newest first, starting
// after the cursor when one is given. limit is passed through unchanged.
func (r *DLQRepository) ListUnresolved(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]models.SyncDLQ, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND resolved_at IS NULL", userID)
	if after != nil {
		q = q.Where("(failed_at < ?) OR (failed_at = ? AND id < ?)", after.At, after.At, after.ID)
	}
	var rows []models.SyncDLQ
	err := q.Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

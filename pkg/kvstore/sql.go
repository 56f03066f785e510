package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps entries in the kv_entries table of the device database.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db required")
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var row models.KVEntry
	err := s.db.WithContext(ctx).
		Where("entry_key = ?", key).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select kv entry %q: %w", key, err)
	}
	return row.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	row := models.KVEntry{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert kv entry %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("entry_key = ?", key).
		Delete(&models.KVEntry{}).Error
	if err != nil {
		return fmt.Errorf("delete kv entry %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&models.KVEntry{}).
		Where("entry_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("entry_key ASC").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list kv entries %q: %w", prefix, err)
	}
	// sqlite LIKE folds ASCII case.
	matched := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

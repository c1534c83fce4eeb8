package settings

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	cacheKey = "payment:settings"
	cacheTTL = 5 * time.Minute
)

// Setting is one persisted admin override.
type Setting struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex;not null;column:key"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Setting) TableName() string {
	return "payment_settings"
}

// Store persists admin overrides with a Redis read-through cache. A
// cache failure degrades to the database, never to an error.
type Store struct {
	db    *gorm.DB
	redis goredis.UniversalClient
	log   *zap.Logger
}

// NewStore creates a new settings store.
func NewStore(db *gorm.DB, redis goredis.UniversalClient, log *zap.Logger) *Store {
	return &Store{db: db, redis: redis, log: log}
}

// Load returns all persisted overrides as a key/value map.
func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached map[string]string
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var rows []Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	overrides := make(map[string]string, len(rows))
	for _, row := range rows {
		overrides[row.Key] = row.Value
	}

	if s.redis != nil {
		if data, err := json.Marshal(overrides); err == nil {
			if err := s.redis.Set(ctx, cacheKey, data, cacheTTL).Err(); err != nil {
				s.log.Warn("settings cache write failed", zap.Error(err))
			}
		}
	}
	return overrides, nil
}

// Put upserts overrides and invalidates the cache. Keys mapped to an
// empty value are deleted so the static default applies again.
func (s *Store) Put(ctx context.Context, values map[string]string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			if value == "" {
				if err := tx.Where("key = ?", key).Delete(&Setting{}).Error; err != nil {
					return err
				}
				continue
			}
			row := Setting{Key: key, Value: value}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey).Err(); err != nil {
			s.log.Warn("settings cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

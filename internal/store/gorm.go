package store

import (
	"context"
	"errors"
	"fmt"

	"private-chat/backend/internal/models"

	"gorm.io/gorm"
)

// GormStore persists messages in the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on top of an open gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Insert(ctx context.Context, msg *models.Message) error {
	err := s.db.WithContext(ctx).Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *GormStore) OrderedRead(ctx context.Context, limit int, order Order) ([]models.Message, error) {
	var messages []models.Message

	q := s.db.WithContext(ctx).Order("created_at " + order.String()).Order("seq " + order.String())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return messages, nil
}

func (s *GormStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Message{}).Error
	if err != nil {
		return fmt.Errorf("delete %d messages: %w", len(ids), err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists audit rows
type Store interface {
	Save(ctx context.Context, log *Log) error
	ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]Log, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore migrates the audit table and returns a gorm-backed Store
func NewStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&Log{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Save(ctx context.Context, log *Log) error {
	return s.db.WithContext(ctx).Create(log).Error
}

func (s *gormStore) ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]Log, error) {
	var logs []Log
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

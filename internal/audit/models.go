package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entry is one state-changing action as reported by a domain service
type Entry struct {
	ActorID    uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     interface{}
	After      interface{}
}

// Log is the persisted audit row
type Log struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ActorID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"actor_id"`
	Action     string         `gorm:"not null" json:"action"`
	EntityType string         `gorm:"not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_audit_entity" json:"entity_id"`
	Before     datatypes.JSON `gorm:"type:jsonb" json:"before"`
	After      datatypes.JSON `gorm:"type:jsonb" json:"after"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Log) TableName() string { return "audit_logs" }

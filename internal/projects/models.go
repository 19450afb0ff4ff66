package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project is the read-only slice of the marketplace project the dispute core needs
type Project struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title        string         `gorm:"not null" json:"title"`
	ClientID     uuid.UUID      `gorm:"type:uuid;not null" json:"client_id"`
	FreelancerID *uuid.UUID     `gorm:"type:uuid" json:"freelancer_id"`
	BrokerID     *uuid.UUID     `gorm:"type:uuid" json:"broker_id"`
	Status       string         `gorm:"not null;default:'IN_PROGRESS'" json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Milestone is a payable unit of a project
type Milestone struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	Title     string    `gorm:"not null" json:"title"`
	Amount    float64   `gorm:"type:numeric(14,2)" json:"amount"`
	Status    string    `gorm:"not null" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Project   Project   `gorm:"foreignKey:ProjectID"`
}

// MilestoneParties lists who may raise or defend a dispute on a milestone
type MilestoneParties struct {
	ProjectID      uuid.UUID
	MilestoneID    uuid.UUID
	ClientID       uuid.UUID
	FreelancerID   *uuid.UUID
	BrokerID       *uuid.UUID
	MilestoneValue float64
}

// PartyRole is the role a user holds on a project
type PartyRole string

const (
	PartyClient     PartyRole = "CLIENT"
	PartyFreelancer PartyRole = "FREELANCER"
	PartyBroker     PartyRole = "BROKER"
)

// RoleOf returns the project role of userID, false if the user is not a party
func (p MilestoneParties) RoleOf(userID uuid.UUID) (PartyRole, bool) {
	switch {
	case p.ClientID == userID:
		return PartyClient, true
	case p.FreelancerID != nil && *p.FreelancerID == userID:
		return PartyFreelancer, true
	case p.BrokerID != nil && *p.BrokerID == userID:
		return PartyBroker, true
	}
	return "", false
}

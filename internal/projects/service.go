package projects

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrMilestoneNotFound = errors.New("projects: milestone not found")

// Directory answers read-only party lookups for a milestone
type Directory interface {
	MilestoneParties(ctx context.Context, projectID, milestoneID uuid.UUID) (*MilestoneParties, error)
}

// GormDirectory reads projects and milestones owned by the marketplace schema
type GormDirectory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// MilestoneParties loads the milestone with its project
func (d *GormDirectory) MilestoneParties(ctx context.Context, projectID, milestoneID uuid.UUID) (*MilestoneParties, error) {
	var milestone Milestone
	err := d.db.WithContext(ctx).
		Preload("Project").
		Where("id = ? AND project_id = ?", milestoneID, projectID).
		First(&milestone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMilestoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load milestone: %w", err)
	}
	return partiesOf(milestone.Project, milestone), nil
}

func partiesOf(p Project, m Milestone) *MilestoneParties {
	return &MilestoneParties{
		ProjectID:      p.ID,
		MilestoneID:    m.ID,
		ClientID:       p.ClientID,
		FreelancerID:   p.FreelancerID,
		BrokerID:       p.BrokerID,
		MilestoneValue: m.Amount,
	}
}

// StaticDirectory is an in-memory Directory for tests and local runs
type StaticDirectory struct {
	mu         sync.RWMutex
	projects   map[uuid.UUID]Project
	milestones map[uuid.UUID]Milestone
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		projects:   make(map[uuid.UUID]Project),
		milestones: make(map[uuid.UUID]Milestone),
	}
}

// Add registers a project with one milestone and returns both
func (d *StaticDirectory) Add(p Project, m Milestone) (Project, Milestone) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.ProjectID = p.ID
	d.projects[p.ID] = p
	d.milestones[m.ID] = m
	return p, m
}

func (d *StaticDirectory) MilestoneParties(_ context.Context, projectID, milestoneID uuid.UUID) (*MilestoneParties, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.milestones[milestoneID]
	if !ok || m.ProjectID != projectID {
		return nil, ErrMilestoneNotFound
	}
	return partiesOf(d.projects[projectID], m), nil
}

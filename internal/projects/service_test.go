package projects

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectoryParties(t *testing.T) {
	dir := NewStaticDirectory()
	client, freelancer := uuid.New(), uuid.New()
	p, m := dir.Add(Project{ClientID: client, FreelancerID: &freelancer}, Milestone{Amount: 500})

	parties, err := dir.MilestoneParties(context.Background(), p.ID, m.ID)
	require.NoError(t, err)

	role, ok := parties.RoleOf(freelancer)
	assert.True(t, ok)
	assert.Equal(t, PartyFreelancer, role)

	_, ok = parties.RoleOf(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, 500.0, parties.MilestoneValue)

	_, err = dir.MilestoneParties(context.Background(), uuid.New(), m.ID)
	assert.ErrorIs(t, err, ErrMilestoneNotFound)
}

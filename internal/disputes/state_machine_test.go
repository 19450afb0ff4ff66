package disputes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclaredTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusPendingReview, true},
		{StatusOpen, StatusInReview, false},
		{StatusPendingReview, StatusInReview, true},
		{StatusInReview, StatusInfoRequested, true},
		{StatusInfoRequested, StatusInReview, true},
		{StatusInfoRequested, StatusResolved, false},
		{StatusInReview, StatusResolved, true},
		{StatusInReview, StatusRejected, true},
		{StatusRejected, StatusRejectionAppealed, true},
		{StatusRejectionAppealed, StatusResolved, true},
		{StatusRejectionAppealed, StatusRejected, true},
		{StatusResolved, StatusAppealed, true},
		{StatusResolved, StatusInReview, false},
		{StatusAppealed, StatusResolved, true},
		{StatusAppealed, StatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCheckTransitionAppealGuards(t *testing.T) {
	first := &Dispute{Status: StatusRejected}
	require.NoError(t, checkTransition(first, StatusRejectionAppealed, "appeal rejection"))
	assert.Error(t, checkTransition(first, StatusAppealed, "appeal"))

	now := fixedNow
	final := &Dispute{Status: StatusRejected, RejectionAppealedAt: &now}
	var invalid *InvalidStateError
	require.ErrorAs(t, checkTransition(final, StatusRejectionAppealed, "appeal rejection"), &invalid)
	assert.Equal(t, "rejection is final", invalid.Rule)
	assert.NoError(t, checkTransition(final, StatusAppealed, "appeal"))

	exhausted := &Dispute{Status: StatusResolved, IsAppealed: true}
	require.ErrorAs(t, checkTransition(exhausted, StatusAppealed, "appeal"), &invalid)
	assert.Equal(t, "appeal already exhausted", invalid.Rule)
}

func TestPhaseOrder(t *testing.T) {
	next, err := NextPhase(PhasePresentation)
	require.NoError(t, err)
	assert.Equal(t, PhaseCrossExamination, next)

	var orderErr *PhaseOrderError
	_, err = NextPhase(PhaseDeliberation)
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, PhaseDeliberation, orderErr.Current)

	require.ErrorAs(t, CheckPhaseAdvance(PhasePresentation, PhaseInterrogation), &orderErr)
	assert.Equal(t, PhaseInterrogation, orderErr.Attempted)
	assert.NoError(t, CheckPhaseAdvance(PhaseInterrogation, PhaseDeliberation))

	assert.Equal(t, 3, PhasePosition(PhaseDeliberation))
}

func TestDetermineOutcome(t *testing.T) {
	raiser, defendant := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		typ        Type
		result     Result
		wantWinner *uuid.UUID
	}{
		{"client raiser wins as client", TypeClientVsFreelancer, ResultWinClient, &raiser},
		{"freelancer raiser wins as freelancer", TypeFreelancerVsClient, ResultWinFreelancer, &raiser},
		{"freelancer raiser loses to client", TypeFreelancerVsClient, ResultWinClient, &defendant},
		{"broker raiser against client", TypeBrokerVsClient, ResultWinFreelancer, &raiser},
		{"broker raiser against freelancer takes client side", TypeBrokerVsFreelancer, ResultWinClient, &raiser},
		{"split has no winner", TypeClientVsFreelancer, ResultSplit, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dispute{RaisedBy: raiser, Against: defendant, Type: tt.typ}
			winner, loser := DetermineOutcome(tt.result, d)
			if tt.wantWinner == nil {
				assert.Nil(t, winner)
				assert.Nil(t, loser)
				return
			}
			require.NotNil(t, winner)
			assert.Equal(t, *tt.wantWinner, *winner)
			assert.NotEqual(t, *winner, *loser)
		})
	}
}

package disputes

import (
	"github.com/google/uuid"

	"freelance-market/dispute-court/dispute-court-backend/pkg/workflows"
)

var statusMachine = workflows.NewStateMachine(map[string][]string{
	string(StatusOpen):              {string(StatusPendingReview)},
	string(StatusPendingReview):     {string(StatusInReview)},
	string(StatusInReview):          {string(StatusInfoRequested), string(StatusResolved), string(StatusRejected)},
	string(StatusInfoRequested):     {string(StatusInReview)},
	string(StatusResolved):          {string(StatusAppealed)},
	string(StatusRejected):          {string(StatusRejectionAppealed), string(StatusAppealed)},
	string(StatusRejectionAppealed): {string(StatusResolved), string(StatusRejected)},
	string(StatusAppealed):          {string(StatusResolved), string(StatusRejected)},
})

var phaseSequence = workflows.NewSequence(
	string(PhasePresentation),
	string(PhaseCrossExamination),
	string(PhaseInterrogation),
	string(PhaseDeliberation),
)

// CanTransition reports whether the edge from -> to is declared
func CanTransition(from, to Status) bool {
	return statusMachine.CanTransition(string(from), string(to))
}

// AllowedTransitions lists the declared targets of a status
func AllowedTransitions(from Status) []Status {
	raw := statusMachine.GetAllowedTransitions(string(from))
	out := make([]Status, len(raw))
	for i, s := range raw {
		out[i] = Status(s)
	}
	return out
}

// checkTransition validates a status change including the appeal guards that the
// edge table alone cannot express.
func checkTransition(d *Dispute, to Status, action string) error {
	if !CanTransition(d.Status, to) {
		return &InvalidStateError{
			Entity:    "dispute",
			Current:   string(d.Status),
			Attempted: action,
			Rule:      "transition to " + string(to) + " is not declared",
		}
	}

	switch {
	case d.Status == StatusRejected && to == StatusRejectionAppealed && d.RejectionFinal():
		return &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: action, Rule: "rejection is final"}
	case d.Status == StatusRejected && to == StatusAppealed && !d.RejectionFinal():
		return &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: action, Rule: "a first rejection is appealed through the rejection appeal"}
	case to == StatusAppealed && d.IsAppealed:
		return &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: action, Rule: "appeal already exhausted"}
	}
	return nil
}

// NextPhase returns the phase after current or a PhaseOrderError after DELIBERATION
func NextPhase(current Phase) (Phase, error) {
	next, ok := phaseSequence.Next(string(current))
	if !ok {
		return "", &PhaseOrderError{Current: current}
	}
	return Phase(next), nil
}

// CheckPhaseAdvance validates moving from current straight to target
func CheckPhaseAdvance(current, target Phase) error {
	next, err := NextPhase(current)
	if err != nil {
		return err
	}
	if next != target {
		return &PhaseOrderError{Current: current, Attempted: target}
	}
	return nil
}

// PhasePosition returns the zero-based position of p, -1 if unknown
func PhasePosition(p Phase) int {
	return phaseSequence.Position(string(p))
}

// DetermineOutcome maps a verdict onto the raiser and defendant. The first role of
// the dispute type is always the raiser; a broker sits on the freelancer side
// except against a freelancer, where the broker takes the client side.
func DetermineOutcome(result Result, d *Dispute) (winner, loser *uuid.UUID) {
	if result != ResultWinClient && result != ResultWinFreelancer {
		return nil, nil
	}

	clientSide, freelancerSide := d.RaisedBy, d.Against
	switch d.Type {
	case TypeFreelancerVsClient, TypeFreelancerVsBroker, TypeBrokerVsClient:
		clientSide, freelancerSide = d.Against, d.RaisedBy
	}

	if result == ResultWinClient {
		return &clientSide, &freelancerSide
	}
	return &freelancerSide, &clientSide
}

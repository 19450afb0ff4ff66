package hearings

import (
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/pkg/workflows"
)

var statusMachine = workflows.NewStateMachine(map[string][]string{
	string(StatusScheduled):   {string(StatusInProgress), string(StatusCanceled), string(StatusRescheduled)},
	string(StatusInProgress):  {string(StatusCompleted)},
	string(StatusCompleted):   {},
	string(StatusCanceled):    {},
	string(StatusRescheduled): {},
})

// CanTransition reports whether the hearing edge from -> to is declared
func CanTransition(from, to Status) bool {
	return statusMachine.CanTransition(string(from), string(to))
}

func checkTransition(h *Hearing, to Status, action string) error {
	if CanTransition(h.Status, to) {
		return nil
	}
	rule := "transition to " + string(to) + " is not declared"
	if statusMachine.IsTerminal(string(h.Status)) {
		rule = "hearing is " + string(h.Status)
	}
	return invalidHearing(h, action, rule)
}

// statementPhases lists where each statement type is accepted
var statementPhases = map[StatementType][]disputes.Phase{
	StatementOpening:  {disputes.PhasePresentation},
	StatementEvidence: {disputes.PhasePresentation, disputes.PhaseCrossExamination},
	StatementRebuttal: {disputes.PhaseCrossExamination, disputes.PhaseInterrogation},
	StatementClosing:  {disputes.PhaseDeliberation},
	StatementQuestion: {disputes.PhaseInterrogation},
	StatementAnswer:   {disputes.PhaseInterrogation},
}

// ValidStatementType reports whether t is a known statement type
func ValidStatementType(t StatementType) bool {
	_, ok := statementPhases[t]
	return ok
}

// CheckStatementPhase fails with PhaseMismatchError when phase does not accept t
func CheckStatementPhase(t StatementType, phase disputes.Phase) error {
	allowed := statementPhases[t]
	for _, p := range allowed {
		if p == phase {
			return nil
		}
	}
	return &disputes.PhaseMismatchError{Current: phase, StatementType: string(t), Allowed: allowed}
}

// SpeakerAllows reports whether a participant role may post under speaker role r
func SpeakerAllows(r SpeakerRole, role ParticipantRole) bool {
	switch r {
	case SpeakerAll:
		return true
	case SpeakerModeratorOnly:
		return role == RoleModerator
	case SpeakerRaiserOnly:
		return role == RoleRaiser
	case SpeakerDefendantOnly:
		return role == RoleDefendant
	}
	return false
}

package hearings

import (
	"fmt"

	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
)

// Not-found errors wrap disputes.ErrNotFound so one check covers the whole core
var (
	ErrHearingNotFound     = fmt.Errorf("hearings: hearing %w", disputes.ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("hearings: participant %w", disputes.ErrNotFound)
	ErrStatementNotFound   = fmt.Errorf("hearings: statement %w", disputes.ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("hearings: question %w", disputes.ErrNotFound)
)

func invalidHearing(h *Hearing, attempted, rule string) error {
	return &disputes.InvalidStateError{Entity: "hearing", Current: string(h.Status), Attempted: attempted, Rule: rule}
}

func invalidStatement(st *Statement, attempted, rule string) error {
	return &disputes.InvalidStateError{Entity: "statement", Current: string(st.Status), Attempted: attempted, Rule: rule}
}

func invalidQuestion(q *Question, attempted, rule string) error {
	return &disputes.InvalidStateError{Entity: "question", Current: string(q.Status), Attempted: attempted, Rule: rule}
}

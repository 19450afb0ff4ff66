package disputes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is wrapped by every entity not-found error in the dispute core
var ErrNotFound = errors.New("not found")

var (
	ErrDisputeNotFound    = fmt.Errorf("disputes: dispute %w", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("disputes: message %w", ErrNotFound)
	ErrSettlementNotFound = fmt.Errorf("disputes: settlement %w", ErrNotFound)
	ErrEvidenceNotFound   = fmt.Errorf("disputes: evidence %w", ErrNotFound)
)

// Coded is implemented by every typed error so transports can render a stable
// code plus the structured fields.
type Coded interface {
	error
	Code() string
	Details() map[string]interface{}
}

// InvalidStateError reports a transition that is not permitted from the current state
type InvalidStateError struct {
	Entity    string
	Current   string
	Attempted string
	Rule      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %s cannot %s: %s", e.Entity, e.Current, e.Attempted, e.Rule)
}

func (e *InvalidStateError) Code() string { return "INVALID_STATE" }

func (e *InvalidStateError) Details() map[string]interface{} {
	return map[string]interface{}{
		"entity":    e.Entity,
		"current":   e.Current,
		"attempted": e.Attempted,
		"rule":      e.Rule,
	}
}

// NotModeratorError is returned when a moderator-only action comes from someone else
type NotModeratorError struct {
	HearingID uuid.UUID
	ActorID   uuid.UUID
	Action    string
}

func (e *NotModeratorError) Error() string {
	return fmt.Sprintf("only the hearing moderator may %s", e.Action)
}

func (e *NotModeratorError) Code() string { return "NOT_MODERATOR" }

func (e *NotModeratorError) Details() map[string]interface{} {
	return map[string]interface{}{
		"hearing_id": e.HearingID,
		"actor_id":   e.ActorID,
		"action":     e.Action,
	}
}

// NotParticipantError is returned when the caller is not allowed to act in a hearing,
// either because they are not a participant or because their role is not permitted now.
type NotParticipantError struct {
	HearingID uuid.UUID
	UserID    uuid.UUID
	Rule      string
}

func (e *NotParticipantError) Error() string {
	return fmt.Sprintf("user %s may not act in hearing %s: %s", e.UserID, e.HearingID, e.Rule)
}

func (e *NotParticipantError) Code() string { return "NOT_PARTICIPANT" }

func (e *NotParticipantError) Details() map[string]interface{} {
	return map[string]interface{}{
		"hearing_id": e.HearingID,
		"user_id":    e.UserID,
		"rule":       e.Rule,
	}
}

// ForbiddenError covers dispute-level authorization outside hearings
type ForbiddenError struct {
	ActorID uuid.UUID
	Action  string
	Rule    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Rule)
}

func (e *ForbiddenError) Code() string { return "FORBIDDEN" }

func (e *ForbiddenError) Details() map[string]interface{} {
	return map[string]interface{}{"actor_id": e.ActorID, "action": e.Action, "rule": e.Rule}
}

// SchedulingConflictError reports a moderator double booking
type SchedulingConflictError struct {
	ModeratorID          uuid.UUID
	ConflictingHearingID uuid.UUID
	NextAvailableAt      *time.Time
}

func (e *SchedulingConflictError) Error() string {
	msg := fmt.Sprintf("moderator %s already has hearing %s in that window", e.ModeratorID, e.ConflictingHearingID)
	if e.NextAvailableAt != nil {
		msg += fmt.Sprintf("; next available at %s", e.NextAvailableAt.UTC().Format(time.RFC3339))
	}
	return msg
}

func (e *SchedulingConflictError) Code() string { return "SCHEDULING_CONFLICT" }

func (e *SchedulingConflictError) Details() map[string]interface{} {
	d := map[string]interface{}{
		"moderator_id":           e.ModeratorID,
		"conflicting_hearing_id": e.ConflictingHearingID,
	}
	if e.NextAvailableAt != nil {
		d["next_available_at"] = e.NextAvailableAt.UTC()
	}
	return d
}

// PhaseMismatchError reports a statement type that the current phase does not accept
type PhaseMismatchError struct {
	Current       Phase
	StatementType string
	Allowed       []Phase
}

func (e *PhaseMismatchError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, p := range e.Allowed {
		allowed[i] = string(p)
	}
	return fmt.Sprintf("%s is not accepted during %s (allowed: %s)", e.StatementType, e.Current, strings.Join(allowed, ", "))
}

func (e *PhaseMismatchError) Code() string { return "PHASE_MISMATCH" }

func (e *PhaseMismatchError) Details() map[string]interface{} {
	return map[string]interface{}{
		"current_phase":  e.Current,
		"statement_type": e.StatementType,
		"allowed_phases": e.Allowed,
	}
}

// PhaseOrderError reports an attempt to move the phase out of sequence
type PhaseOrderError struct {
	Current   Phase
	Attempted Phase
}

func (e *PhaseOrderError) Error() string {
	if e.Attempted == "" {
		return fmt.Sprintf("phase %s is the last phase", e.Current)
	}
	return fmt.Sprintf("phase cannot move from %s to %s", e.Current, e.Attempted)
}

func (e *PhaseOrderError) Code() string { return "PHASE_ORDER" }

func (e *PhaseOrderError) Details() map[string]interface{} {
	return map[string]interface{}{"current_phase": e.Current, "attempted_phase": e.Attempted}
}

// MissingStatement names a participant who still owes a required statement
type MissingStatement struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	UserID        uuid.UUID `json:"user_id"`
	Type          string    `json:"type"`
}

// IncompleteHearingError lists what prevents a hearing from ending
type IncompleteHearingError struct {
	HearingID          uuid.UUID
	PendingQuestionIDs []uuid.UUID
	MissingStatements  []MissingStatement
}

// OutstandingIDs returns question ids followed by participant:<id>/<TYPE> entries
func (e *IncompleteHearingError) OutstandingIDs() []string {
	out := make([]string, 0, len(e.PendingQuestionIDs)+len(e.MissingStatements))
	for _, id := range e.PendingQuestionIDs {
		out = append(out, id.String())
	}
	for _, m := range e.MissingStatements {
		out = append(out, fmt.Sprintf("participant:%s/%s", m.ParticipantID, m.Type))
	}
	return out
}

func (e *IncompleteHearingError) Error() string {
	return fmt.Sprintf("hearing %s has unresolved required items: %s", e.HearingID, strings.Join(e.OutstandingIDs(), ", "))
}

func (e *IncompleteHearingError) Code() string { return "INCOMPLETE_HEARING" }

func (e *IncompleteHearingError) Details() map[string]interface{} {
	return map[string]interface{}{
		"hearing_id":           e.HearingID,
		"pending_question_ids": e.PendingQuestionIDs,
		"missing_statements":   e.MissingStatements,
		"outstanding":          e.OutstandingIDs(),
	}
}

// OrderingConflictError reports two writers claiming the same ledger position.
// Callers may retry.
type OrderingConflictError struct {
	HearingID  uuid.UUID
	OrderIndex int
}

func (e *OrderingConflictError) Error() string {
	return fmt.Sprintf("order index %d already taken in hearing %s", e.OrderIndex, e.HearingID)
}

func (e *OrderingConflictError) Code() string { return "ORDERING_CONFLICT" }

func (e *OrderingConflictError) Details() map[string]interface{} {
	return map[string]interface{}{"hearing_id": e.HearingID, "order_index": e.OrderIndex}
}

// ValidationError reports a malformed request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string { return "VALIDATION_FAILED" }

func (e *ValidationError) Details() map[string]interface{} {
	return map[string]interface{}{"field": e.Field}
}

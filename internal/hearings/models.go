package hearings

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Status is the lifecycle state of one hearing row
type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCanceled    Status = "CANCELED"
	StatusRescheduled Status = "RESCHEDULED"
)

// Active reports whether the hearing still blocks a new one for its dispute
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusInProgress
}

type Tier string

const (
	TierOne Tier = "TIER_1"
	TierTwo Tier = "TIER_2"
)

// SpeakerRole decides who may currently post into the hearing
type SpeakerRole string

const (
	SpeakerAll           SpeakerRole = "ALL"
	SpeakerModeratorOnly SpeakerRole = "MODERATOR_ONLY"
	SpeakerRaiserOnly    SpeakerRole = "RAISER_ONLY"
	SpeakerDefendantOnly SpeakerRole = "DEFENDANT_ONLY"
	SpeakerMutedAll      SpeakerRole = "MUTED_ALL"
)

func (r SpeakerRole) Valid() bool {
	switch r {
	case SpeakerAll, SpeakerModeratorOnly, SpeakerRaiserOnly, SpeakerDefendantOnly, SpeakerMutedAll:
		return true
	}
	return false
}

type ParticipantRole string

const (
	RoleRaiser    ParticipantRole = "RAISER"
	RoleDefendant ParticipantRole = "DEFENDANT"
	RoleWitness   ParticipantRole = "WITNESS"
	RoleModerator ParticipantRole = "MODERATOR"
	RoleObserver  ParticipantRole = "OBSERVER"
)

type StatementType string

const (
	StatementOpening  StatementType = "OPENING"
	StatementEvidence StatementType = "EVIDENCE"
	StatementRebuttal StatementType = "REBUTTAL"
	StatementClosing  StatementType = "CLOSING"
	StatementQuestion StatementType = "QUESTION"
	StatementAnswer   StatementType = "ANSWER"
)

type StatementStatus string

const (
	StatementDraft     StatementStatus = "DRAFT"
	StatementSubmitted StatementStatus = "SUBMITTED"
)

type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "PENDING_ANSWER"
	QuestionAnswered  QuestionStatus = "ANSWERED"
	QuestionCancelled QuestionStatus = "CANCELLED_BY_MODERATOR"
)

// Hearing is one scheduled session of a dispute
type Hearing struct {
	ID                       uuid.UUID      `json:"id" db:"id"`
	DisputeID                uuid.UUID      `json:"dispute_id" db:"dispute_id"`
	HearingNumber            int            `json:"hearing_number" db:"hearing_number"`
	Status                   Status         `json:"status" db:"status"`
	Tier                     Tier           `json:"tier" db:"tier"`
	IsEmergency              bool           `json:"is_emergency" db:"is_emergency"`
	ScheduledAt              time.Time      `json:"scheduled_at" db:"scheduled_at"`
	StartedAt                *time.Time     `json:"started_at,omitempty" db:"started_at"`
	EndedAt                  *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	EstimatedDurationMinutes int            `json:"estimated_duration_minutes" db:"estimated_duration_minutes"`
	Agenda                   string         `json:"agenda" db:"agenda"`
	RequiredDocuments        pq.StringArray `json:"required_documents" db:"required_documents"`
	ExternalMeetingLink      *string        `json:"external_meeting_link,omitempty" db:"external_meeting_link"`
	ModeratorID              uuid.UUID      `json:"moderator_id" db:"moderator_id"`
	ResponseDeadline         *time.Time     `json:"response_deadline,omitempty" db:"response_deadline"`

	CurrentSpeakerRole SpeakerRole  `json:"current_speaker_role" db:"current_speaker_role"`
	SpeakerGraceRole   *SpeakerRole `json:"speaker_grace_role,omitempty" db:"speaker_grace_role"`
	SpeakerGraceUntil  *time.Time   `json:"speaker_grace_until,omitempty" db:"speaker_grace_until"`
	ModeratorAwayAt    *time.Time   `json:"moderator_away_at,omitempty" db:"moderator_away_at"`
	IsChatRoomActive   bool         `json:"is_chat_room_active" db:"is_chat_room_active"`

	Summary        *string        `json:"summary,omitempty" db:"summary"`
	Findings       *string        `json:"findings,omitempty" db:"findings"`
	PendingActions pq.StringArray `json:"pending_actions" db:"pending_actions"`
	CancelReason   *string        `json:"cancel_reason,omitempty" db:"cancel_reason"`

	RescheduleCount   int        `json:"reschedule_count" db:"reschedule_count"`
	PreviousHearingID *uuid.UUID `json:"previous_hearing_id,omitempty" db:"previous_hearing_id"`
	LastRescheduledAt *time.Time `json:"last_rescheduled_at,omitempty" db:"last_rescheduled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EndsAt is the advisory end of the hearing window
func (h *Hearing) EndsAt() time.Time {
	return h.ScheduledAt.Add(time.Duration(h.EstimatedDurationMinutes) * time.Minute)
}

// Participant is a user's seat in a hearing with its presence bookkeeping
type Participant struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	HearingID             uuid.UUID       `json:"hearing_id" db:"hearing_id"`
	UserID                uuid.UUID       `json:"user_id" db:"user_id"`
	Role                  ParticipantRole `json:"role" db:"role"`
	IsRequired            bool            `json:"is_required" db:"is_required"`
	InvitedAt             time.Time       `json:"invited_at" db:"invited_at"`
	ConfirmedAt           *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ResponseDeadline      *time.Time      `json:"response_deadline,omitempty" db:"response_deadline"`
	JoinedAt              *time.Time      `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt                *time.Time      `json:"left_at,omitempty" db:"left_at"`
	IsOnline              bool            `json:"is_online" db:"is_online"`
	LastOnlineAt          *time.Time      `json:"last_online_at,omitempty" db:"last_online_at"`
	TotalOnlineMinutes    int             `json:"total_online_minutes" db:"total_online_minutes"`
	HasSubmittedStatement bool            `json:"has_submitted_statement" db:"has_submitted_statement"`
}

// Statement is one entry of the hearing ledger. OrderIndex is assigned when the
// statement is published; drafts have none.
type Statement struct {
	ID                      uuid.UUID       `json:"id" db:"id"`
	HearingID               uuid.UUID       `json:"hearing_id" db:"hearing_id"`
	ParticipantID           uuid.UUID       `json:"participant_id" db:"participant_id"`
	AuthorID                uuid.UUID       `json:"author_id" db:"author_id"`
	Type                    StatementType   `json:"type" db:"type"`
	Title                   string          `json:"title" db:"title"`
	Content                 string          `json:"content" db:"content"`
	Status                  StatementStatus `json:"status" db:"status"`
	Attachments             pq.StringArray  `json:"attachments" db:"attachments"`
	ReplyToStatementID      *uuid.UUID      `json:"reply_to_statement_id,omitempty" db:"reply_to_statement_id"`
	RetractionOfStatementID *uuid.UUID      `json:"retraction_of_statement_id,omitempty" db:"retraction_of_statement_id"`
	SupersededByID          *uuid.UUID      `json:"superseded_by_id,omitempty" db:"superseded_by_id"`
	OrderIndex              *int            `json:"order_index,omitempty" db:"order_index"`
	IsRedacted              bool            `json:"is_redacted" db:"is_redacted"`
	RedactedReason          *string         `json:"redacted_reason,omitempty" db:"redacted_reason"`
	RedactedByID            *uuid.UUID      `json:"redacted_by_id,omitempty" db:"redacted_by_id"`
	RedactedAt              *time.Time      `json:"redacted_at,omitempty" db:"redacted_at"`
	SubmittedAt             *time.Time      `json:"submitted_at,omitempty" db:"submitted_at"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at" db:"updated_at"`
}

// Question is a moderator-mediated question to one participant
type Question struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	HearingID     uuid.UUID      `json:"hearing_id" db:"hearing_id"`
	AskedByID     uuid.UUID      `json:"asked_by_id" db:"asked_by_id"`
	TargetUserID  uuid.UUID      `json:"target_user_id" db:"target_user_id"`
	Question      string         `json:"question" db:"question"`
	Answer        *string        `json:"answer,omitempty" db:"answer"`
	Status        QuestionStatus `json:"status" db:"status"`
	Deadline      time.Time      `json:"deadline" db:"deadline"`
	AnsweredAt    *time.Time     `json:"answered_at,omitempty" db:"answered_at"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledByID *uuid.UUID     `json:"cancelled_by_id,omitempty" db:"cancelled_by_id"`
	IsRequired    bool           `json:"is_required" db:"is_required"`
	OrderIndex    int            `json:"order_index" db:"order_index"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Overdue reports whether a pending question is past its deadline
func (q *Question) Overdue(now time.Time) bool {
	return q.Status == QuestionPending && now.After(q.Deadline)
}

// Detail is a hearing with everything it owns, as seen by one reader
type Detail struct {
	Hearing      *Hearing      `json:"hearing"`
	Participants []Participant `json:"participants"`
	Statements   []Statement   `json:"statements"`
	Questions    []Question    `json:"questions"`
}

// EndResult reports the side effects of ending a hearing
type EndResult struct {
	Hearing              *Hearing    `json:"hearing"`
	CancelledQuestionIDs []uuid.UUID `json:"cancelled_question_ids"`
	AbsentUserIDs        []uuid.UUID `json:"absent_user_ids"`
}

// ChatPermission explains whether a user may post right now
type ChatPermission struct {
	Allowed         bool            `json:"allowed"`
	Reason          string          `json:"reason,omitempty"`
	ParticipantRole ParticipantRole `json:"participant_role,omitempty"`
	EffectiveRole   SpeakerRole     `json:"effective_speaker_role"`
	GraceUntil      *time.Time      `json:"grace_period_until,omitempty"`
}

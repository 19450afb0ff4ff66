package disputes

import (
	"time"

	"github.com/google/uuid"
)

// Status is the dispute case status
type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusPendingReview     Status = "PENDING_REVIEW"
	StatusInReview          Status = "IN_REVIEW"
	StatusInfoRequested     Status = "INFO_REQUESTED"
	StatusResolved          Status = "RESOLVED"
	StatusRejected          Status = "REJECTED"
	StatusRejectionAppealed Status = "REJECTION_APPEALED"
	StatusAppealed          Status = "APPEALED"
)

// Closed reports whether the status ends the case for hearing purposes
func (s Status) Closed() bool {
	return s == StatusResolved || s == StatusRejected
}

// Phase is the hearing sub-stage of an active dispute
type Phase string

const (
	PhasePresentation     Phase = "PRESENTATION"
	PhaseCrossExamination Phase = "CROSS_EXAMINATION"
	PhaseInterrogation    Phase = "INTERROGATION"
	PhaseDeliberation     Phase = "DELIBERATION"
)

type Category string

const (
	CategoryQuality       Category = "QUALITY"
	CategoryDeadline      Category = "DEADLINE"
	CategoryPayment       Category = "PAYMENT"
	CategoryCommunication Category = "COMMUNICATION"
	CategoryScopeChange   Category = "SCOPE_CHANGE"
	CategoryFraud         Category = "FRAUD"
	CategoryContract      Category = "CONTRACT"
	CategoryOther         Category = "OTHER"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryQuality, CategoryDeadline, CategoryPayment, CategoryCommunication,
		CategoryScopeChange, CategoryFraud, CategoryContract, CategoryOther:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Result is the verdict outcome
type Result string

const (
	ResultPending       Result = "PENDING"
	ResultWinClient     Result = "WIN_CLIENT"
	ResultWinFreelancer Result = "WIN_FREELANCER"
	ResultSplit         Result = "SPLIT"
)

// Type records which sides of the project face each other, raiser first
type Type string

const (
	TypeClientVsFreelancer Type = "CLIENT_VS_FREELANCER"
	TypeClientVsBroker     Type = "CLIENT_VS_BROKER"
	TypeFreelancerVsClient Type = "FREELANCER_VS_CLIENT"
	TypeFreelancerVsBroker Type = "FREELANCER_VS_BROKER"
	TypeBrokerVsClient     Type = "BROKER_VS_CLIENT"
	TypeBrokerVsFreelancer Type = "BROKER_VS_FREELANCER"
)

// Dispute is the case record raised against a milestone
type Dispute struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProjectID      uuid.UUID  `json:"project_id" db:"project_id"`
	MilestoneID    uuid.UUID  `json:"milestone_id" db:"milestone_id"`
	RaisedBy       uuid.UUID  `json:"raised_by" db:"raised_by"`
	Against        uuid.UUID  `json:"against" db:"against"`
	GroupID        *uuid.UUID `json:"group_id,omitempty" db:"group_id"`
	Type           Type       `json:"type" db:"dispute_type"`
	Status         Status     `json:"status" db:"status"`
	Phase          Phase      `json:"phase" db:"phase"`
	Category       *Category  `json:"category,omitempty" db:"category"`
	Priority       Priority   `json:"priority" db:"priority"`
	Reason         string     `json:"reason" db:"reason"`
	DisputedAmount float64    `json:"disputed_amount" db:"disputed_amount"`

	AssignedStaffID *uuid.UUID `json:"assigned_staff_id,omitempty" db:"assigned_staff_id"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`

	Result       Result     `json:"result" db:"result"`
	Resolution   *string    `json:"resolution,omitempty" db:"resolution"`
	ResolvedByID *uuid.UUID `json:"resolved_by_id,omitempty" db:"resolved_by_id"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	WinnerID     *uuid.UUID `json:"winner_id,omitempty" db:"winner_id"`
	LoserID      *uuid.UUID `json:"loser_id,omitempty" db:"loser_id"`

	InfoRequestReason  *string    `json:"info_request_reason,omitempty" db:"info_request_reason"`
	InfoRequestedByID  *uuid.UUID `json:"info_requested_by_id,omitempty" db:"info_requested_by_id"`
	InfoRequestedAt    *time.Time `json:"info_requested_at,omitempty" db:"info_requested_at"`
	InfoProvidedAt     *time.Time `json:"info_provided_at,omitempty" db:"info_provided_at"`
	DismissalHoldUntil *time.Time `json:"dismissal_hold_until,omitempty" db:"dismissal_hold_until"`

	RejectionAppealReason     *string    `json:"rejection_appeal_reason,omitempty" db:"rejection_appeal_reason"`
	RejectionAppealedAt       *time.Time `json:"rejection_appealed_at,omitempty" db:"rejection_appealed_at"`
	RejectionAppealResolution *string    `json:"rejection_appeal_resolution,omitempty" db:"rejection_appeal_resolution"`
	RejectionAppealResolvedAt *time.Time `json:"rejection_appeal_resolved_at,omitempty" db:"rejection_appeal_resolved_at"`

	IsAppealed         bool       `json:"is_appealed" db:"is_appealed"`
	AppealReason       *string    `json:"appeal_reason,omitempty" db:"appeal_reason"`
	AppealedByID       *uuid.UUID `json:"appealed_by_id,omitempty" db:"appealed_by_id"`
	AppealedAt         *time.Time `json:"appealed_at,omitempty" db:"appealed_at"`
	AppealDeadline     *time.Time `json:"appeal_deadline,omitempty" db:"appeal_deadline"`
	AppealResolvedByID *uuid.UUID `json:"appeal_resolved_by_id,omitempty" db:"appeal_resolved_by_id"`
	AppealResolvedAt   *time.Time `json:"appeal_resolved_at,omitempty" db:"appeal_resolved_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsParty reports whether userID raised or defends the dispute
func (d *Dispute) IsParty(userID uuid.UUID) bool {
	return d.RaisedBy == userID || d.Against == userID
}

// RejectionFinal is true once a rejection can no longer be appealed to staff:
// it followed a rejection appeal or an appeal of the verdict.
func (d *Dispute) RejectionFinal() bool {
	return d.Status == StatusRejected && (d.RejectionAppealedAt != nil || d.IsAppealed)
}

// Activity is one entry of the dispute's status and phase history
type Activity struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	DisputeID  uuid.UUID  `json:"dispute_id" db:"dispute_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	Action     string     `json:"action" db:"action"`
	FromStatus Status     `json:"from_status" db:"from_status"`
	ToStatus   Status     `json:"to_status" db:"to_status"`
	FromPhase  Phase      `json:"from_phase" db:"from_phase"`
	ToPhase    Phase      `json:"to_phase" db:"to_phase"`
	Note       string     `json:"note" db:"note"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Message is a chat line in the dispute room, optionally tied to a hearing
type Message struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	DisputeID    uuid.UUID  `json:"dispute_id" db:"dispute_id"`
	HearingID    *uuid.UUID `json:"hearing_id,omitempty" db:"hearing_id"`
	SenderID     uuid.UUID  `json:"sender_id" db:"sender_id"`
	Content      string     `json:"content" db:"content"`
	IsHidden     bool       `json:"is_hidden" db:"is_hidden"`
	HiddenReason *string    `json:"hidden_reason,omitempty" db:"hidden_reason"`
	HiddenByID   *uuid.UUID `json:"hidden_by_id,omitempty" db:"hidden_by_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "PENDING"
	SettlementAccepted SettlementStatus = "ACCEPTED"
	SettlementRejected SettlementStatus = "REJECTED"
	SettlementExpired  SettlementStatus = "EXPIRED"
)

// Settlement is a party's offer to split the disputed amount
type Settlement struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	DisputeID          uuid.UUID        `json:"dispute_id" db:"dispute_id"`
	ProposerID         uuid.UUID        `json:"proposer_id" db:"proposer_id"`
	AmountToClient     float64          `json:"amount_to_client" db:"amount_to_client"`
	AmountToFreelancer float64          `json:"amount_to_freelancer" db:"amount_to_freelancer"`
	Terms              string           `json:"terms" db:"terms"`
	Status             SettlementStatus `json:"status" db:"status"`
	ResponderID        *uuid.UUID       `json:"responder_id,omitempty" db:"responder_id"`
	RespondedAt        *time.Time       `json:"responded_at,omitempty" db:"responded_at"`
	ExpiresAt          time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
}

// Evidence is a file a party attached to the dispute
type Evidence struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DisputeID   uuid.UUID `json:"dispute_id" db:"dispute_id"`
	UploaderID  uuid.UUID `json:"uploader_id" db:"uploader_id"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	StorageKey  string    `json:"storage_key" db:"storage_key"`
	Checksum    string    `json:"checksum" db:"checksum"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Detail is a dispute with its phase and status history
type Detail struct {
	Dispute    *Dispute   `json:"dispute"`
	Activities []Activity `json:"activities"`
}

// ListFilter narrows dispute listings
type ListFilter struct {
	Status          *Status
	AssignedStaffID *uuid.UUID
	PartyID         *uuid.UUID
	Limit           int
	Offset          int
}

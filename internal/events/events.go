package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a realtime event pushed to connected clients
type Type string

const (
	EvidenceUploaded      Type = "EVIDENCE_UPLOADED"
	MessageSent           Type = "MESSAGE_SENT"
	MessageHidden         Type = "MESSAGE_HIDDEN"
	VerdictIssued         Type = "VERDICT_ISSUED"
	HearingEnded          Type = "HEARING_ENDED"
	SettlementOffered     Type = "SETTLEMENT_OFFERED"
	AppealDeadlinePassed  Type = "APPEAL_DEADLINE_PASSED"
	SpeakerControlChanged Type = "SPEAKER_CONTROL_CHANGED"
	DisputeCreated        Type = "DISPUTE_CREATED"
	StaffOverloaded       Type = "STAFF_OVERLOADED"
	QuestionOverdue       Type = "QUESTION_OVERDUE"
	HearingOverdue        Type = "HEARING_OVERDUE"
)

// StaffVisible reports whether the event is also routed to the staff dashboard room
func (t Type) StaffVisible() bool {
	switch t {
	case DisputeCreated, StaffOverloaded, AppealDeadlinePassed:
		return true
	}
	return false
}

// Event carries the affected entity plus enough routing context for a client
// to place it without fetching anything.
type Event struct {
	Type       Type                   `json:"type"`
	DisputeID  uuid.UUID              `json:"dispute_id"`
	HearingID  *uuid.UUID             `json:"hearing_id,omitempty"`
	EntityID   uuid.UUID              `json:"entity_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// New builds an event stamped with the current time
func New(t Type, disputeID uuid.UUID, hearingID *uuid.UUID, entityID uuid.UUID, data map[string]interface{}) Event {
	return Event{
		Type:       t,
		DisputeID:  disputeID,
		HearingID:  hearingID,
		EntityID:   entityID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events at most once. Implementations must not block the caller
// on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

// Nop discards every event
var Nop Publisher = PublisherFunc(func(context.Context, Event) {})

// Recorder keeps published events in memory, used by tests and local tooling
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

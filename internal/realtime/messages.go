package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client command types
const (
	CommandSubscribe    = "subscribe"
	CommandUnsubscribe  = "unsubscribe"
	CommandJoinHearing  = "join_hearing"
	CommandLeaveHearing = "leave_hearing"
	CommandSendMessage  = "send_message"
	CommandSetSpeaker   = "set_speaker"
	CommandPing         = "ping"

	CommandJoinDispute         = "joinDispute"
	CommandLeaveDispute        = "leaveDispute"
	CommandJoinStaffDashboard  = "joinStaffDashboard"
	CommandLeaveStaffDashboard = "leaveStaffDashboard"
)

// aliases maps the camelCase command names web clients send onto the canonical ones
var aliases = map[string]string{
	"joinHearing":        CommandJoinHearing,
	"leaveHearing":       CommandLeaveHearing,
	"sendDisputeMessage": CommandSendMessage,
	"setSpeakerControl":  CommandSetSpeaker,
}

// Server frame types
const (
	FrameAck   = "ack"
	FrameError = "error"
	FrameEvent = "event"
)

// StaffRoom receives staff-facing events such as new disputes and overload alerts
const StaffRoom = "staff:dashboard"

func disputeRoom(id uuid.UUID) string { return "dispute:" + id.String() }

func hearingRoom(id uuid.UUID) string { return "hearing:" + id.String() }

// Envelope is one command sent by a client
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame is everything the server writes to a client
type Frame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Event     string      `json:"event,omitempty"`
	Room      string      `json:"room,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *FrameErr   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// FrameErr mirrors the HTTP error body
type FrameErr struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type disputePayload struct {
	DisputeID uuid.UUID `json:"dispute_id"`
}

type hearingPayload struct {
	HearingID uuid.UUID `json:"hearing_id"`
}

type messagePayload struct {
	DisputeID uuid.UUID  `json:"dispute_id"`
	HearingID *uuid.UUID `json:"hearing_id"`
	Content   string     `json:"content"`
}

type speakerPayload struct {
	HearingID uuid.UUID `json:"hearing_id"`
	Role      string    `json:"role"`
}

// messageAck acknowledges a chat message
type messageAck struct {
	Success   bool       `json:"success"`
	MessageID uuid.UUID  `json:"messageId"`
	DisputeID uuid.UUID  `json:"disputeId"`
	HearingID *uuid.UUID `json:"hearingId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

package disputes

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
)

const maxMessageLength = 5000

// HiddenPlaceholder replaces hidden message content for non-staff readers
const HiddenPlaceholder = "[message hidden by moderator]"

type SendMessageRequest struct {
	DisputeID uuid.UUID  `json:"dispute_id"`
	HearingID *uuid.UUID `json:"hearing_id"`
	Content   string     `json:"content" binding:"required"`
}

// SendMessage posts into the dispute room, or into a hearing's chat when HearingID is set
func (s *Service) SendMessage(ctx context.Context, actor auth.Actor, req SendMessageRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, &ValidationError{Field: "content", Message: "is required"}
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, &ValidationError{Field: "content", Message: fmt.Sprintf("exceeds %d characters", maxMessageLength)}
	}

	if _, err := s.load(ctx, actor, req.DisputeID); err != nil {
		return nil, err
	}
	if req.HearingID != nil {
		if s.chat == nil {
			return nil, &ValidationError{Field: "hearing_id", Message: "hearing chat is not available"}
		}
		if err := s.chat.CheckChat(ctx, req.DisputeID, *req.HearingID, actor.ID); err != nil {
			return nil, err
		}
	}

	m := &Message{
		ID:        uuid.New(),
		DisputeID: req.DisputeID,
		HearingID: req.HearingID,
		SenderID:  actor.ID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "message.send", EntityType: "dispute_message", EntityID: m.ID, After: m})
	s.publisher.Publish(ctx, events.New(events.MessageSent, m.DisputeID, m.HearingID, m.ID, map[string]interface{}{
		"kind":       "message",
		"message_id": m.ID,
		"sender_id":  m.SenderID,
		"content":    m.Content,
		"created_at": m.CreatedAt,
	}))
	return m, nil
}

// HideMessage hides a message from non-staff readers. Hiding twice is a no-op.
func (s *Service) HideMessage(ctx context.Context, actor auth.Actor, messageID uuid.UUID, reason string) (*Message, error) {
	if err := requireStaff(actor, "hide message"); err != nil {
		return nil, err
	}
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsHidden {
		return m, nil
	}

	before := *m
	reason = strings.TrimSpace(reason)
	staffID := actor.ID
	m.IsHidden = true
	m.HiddenReason = &reason
	m.HiddenByID = &staffID
	if err := s.repo.UpdateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to hide message: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "message.hide", EntityType: "dispute_message", EntityID: m.ID, Before: before, After: m})
	s.publisher.Publish(ctx, events.New(events.MessageHidden, m.DisputeID, m.HearingID, m.ID, map[string]interface{}{
		"kind":       "message",
		"message_id": m.ID,
		"reason":     reason,
	}))
	s.logger.Info("Message hidden", zap.String("message_id", m.ID.String()), zap.String("dispute_id", m.DisputeID.String()))
	return m, nil
}

// ListMessages returns the dispute chat with hidden content masked for non-staff
func (s *Service) ListMessages(ctx context.Context, actor auth.Actor, disputeID uuid.UUID) ([]Message, error) {
	if _, err := s.load(ctx, actor, disputeID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsStaff() {
		return msgs, nil
	}
	for i := range msgs {
		if msgs[i].IsHidden {
			msgs[i].Content = HiddenPlaceholder
			msgs[i].HiddenReason = nil
		}
	}
	return msgs, nil
}

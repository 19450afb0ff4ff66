package hearings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
)

// SetSpeakerControl changes who may post. Narrowing ALL to MODERATOR_ONLY keeps ALL
// valid for the grace period so in-flight submissions are not lost.
func (s *Service) SetSpeakerControl(ctx context.Context, actor auth.Actor, hearingID uuid.UUID, role SpeakerRole) (*Hearing, error) {
	if !role.Valid() {
		return nil, &disputes.ValidationError{Field: "role", Message: "unknown speaker role " + string(role)}
	}
	var (
		after Hearing
		prev  SpeakerRole
	)
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		if err := requireModerator(h, actor, "change speaker control"); err != nil {
			return err
		}
		if h.Status != StatusInProgress {
			return invalidHearing(h, "change speaker control", "hearing is not in progress")
		}
		now := s.now().UTC()
		prev = h.CurrentSpeakerRole
		s.switchSpeaker(h, role, now)
		h.ModeratorAwayAt = nil
		h.UpdatedAt = now
		if err := s.repo.UpdateHearing(ctx, h); err != nil {
			return err
		}
		after = *h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: actor.ID, Action: "hearing.speaker_control", EntityType: "hearing", EntityID: hearingID,
		Before: map[string]interface{}{"current_speaker_role": prev},
		After:  map[string]interface{}{"current_speaker_role": after.CurrentSpeakerRole},
	})
	s.publishSpeaker(ctx, &after, prev, "moderator")
	s.logger.Info("Speaker control changed",
		zap.String("hearing_id", hearingID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(after.CurrentSpeakerRole)),
	)
	return &after, nil
}

// switchSpeaker sets the role and opens or clears the grace window
func (s *Service) switchSpeaker(h *Hearing, role SpeakerRole, now time.Time) {
	if h.CurrentSpeakerRole == SpeakerAll && role == SpeakerModeratorOnly && s.cfg.SpeakerGracePeriod > 0 {
		grace := SpeakerAll
		until := now.Add(s.cfg.SpeakerGracePeriod)
		h.SpeakerGraceRole = &grace
		h.SpeakerGraceUntil = &until
	} else {
		h.SpeakerGraceRole, h.SpeakerGraceUntil = nil, nil
	}
	h.CurrentSpeakerRole = role
}

// speakerAllows reports whether a participant role may post now, counting the grace window.
// The moderator always may while the room is open.
func speakerAllows(h *Hearing, role ParticipantRole, now time.Time) bool {
	if role == RoleModerator {
		return true
	}
	if SpeakerAllows(h.CurrentSpeakerRole, role) {
		return true
	}
	if h.SpeakerGraceRole != nil && h.SpeakerGraceUntil != nil && now.Before(*h.SpeakerGraceUntil) {
		return SpeakerAllows(*h.SpeakerGraceRole, role)
	}
	return false
}

func (s *Service) checkSpeaker(h *Hearing, p *Participant, now time.Time) error {
	if speakerAllows(h, p.Role, now) {
		return nil
	}
	return &disputes.NotParticipantError{
		HearingID: h.ID,
		UserID:    p.UserID,
		Rule:      "speaker control is " + string(h.CurrentSpeakerRole) + ", " + string(p.Role) + " may not post",
	}
}

// ChatPermission explains whether userID may post into the hearing chat right now
func (s *Service) ChatPermission(ctx context.Context, hearingID, userID uuid.UUID) (*ChatPermission, error) {
	h, err := s.repo.GetHearing(ctx, hearingID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	perm := &ChatPermission{EffectiveRole: h.CurrentSpeakerRole}
	if h.SpeakerGraceUntil != nil && now.Before(*h.SpeakerGraceUntil) {
		perm.GraceUntil = h.SpeakerGraceUntil
	}

	p, err := s.repo.GetParticipant(ctx, hearingID, userID)
	switch {
	case errors.Is(err, ErrParticipantNotFound):
		perm.Reason = "not a participant of this hearing"
		return perm, nil
	case err != nil:
		return nil, err
	}
	perm.ParticipantRole = p.Role

	switch {
	case !h.IsChatRoomActive:
		perm.Reason = "hearing chat is not active"
	case p.Role == RoleObserver:
		perm.Reason = "observers may not post"
	case !speakerAllows(h, p.Role, now):
		perm.Reason = "speaker control is " + string(h.CurrentSpeakerRole)
	default:
		perm.Allowed = true
	}
	return perm, nil
}

// CheckChat gates dispute messages posted into a hearing
func (s *Service) CheckChat(ctx context.Context, disputeID, hearingID, userID uuid.UUID) error {
	h, err := s.repo.GetHearing(ctx, hearingID)
	if err != nil {
		return err
	}
	if h.DisputeID != disputeID {
		return &disputes.ValidationError{Field: "hearing_id", Message: "hearing belongs to another dispute"}
	}
	perm, err := s.ChatPermission(ctx, hearingID, userID)
	if err != nil {
		return err
	}
	if !perm.Allowed {
		return &disputes.NotParticipantError{HearingID: hearingID, UserID: userID, Rule: perm.Reason}
	}
	return nil
}

func (s *Service) publishSpeaker(ctx context.Context, h *Hearing, prev SpeakerRole, reason string) {
	hearingID := h.ID
	s.publisher.Publish(ctx, events.New(events.SpeakerControlChanged, h.DisputeID, &hearingID, h.ID, map[string]interface{}{
		"current_speaker_role":  h.CurrentSpeakerRole,
		"previous_speaker_role": prev,
		"grace_period_until":    h.SpeakerGraceUntil,
		"reason":                reason,
	}))
}

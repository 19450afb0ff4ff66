package hearings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
)

// Join marks the user online in the hearing. Joining while already online changes nothing.
// The moderator returning to a muted IN_PROGRESS hearing restores MODERATOR_ONLY.
func (s *Service) Join(ctx context.Context, hearingID, userID uuid.UUID) (*Participant, error) {
	var (
		out      Participant
		restored *Hearing
	)
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		if !h.Status.Active() {
			return invalidHearing(h, "join", "hearing is "+string(h.Status))
		}
		p, err := s.participant(ctx, h, userID)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		if !p.IsOnline {
			p.IsOnline = true
			p.LastOnlineAt = &now
			if p.JoinedAt == nil {
				p.JoinedAt = &now
			}
			if err := s.repo.UpdateParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to update participant: %w", err)
			}
		}

		if p.Role == RoleModerator && h.Status == StatusInProgress && h.ModeratorAwayAt != nil {
			h.ModeratorAwayAt = nil
			h.CurrentSpeakerRole = SpeakerModeratorOnly
			h.SpeakerGraceRole, h.SpeakerGraceUntil = nil, nil
			h.UpdatedAt = now
			if err := s.repo.UpdateHearing(ctx, h); err != nil {
				return err
			}
			snapshot := *h
			restored = &snapshot
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if restored != nil {
		s.publishSpeaker(ctx, restored, SpeakerMutedAll, "moderator_reconnected")
		s.logger.Info("Moderator reconnected, speaker control restored", zap.String("hearing_id", hearingID.String()))
	}
	return &out, nil
}

// Leave closes the user's online interval. Disconnects go through here too. When the
// moderator drops out of an IN_PROGRESS hearing everyone is muted until they return.
func (s *Service) Leave(ctx context.Context, hearingID, userID uuid.UUID) (*Participant, error) {
	var (
		out   Participant
		muted *Hearing
		prev  SpeakerRole
	)
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		p, err := s.participant(ctx, h, userID)
		if err != nil {
			return err
		}
		if !p.IsOnline {
			out = *p
			return nil
		}
		now := s.now().UTC()
		closeInterval(h, p, now)
		if err := s.repo.UpdateParticipant(ctx, p); err != nil {
			return fmt.Errorf("failed to update participant: %w", err)
		}

		if p.Role == RoleModerator && h.Status == StatusInProgress {
			prev = h.CurrentSpeakerRole
			h.CurrentSpeakerRole = SpeakerMutedAll
			h.SpeakerGraceRole, h.SpeakerGraceUntil = nil, nil
			h.ModeratorAwayAt = &now
			h.UpdatedAt = now
			if err := s.repo.UpdateHearing(ctx, h); err != nil {
				return err
			}
			snapshot := *h
			muted = &snapshot
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if muted != nil {
		s.publishSpeaker(ctx, muted, prev, "moderator_disconnected")
		s.logger.Warn("Moderator left an active hearing, room muted", zap.String("hearing_id", hearingID.String()))
	}
	return &out, nil
}

// closeInterval marks p offline and credits the whole minutes spent online while the
// hearing was running.
func closeInterval(h *Hearing, p *Participant, now time.Time) {
	if p.LastOnlineAt != nil && h.StartedAt != nil {
		from := *p.LastOnlineAt
		if from.Before(*h.StartedAt) {
			from = *h.StartedAt
		}
		if now.After(from) {
			p.TotalOnlineMinutes += int(now.Sub(from) / time.Minute)
		}
	}
	p.IsOnline = false
	p.LeftAt = &now
}

// AttendanceClass buckets a participant's punctuality
type AttendanceClass string

const (
	AttendanceOnTime    AttendanceClass = "ON_TIME"
	AttendanceLate      AttendanceClass = "LATE"
	AttendanceVeryLate  AttendanceClass = "VERY_LATE"
	AttendanceNoShow    AttendanceClass = "NO_SHOW"
	AttendanceNotJoined AttendanceClass = "NOT_JOINED"
)

// AttendanceRecord is one participant's line of the attendance summary
type AttendanceRecord struct {
	ParticipantID     uuid.UUID       `json:"participant_id"`
	UserID            uuid.UUID       `json:"user_id"`
	Role              ParticipantRole `json:"role"`
	IsRequired        bool            `json:"is_required"`
	IsOnline          bool            `json:"is_online"`
	JoinedAt          *time.Time      `json:"joined_at,omitempty"`
	AttendanceMinutes int             `json:"attendance_minutes"`
	LateMinutes       int             `json:"late_minutes"`
	IsNoShow          bool            `json:"is_no_show"`
	Class             AttendanceClass `json:"class"`
}

// AttendanceSummary is a read-only snapshot; computing it never touches participant rows
type AttendanceSummary struct {
	HearingID   uuid.UUID          `json:"hearing_id"`
	Status      Status             `json:"status"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	GeneratedAt time.Time          `json:"generated_at"`
	Records     []AttendanceRecord `json:"records"`
	OnTime      int                `json:"on_time"`
	Late        int                `json:"late"`
	VeryLate    int                `json:"very_late"`
	NoShows     int                `json:"no_shows"`
}

// ComputeAttendance derives the summary from the participant rows as of now
func ComputeAttendance(h *Hearing, participants []Participant, lateAfter, veryLateAfter time.Duration, now time.Time) *AttendanceSummary {
	summary := &AttendanceSummary{
		HearingID:   h.ID,
		Status:      h.Status,
		ScheduledAt: h.ScheduledAt,
		GeneratedAt: now,
		Records:     make([]AttendanceRecord, 0, len(participants)),
	}
	ended := h.Status == StatusCompleted

	for _, p := range participants {
		rec := AttendanceRecord{
			ParticipantID:     p.ID,
			UserID:            p.UserID,
			Role:              p.Role,
			IsRequired:        p.IsRequired,
			IsOnline:          p.IsOnline,
			JoinedAt:          p.JoinedAt,
			AttendanceMinutes: p.TotalOnlineMinutes,
		}
		if p.IsOnline {
			// work on a copy so the row itself stays untouched
			open := p
			closeInterval(h, &open, now)
			rec.AttendanceMinutes = open.TotalOnlineMinutes
		}

		switch {
		case p.JoinedAt == nil && ended:
			rec.IsNoShow = true
			rec.Class = AttendanceNoShow
			summary.NoShows++
		case p.JoinedAt == nil:
			rec.Class = AttendanceNotJoined
		default:
			late := p.JoinedAt.Sub(h.ScheduledAt)
			if late > 0 {
				rec.LateMinutes = int(late / time.Minute)
			}
			switch {
			case late >= veryLateAfter:
				rec.Class = AttendanceVeryLate
				summary.VeryLate++
			case late >= lateAfter:
				rec.Class = AttendanceLate
				summary.Late++
			default:
				rec.Class = AttendanceOnTime
				summary.OnTime++
			}
		}
		summary.Records = append(summary.Records, rec)
	}
	return summary
}

// AttendanceSummary reports attendance for a hearing the actor may read
func (s *Service) AttendanceSummary(ctx context.Context, actor auth.Actor, hearingID uuid.UUID) (*AttendanceSummary, error) {
	h, err := s.repo.GetHearing(ctx, hearingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, h, actor); err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, hearingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return ComputeAttendance(h, participants,
		time.Duration(s.cfg.LateThresholdMinutes)*time.Minute,
		time.Duration(s.cfg.VeryLateThresholdMinutes)*time.Minute,
		s.now().UTC(),
	), nil
}

package hearings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
)

// responseCutoff is how long before the hearing participants must have answered the invitation
const responseCutoff = 2 * time.Hour

// RedactedPlaceholder replaces redacted statement content for readers other than the moderator
const RedactedPlaceholder = "[statement redacted by moderator]"

// DisputeService is the part of the dispute aggregate hearings drive
type DisputeService interface {
	Get(ctx context.Context, id uuid.UUID) (*disputes.Dispute, error)
	AdvancePhase(ctx context.Context, actor auth.Actor, id uuid.UUID, target *disputes.Phase) (*disputes.Dispute, error)
	ResetPhase(ctx context.Context, actor auth.Actor, id uuid.UUID) (*disputes.Dispute, error)
}

// Archiver stores the record of an ended hearing
type Archiver interface {
	ArchiveMinutes(ctx context.Context, detail *Detail) (string, error)
}

// Service owns the hearing aggregate: lifecycle, presence, ledger and speaker control
type Service struct {
	repo      Repository
	disputes  DisputeService
	notifier  notifications.Sender
	audit     audit.Recorder
	publisher events.Publisher
	archiver  Archiver
	cfg       config.HearingsConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	disputeService DisputeService,
	notifier notifications.Sender,
	recorder audit.Recorder,
	publisher events.Publisher,
	cfg config.HearingsConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		disputes:  disputeService,
		notifier:  notifier,
		audit:     recorder,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetArchiver installs the minutes archiver called after a hearing ends
func (s *Service) SetArchiver(a Archiver) {
	s.archiver = a
}

type ScheduleRequest struct {
	DisputeID                uuid.UUID  `json:"dispute_id" binding:"required"`
	ScheduledAt              time.Time  `json:"scheduled_at" binding:"required"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	Agenda                   string     `json:"agenda"`
	RequiredDocuments        []string   `json:"required_documents"`
	ExternalMeetingLink      *string    `json:"external_meeting_link"`
	ModeratorID              *uuid.UUID `json:"moderator_id"`
	Tier                     Tier       `json:"tier"`
	IsEmergency              bool       `json:"is_emergency"`
}

type EndRequest struct {
	Summary        string   `json:"summary"`
	Findings       string   `json:"findings"`
	PendingActions []string `json:"pending_actions"`
	ForceEnd       bool     `json:"force_end"`
}

type RescheduleRequest struct {
	ScheduledAt              time.Time `json:"scheduled_at" binding:"required"`
	EstimatedDurationMinutes int       `json:"estimated_duration_minutes"`
	Agenda                   *string   `json:"agenda"`
	Reason                   string    `json:"reason"`
}

// Schedule creates a SCHEDULED hearing and seeds the raiser, defendant and moderator seats
func (s *Service) Schedule(ctx context.Context, actor auth.Actor, req ScheduleRequest) (*Detail, error) {
	if !actor.Role.IsStaff() {
		return nil, &disputes.ForbiddenError{ActorID: actor.ID, Action: "schedule hearing", Rule: "staff only"}
	}
	if req.EstimatedDurationMinutes == 0 {
		req.EstimatedDurationMinutes = s.cfg.DefaultDurationMinutes
	}
	if req.EstimatedDurationMinutes <= 0 {
		return nil, &disputes.ValidationError{Field: "estimated_duration_minutes", Message: "must be positive"}
	}
	if req.Tier == "" {
		req.Tier = TierOne
	}
	if req.Tier != TierOne && req.Tier != TierTwo {
		return nil, &disputes.ValidationError{Field: "tier", Message: "must be TIER_1 or TIER_2"}
	}

	now := s.now().UTC()
	scheduledAt := req.ScheduledAt.UTC()
	if err := s.checkNotice(now, scheduledAt, req.IsEmergency); err != nil {
		return nil, err
	}
	deadline, err := s.responseDeadline(now, scheduledAt, req.IsEmergency)
	if err != nil {
		return nil, err
	}

	d, err := s.disputes.Get(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if d.Status.Closed() {
		return nil, &disputes.InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "schedule hearing", Rule: "dispute is closed"}
	}

	moderatorID := actor.ID
	switch {
	case req.ModeratorID != nil:
		moderatorID = *req.ModeratorID
	case d.AssignedStaffID != nil:
		moderatorID = *d.AssignedStaffID
	}
	if d.IsParty(moderatorID) {
		return nil, &disputes.ValidationError{Field: "moderator_id", Message: "a party of the dispute cannot moderate it"}
	}

	h := &Hearing{
		ID:                       uuid.New(),
		DisputeID:                d.ID,
		Status:                   StatusScheduled,
		Tier:                     req.Tier,
		IsEmergency:              req.IsEmergency,
		ScheduledAt:              scheduledAt,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		Agenda:                   strings.TrimSpace(req.Agenda),
		RequiredDocuments:        req.RequiredDocuments,
		ExternalMeetingLink:      req.ExternalMeetingLink,
		ModeratorID:              moderatorID,
		ResponseDeadline:         &deadline,
		CurrentSpeakerRole:       s.startSpeakerRole(),
		PendingActions:           []string{},
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if h.RequiredDocuments == nil {
		h.RequiredDocuments = []string{}
	}

	seats := []Participant{
		{UserID: d.RaisedBy, Role: RoleRaiser, IsRequired: true, ResponseDeadline: &deadline},
		{UserID: d.Against, Role: RoleDefendant, IsRequired: true, ResponseDeadline: &deadline},
		{UserID: moderatorID, Role: RoleModerator, IsRequired: true, ConfirmedAt: &now},
	}

	var created []Participant
	err = s.repo.WithDisputeLock(ctx, d.ID, func(ctx context.Context) error {
		existing, err := s.repo.ListByDispute(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("failed to list hearings: %w", err)
		}
		for i := range existing {
			if existing[i].Status.Active() {
				return invalidHearing(&existing[i], "schedule hearing", "an active hearing already exists for this dispute")
			}
			if existing[i].HearingNumber > h.HearingNumber {
				h.HearingNumber = existing[i].HearingNumber
			}
		}
		h.HearingNumber++

		return s.repo.WithModeratorLock(ctx, moderatorID, func(ctx context.Context) error {
			if err := s.checkModeratorConflict(ctx, moderatorID, scheduledAt, h.EstimatedDurationMinutes, uuid.Nil, req.IsEmergency); err != nil {
				return err
			}
			if err := s.repo.CreateHearing(ctx, h); err != nil {
				return fmt.Errorf("failed to create hearing: %w", err)
			}
			created, err = s.seat(ctx, h.ID, seats, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.schedule", EntityType: "hearing", EntityID: h.ID, After: h})
	for _, p := range created {
		s.notify(ctx, p.UserID, "Hearing scheduled", "Hearing #"+fmt.Sprint(h.HearingNumber)+" at "+h.ScheduledAt.Format(time.RFC3339), h)
	}
	s.logger.Info("Hearing scheduled",
		zap.String("hearing_id", h.ID.String()),
		zap.String("dispute_id", h.DisputeID.String()),
		zap.Time("scheduled_at", h.ScheduledAt),
		zap.Bool("emergency", h.IsEmergency),
	)
	return &Detail{Hearing: h, Participants: created, Statements: []Statement{}, Questions: []Question{}}, nil
}

// Start opens the hearing room. Only the moderator (or an admin) may start it.
func (s *Service) Start(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Hearing, error) {
	current, err := s.repo.GetHearing(ctx, id)
	if err != nil {
		return nil, err
	}

	var before, after Hearing
	err = s.repo.WithDisputeLock(ctx, current.DisputeID, func(ctx context.Context) error {
		return s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
			before = *h
			if err := requireModerator(h, actor, "start hearing"); err != nil {
				return err
			}
			if err := checkTransition(h, StatusInProgress, "start"); err != nil {
				return err
			}
			d, err := s.disputes.Get(ctx, h.DisputeID)
			if err != nil {
				return err
			}
			if d.Status.Closed() {
				return invalidHearing(h, "start", "dispute is "+string(d.Status))
			}

			siblings, err := s.repo.ListByDispute(ctx, h.DisputeID)
			if err != nil {
				return fmt.Errorf("failed to list hearings: %w", err)
			}
			for _, other := range siblings {
				if other.ID != h.ID && other.Status == StatusInProgress {
					return invalidHearing(h, "start", "another hearing of this dispute is in progress")
				}
			}

			now := s.now().UTC()
			participants, err := s.repo.ListParticipants(ctx, h.ID)
			if err != nil {
				return fmt.Errorf("failed to list participants: %w", err)
			}
			earliest := h.ScheduledAt.Add(-time.Duration(s.cfg.EarlyStartBufferMinutes) * time.Minute)
			if now.Before(earliest) {
				for _, p := range participants {
					if p.IsRequired && (!p.IsOnline || p.ConfirmedAt == nil) {
						return invalidHearing(h, "start", "early start requires every required participant online and confirmed")
					}
				}
			}

			h.Status = StatusInProgress
			h.StartedAt = &now
			h.IsChatRoomActive = true
			h.CurrentSpeakerRole = s.startSpeakerRole()
			h.SpeakerGraceRole, h.SpeakerGraceUntil, h.ModeratorAwayAt = nil, nil, nil
			h.UpdatedAt = now
			if err := s.repo.UpdateHearing(ctx, h); err != nil {
				return err
			}

			// online time is counted from the start
			for i := range participants {
				p := &participants[i]
				if !p.IsOnline {
					continue
				}
				if p.JoinedAt == nil {
					p.JoinedAt = &now
				}
				p.LastOnlineAt = &now
				if err := s.repo.UpdateParticipant(ctx, p); err != nil {
					return fmt.Errorf("failed to update participant: %w", err)
				}
			}
			after = *h
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.start", EntityType: "hearing", EntityID: id, Before: before, After: after})
	s.publishSpeaker(ctx, &after, before.CurrentSpeakerRole, "hearing_started")
	s.notifyParticipants(ctx, &after, "Hearing started", "The hearing room is open")
	s.logger.Info("Hearing started",
		zap.String("hearing_id", id.String()),
		zap.String("dispute_id", after.DisputeID.String()),
		zap.String("speaker_role", string(after.CurrentSpeakerRole)),
	)
	return &after, nil
}

// End completes an IN_PROGRESS hearing. Without ForceEnd every required question must be
// resolved and every required party must have an opening statement on record.
func (s *Service) End(ctx context.Context, actor auth.Actor, id uuid.UUID, req EndRequest) (*EndResult, error) {
	result := &EndResult{CancelledQuestionIDs: []uuid.UUID{}, AbsentUserIDs: []uuid.UUID{}}
	var before Hearing

	err := s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
		before = *h
		if err := requireModerator(h, actor, "end hearing"); err != nil {
			return err
		}
		if err := checkTransition(h, StatusCompleted, "end"); err != nil {
			return err
		}

		questions, err := s.repo.ListQuestions(ctx, h.ID)
		if err != nil {
			return fmt.Errorf("failed to list questions: %w", err)
		}
		participants, err := s.repo.ListParticipants(ctx, h.ID)
		if err != nil {
			return fmt.Errorf("failed to list participants: %w", err)
		}
		statements, err := s.repo.ListStatements(ctx, h.ID)
		if err != nil {
			return fmt.Errorf("failed to list statements: %w", err)
		}

		if !req.ForceEnd {
			if incomplete := outstandingItems(h, questions, participants, statements); incomplete != nil {
				return incomplete
			}
		}

		now := s.now().UTC()
		if req.ForceEnd {
			for i := range questions {
				q := &questions[i]
				if q.Status != QuestionPending {
					continue
				}
				moderatorID := actor.ID
				q.Status = QuestionCancelled
				q.CancelledAt = &now
				q.CancelledByID = &moderatorID
				if err := s.repo.UpdateQuestion(ctx, q); err != nil {
					return fmt.Errorf("failed to cancel question: %w", err)
				}
				result.CancelledQuestionIDs = append(result.CancelledQuestionIDs, q.ID)
			}
		}

		for i := range participants {
			p := &participants[i]
			if p.IsOnline {
				closeInterval(h, p, now)
				if err := s.repo.UpdateParticipant(ctx, p); err != nil {
					return fmt.Errorf("failed to update participant: %w", err)
				}
			}
		}
		threshold := int(math.Ceil(float64(h.EstimatedDurationMinutes) * s.cfg.MinAttendanceRatio))
		for _, p := range participants {
			if p.IsRequired && p.Role != RoleModerator && p.TotalOnlineMinutes < threshold {
				result.AbsentUserIDs = append(result.AbsentUserIDs, p.UserID)
			}
		}

		h.Status = StatusCompleted
		h.EndedAt = &now
		h.IsChatRoomActive = false
		h.CurrentSpeakerRole = SpeakerMutedAll
		h.SpeakerGraceRole, h.SpeakerGraceUntil, h.ModeratorAwayAt = nil, nil, nil
		h.Summary = optionalText(req.Summary)
		h.Findings = optionalText(req.Findings)
		h.PendingActions = req.PendingActions
		if h.PendingActions == nil {
			h.PendingActions = []string{}
		}
		h.UpdatedAt = now
		if err := s.repo.UpdateHearing(ctx, h); err != nil {
			return err
		}
		ended := *h
		result.Hearing = &ended
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := result.Hearing
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.end", EntityType: "hearing", EntityID: id, Before: before, After: h})
	hearingID := h.ID
	s.publisher.Publish(ctx, events.New(events.HearingEnded, h.DisputeID, &hearingID, h.ID, map[string]interface{}{
		"status":                 h.Status,
		"ended_at":               h.EndedAt,
		"summary":                h.Summary,
		"forced":                 req.ForceEnd,
		"absent_user_ids":        result.AbsentUserIDs,
		"cancelled_question_ids": result.CancelledQuestionIDs,
	}))
	s.notifyParticipants(ctx, h, "Hearing ended", textOf(h.Summary))
	s.archive(ctx, h)

	s.logger.Info("Hearing ended",
		zap.String("hearing_id", id.String()),
		zap.Bool("forced", req.ForceEnd),
		zap.Int("cancelled_questions", len(result.CancelledQuestionIDs)),
		zap.Int("absent", len(result.AbsentUserIDs)),
	)
	return result, nil
}

// Reschedule retires the hearing as RESCHEDULED and creates its successor with the same seats
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id uuid.UUID, req RescheduleRequest) (*Detail, error) {
	current, err := s.repo.GetHearing(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		old     Hearing
		next    *Hearing
		created []Participant
	)
	err = s.repo.WithDisputeLock(ctx, current.DisputeID, func(ctx context.Context) error {
		return s.repo.WithModeratorLock(ctx, current.ModeratorID, func(ctx context.Context) error {
			return s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
				if err := requireModerator(h, actor, "reschedule hearing"); err != nil {
					return err
				}
				if err := checkTransition(h, StatusRescheduled, "reschedule"); err != nil {
					return err
				}
				if h.RescheduleCount >= s.cfg.MaxReschedules {
					return invalidHearing(h, "reschedule", "reschedule limit reached")
				}

				now := s.now().UTC()
				cutoff := h.ScheduledAt.Add(-time.Duration(s.cfg.RescheduleCutoffHours) * time.Hour)
				if now.After(cutoff) {
					return invalidHearing(h, "reschedule", fmt.Sprintf("hearings cannot be rescheduled within %d hours of the start", s.cfg.RescheduleCutoffHours))
				}
				scheduledAt := req.ScheduledAt.UTC()
				if err := s.checkNotice(now, scheduledAt, h.IsEmergency); err != nil {
					return err
				}
				deadline, err := s.responseDeadline(now, scheduledAt, h.IsEmergency)
				if err != nil {
					return err
				}
				duration := req.EstimatedDurationMinutes
				if duration <= 0 {
					duration = h.EstimatedDurationMinutes
				}
				if err := s.checkModeratorConflict(ctx, h.ModeratorID, scheduledAt, duration, h.ID, h.IsEmergency); err != nil {
					return err
				}

				old = *h
				h.Status = StatusRescheduled
				h.IsChatRoomActive = false
				h.UpdatedAt = now
				if reason := strings.TrimSpace(req.Reason); reason != "" {
					h.CancelReason = &reason
				}
				if err := s.repo.UpdateHearing(ctx, h); err != nil {
					return err
				}

				previousID := h.ID
				agenda := h.Agenda
				if req.Agenda != nil {
					agenda = strings.TrimSpace(*req.Agenda)
				}
				next = &Hearing{
					ID:                       uuid.New(),
					DisputeID:                h.DisputeID,
					HearingNumber:            h.HearingNumber + 1,
					Status:                   StatusScheduled,
					Tier:                     h.Tier,
					IsEmergency:              h.IsEmergency,
					ScheduledAt:              scheduledAt,
					EstimatedDurationMinutes: duration,
					Agenda:                   agenda,
					RequiredDocuments:        h.RequiredDocuments,
					ExternalMeetingLink:      h.ExternalMeetingLink,
					ModeratorID:              h.ModeratorID,
					ResponseDeadline:         &deadline,
					CurrentSpeakerRole:       s.startSpeakerRole(),
					PendingActions:           []string{},
					RescheduleCount:          h.RescheduleCount + 1,
					PreviousHearingID:        &previousID,
					LastRescheduledAt:        &now,
					CreatedAt:                now,
					UpdatedAt:                now,
				}
				if err := s.repo.CreateHearing(ctx, next); err != nil {
					return fmt.Errorf("failed to create hearing: %w", err)
				}

				previous, err := s.repo.ListParticipants(ctx, h.ID)
				if err != nil {
					return fmt.Errorf("failed to list participants: %w", err)
				}
				seats := make([]Participant, 0, len(previous))
				for _, p := range previous {
					seat := Participant{UserID: p.UserID, Role: p.Role, IsRequired: p.IsRequired}
					if p.Role == RoleModerator {
						seat.ConfirmedAt = &now
					} else {
						seat.ResponseDeadline = &deadline
					}
					seats = append(seats, seat)
				}
				if created, err = s.seat(ctx, next.ID, seats, now); err != nil {
					return err
				}

				if s.cfg.ResetPhaseOnReschedule {
					if _, err := s.disputes.ResetPhase(ctx, actor, h.DisputeID); err != nil {
						return fmt.Errorf("failed to reset dispute phase: %w", err)
					}
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.reschedule", EntityType: "hearing", EntityID: id, Before: old, After: next})
	for _, p := range created {
		s.notify(ctx, p.UserID, "Hearing rescheduled", "New time "+next.ScheduledAt.Format(time.RFC3339), next)
	}
	s.logger.Info("Hearing rescheduled",
		zap.String("hearing_id", id.String()),
		zap.String("next_hearing_id", next.ID.String()),
		zap.Int("reschedule_count", next.RescheduleCount),
	)
	return &Detail{Hearing: next, Participants: created, Statements: []Statement{}, Questions: []Question{}}, nil
}

// Cancel calls off a SCHEDULED hearing
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Hearing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &disputes.ValidationError{Field: "reason", Message: "is required"}
	}
	var before, after Hearing
	err := s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
		before = *h
		if err := requireModerator(h, actor, "cancel hearing"); err != nil {
			return err
		}
		if err := checkTransition(h, StatusCanceled, "cancel"); err != nil {
			return err
		}
		h.Status = StatusCanceled
		h.CancelReason = &reason
		h.IsChatRoomActive = false
		h.UpdatedAt = s.now().UTC()
		if err := s.repo.UpdateHearing(ctx, h); err != nil {
			return err
		}
		after = *h
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.cancel", EntityType: "hearing", EntityID: id, Before: before, After: after})
	s.notifyParticipants(ctx, &after, "Hearing canceled", reason)
	s.logger.Info("Hearing canceled", zap.String("hearing_id", id.String()))
	return &after, nil
}

// ConfirmAttendance records that the caller will attend. Repeated calls keep the first confirmation.
func (s *Service) ConfirmAttendance(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Participant, error) {
	var out Participant
	err := s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
		if !h.Status.Active() {
			return invalidHearing(h, "confirm attendance", "hearing is "+string(h.Status))
		}
		p, err := s.participant(ctx, h, actor.ID)
		if err != nil {
			return err
		}
		if p.ConfirmedAt == nil {
			now := s.now().UTC()
			p.ConfirmedAt = &now
			if err := s.repo.UpdateParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to update participant: %w", err)
			}
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type AddParticipantRequest struct {
	UserID     uuid.UUID       `json:"user_id" binding:"required"`
	Role       ParticipantRole `json:"role"`
	IsRequired bool            `json:"is_required"`
}

// AddParticipant seats a witness or observer. Moderator only.
func (s *Service) AddParticipant(ctx context.Context, actor auth.Actor, id uuid.UUID, req AddParticipantRequest) (*Participant, error) {
	if req.Role == "" {
		req.Role = RoleWitness
	}
	if req.Role != RoleWitness && req.Role != RoleObserver {
		return nil, &disputes.ValidationError{Field: "role", Message: "must be WITNESS or OBSERVER"}
	}

	var created []Participant
	err := s.repo.WithHearingLock(ctx, id, func(ctx context.Context, h *Hearing) error {
		if err := requireModerator(h, actor, "add participant"); err != nil {
			return err
		}
		if !h.Status.Active() {
			return invalidHearing(h, "add participant", "hearing is "+string(h.Status))
		}
		_, err := s.repo.GetParticipant(ctx, h.ID, req.UserID)
		switch {
		case err == nil:
			return &disputes.ValidationError{Field: "user_id", Message: "already a participant"}
		case !errors.Is(err, ErrParticipantNotFound):
			return err
		}
		now := s.now().UTC()
		created, err = s.seat(ctx, h.ID, []Participant{{UserID: req.UserID, Role: req.Role, IsRequired: req.IsRequired, ResponseDeadline: h.ResponseDeadline}}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	p := created[0]
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.add_participant", EntityType: "hearing_participant", EntityID: p.ID, After: p})
	s.notifier.Send(ctx, notifications.Notification{
		UserID: p.UserID, Title: "Invited to a hearing", Body: "You were invited as " + string(p.Role),
		RelatedType: "HEARING", RelatedID: id,
	})
	return &p, nil
}

// GetHearing returns the hearing with everything it owns, filtered for the reader
func (s *Service) GetHearing(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Detail, error) {
	h, err := s.repo.GetHearing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, h, actor); err != nil {
		return nil, err
	}
	detail, err := s.loadDetail(ctx, h)
	if err != nil {
		return nil, err
	}
	detail.Statements = visibleStatements(detail.Statements, h, actor)
	return detail, nil
}

// ListForDispute lists every hearing of a dispute the actor may read
func (s *Service) ListForDispute(ctx context.Context, actor auth.Actor, disputeID uuid.UUID) ([]Hearing, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !disputes.CanAccess(d, actor) {
		return nil, &disputes.ForbiddenError{ActorID: actor.ID, Action: "list hearings", Rule: "only parties and staff"}
	}
	return s.repo.ListByDispute(ctx, disputeID)
}

// ListMine lists the hearings the actor holds a seat in
func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]Hearing, error) {
	return s.repo.ListForUser(ctx, actor.ID)
}

// AdvancePhase moves the dispute phase forward from inside the hearing. Moderator only.
func (s *Service) AdvancePhase(ctx context.Context, actor auth.Actor, id uuid.UUID, target *disputes.Phase) (*disputes.Dispute, error) {
	h, err := s.repo.GetHearing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireModerator(h, actor, "advance phase"); err != nil {
		return nil, err
	}
	if h.Status != StatusInProgress {
		return nil, invalidHearing(h, "advance phase", "hearing is not in progress")
	}
	return s.disputes.AdvancePhase(ctx, actor, h.DisputeID, target)
}

func (s *Service) loadDetail(ctx context.Context, h *Hearing) (*Detail, error) {
	participants, err := s.repo.ListParticipants(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	statements, err := s.repo.ListStatements(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	questions, err := s.repo.ListQuestions(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return &Detail{Hearing: h, Participants: participants, Statements: statements, Questions: questions}, nil
}

// checkRead lets participants and staff read a hearing
func (s *Service) checkRead(ctx context.Context, h *Hearing, actor auth.Actor) error {
	if actor.Role.IsStaff() {
		return nil
	}
	_, err := s.repo.GetParticipant(ctx, h.ID, actor.ID)
	if errors.Is(err, ErrParticipantNotFound) {
		return &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "not a participant of this hearing"}
	}
	return err
}

func (s *Service) participant(ctx context.Context, h *Hearing, userID uuid.UUID) (*Participant, error) {
	p, err := s.repo.GetParticipant(ctx, h.ID, userID)
	if errors.Is(err, ErrParticipantNotFound) {
		return nil, &disputes.NotParticipantError{HearingID: h.ID, UserID: userID, Rule: "not a participant of this hearing"}
	}
	return p, err
}

func (s *Service) seat(ctx context.Context, hearingID uuid.UUID, seats []Participant, now time.Time) ([]Participant, error) {
	out := make([]Participant, 0, len(seats))
	for _, p := range seats {
		p.ID = uuid.New()
		p.HearingID = hearingID
		p.InvitedAt = now
		if err := s.repo.CreateParticipant(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) checkNotice(now, scheduledAt time.Time, emergency bool) error {
	hours := s.cfg.MinNoticeHours
	if emergency {
		hours = s.cfg.EmergencyMinNoticeHours
	}
	if !scheduledAt.After(now) {
		return &disputes.ValidationError{Field: "scheduled_at", Message: "must be in the future"}
	}
	if scheduledAt.Before(now.Add(time.Duration(hours) * time.Hour)) {
		return &disputes.ValidationError{Field: "scheduled_at", Message: fmt.Sprintf("requires at least %d hours of notice", hours)}
	}
	return nil
}

// responseDeadline is min(now + ResponseDeadlineDays, scheduledAt - 2h). Emergency
// hearings with no room left get a deadline of now.
func (s *Service) responseDeadline(now, scheduledAt time.Time, emergency bool) (time.Time, error) {
	deadline := now.Add(time.Duration(s.cfg.ResponseDeadlineDays) * 24 * time.Hour)
	if cutoff := scheduledAt.Add(-responseCutoff); cutoff.Before(deadline) {
		deadline = cutoff
	}
	if !deadline.After(now) {
		if emergency {
			return now, nil
		}
		return time.Time{}, &disputes.ValidationError{Field: "scheduled_at", Message: "leaves no time for participants to respond"}
	}
	return deadline, nil
}

// checkModeratorConflict rejects overlapping SCHEDULED or IN_PROGRESS hearings of one moderator
func (s *Service) checkModeratorConflict(ctx context.Context, moderatorID uuid.UUID, start time.Time, minutes int, exclude uuid.UUID, emergency bool) error {
	if emergency && s.cfg.AllowEmergencyOverlap {
		return nil
	}
	booked, err := s.repo.ListByModerator(ctx, moderatorID, []Status{StatusScheduled, StatusInProgress})
	if err != nil {
		return fmt.Errorf("failed to list moderator hearings: %w", err)
	}
	length := time.Duration(minutes) * time.Minute
	for _, h := range booked {
		if h.ID == exclude || !overlaps(&h, start, length) {
			continue
		}
		next := nextAvailable(booked, start, length, exclude)
		return &disputes.SchedulingConflictError{ModeratorID: moderatorID, ConflictingHearingID: h.ID, NextAvailableAt: &next}
	}
	return nil
}

func overlaps(h *Hearing, start time.Time, length time.Duration) bool {
	return start.Before(h.EndsAt()) && h.ScheduledAt.Before(start.Add(length))
}

// nextAvailable pushes start past every booked window it collides with
func nextAvailable(booked []Hearing, start time.Time, length time.Duration, exclude uuid.UUID) time.Time {
	candidate := start
	for moved := true; moved; {
		moved = false
		for i := range booked {
			h := &booked[i]
			if h.ID != exclude && overlaps(h, candidate, length) {
				candidate = h.EndsAt()
				moved = true
			}
		}
	}
	return candidate
}

// outstandingItems lists required questions still pending and required parties without an opening statement
func outstandingItems(h *Hearing, questions []Question, participants []Participant, statements []Statement) *disputes.IncompleteHearingError {
	incomplete := &disputes.IncompleteHearingError{HearingID: h.ID}
	for _, q := range questions {
		if q.IsRequired && q.Status == QuestionPending {
			incomplete.PendingQuestionIDs = append(incomplete.PendingQuestionIDs, q.ID)
		}
	}

	opened := make(map[uuid.UUID]bool)
	for _, st := range statements {
		if st.Type == StatementOpening && st.Status == StatementSubmitted && st.SupersededByID == nil && st.RetractionOfStatementID == nil {
			opened[st.ParticipantID] = true
		}
	}
	for _, p := range participants {
		if !p.IsRequired || (p.Role != RoleRaiser && p.Role != RoleDefendant) || opened[p.ID] {
			continue
		}
		incomplete.MissingStatements = append(incomplete.MissingStatements, disputes.MissingStatement{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			Type:          string(StatementOpening),
		})
	}

	if len(incomplete.PendingQuestionIDs) == 0 && len(incomplete.MissingStatements) == 0 {
		return nil
	}
	return incomplete
}

// visibleStatements hides other authors' drafts and masks redacted content for everyone but the moderator
func visibleStatements(statements []Statement, h *Hearing, actor auth.Actor) []Statement {
	moderator := actor.ID == h.ModeratorID || actor.IsAdmin()
	out := make([]Statement, 0, len(statements))
	for _, st := range statements {
		if st.Status == StatementDraft && st.AuthorID != actor.ID {
			continue
		}
		if st.IsRedacted && !moderator {
			st.Content = RedactedPlaceholder
			st.Attachments = []string{}
		}
		out = append(out, st)
	}
	return out
}

func (s *Service) archive(ctx context.Context, h *Hearing) {
	if s.archiver == nil {
		return
	}
	detail, err := s.loadDetail(ctx, h)
	if err != nil {
		s.logger.Warn("Failed to load hearing for archiving", zap.String("hearing_id", h.ID.String()), zap.Error(err))
		return
	}
	key, err := s.archiver.ArchiveMinutes(ctx, detail)
	if err != nil {
		s.logger.Warn("Failed to archive hearing minutes", zap.String("hearing_id", h.ID.String()), zap.Error(err))
		return
	}
	s.logger.Info("Hearing minutes archived", zap.String("hearing_id", h.ID.String()), zap.String("key", key))
}

func (s *Service) startSpeakerRole() SpeakerRole {
	if r := SpeakerRole(s.cfg.StartSpeakerRole); r.Valid() {
		return r
	}
	return SpeakerAll
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, title, body string, h *Hearing) {
	s.notifier.Send(ctx, notifications.Notification{
		UserID:      userID,
		Title:       title,
		Body:        body,
		RelatedType: "HEARING",
		RelatedID:   h.ID,
	})
}

func (s *Service) notifyParticipants(ctx context.Context, h *Hearing, title, body string) {
	participants, err := s.repo.ListParticipants(ctx, h.ID)
	if err != nil {
		s.logger.Warn("Failed to list participants for notification", zap.String("hearing_id", h.ID.String()), zap.Error(err))
		return
	}
	for _, p := range participants {
		s.notify(ctx, p.UserID, title, body, h)
	}
}

func requireModerator(h *Hearing, actor auth.Actor, action string) error {
	if actor.ID == h.ModeratorID || actor.IsAdmin() {
		return nil
	}
	return &disputes.NotModeratorError{HearingID: h.ID, ActorID: actor.ID, Action: action}
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func textOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

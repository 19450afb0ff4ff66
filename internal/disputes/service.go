package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
	"freelance-market/dispute-court/dispute-court-backend/internal/projects"
)

// ChatGate decides whether a user may post into a hearing's chat
type ChatGate interface {
	CheckChat(ctx context.Context, disputeID, hearingID, userID uuid.UUID) error
}

// Service owns the dispute aggregate and its status and phase transitions
type Service struct {
	repo      Repository
	directory projects.Directory
	notifier  notifications.Sender
	audit     audit.Recorder
	publisher events.Publisher
	chat      ChatGate
	cfg       config.HearingsConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	directory projects.Directory,
	notifier notifications.Sender,
	recorder audit.Recorder,
	publisher events.Publisher,
	cfg config.HearingsConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		audit:     recorder,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetChatGate installs the hearing chat check used for messages tied to a hearing
func (s *Service) SetChatGate(g ChatGate) {
	s.chat = g
}

type RaiseRequest struct {
	ProjectID      uuid.UUID  `json:"project_id" binding:"required"`
	MilestoneID    uuid.UUID  `json:"milestone_id" binding:"required"`
	Against        uuid.UUID  `json:"against" binding:"required"`
	Category       *Category  `json:"category"`
	Priority       Priority   `json:"priority"`
	Reason         string     `json:"reason" binding:"required"`
	DisputedAmount float64    `json:"disputed_amount"`
	GroupID        *uuid.UUID `json:"group_id"`
}

type ResolveRequest struct {
	Result     Result `json:"result" binding:"required"`
	Resolution string `json:"resolution" binding:"required"`
}

// Raise opens a dispute on a milestone between two of its parties
func (s *Service) Raise(ctx context.Context, actor auth.Actor, req RaiseRequest) (*Dispute, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}
	if req.Against == actor.ID {
		return nil, &ValidationError{Field: "against", Message: "cannot raise a dispute against yourself"}
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Message: "unknown priority " + string(req.Priority)}
	}
	if req.Category != nil && !req.Category.Valid() {
		return nil, &ValidationError{Field: "category", Message: "unknown category " + string(*req.Category)}
	}
	if req.DisputedAmount < 0 {
		return nil, &ValidationError{Field: "disputed_amount", Message: "must not be negative"}
	}

	parties, err := s.directory.MilestoneParties(ctx, req.ProjectID, req.MilestoneID)
	if errors.Is(err, projects.ErrMilestoneNotFound) {
		return nil, &ValidationError{Field: "milestone_id", Message: "milestone not found for project"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up milestone parties: %w", err)
	}
	if parties.MilestoneValue > 0 && req.DisputedAmount > parties.MilestoneValue {
		return nil, &ValidationError{Field: "disputed_amount", Message: "exceeds the milestone value"}
	}

	raiserRole, ok := parties.RoleOf(actor.ID)
	if !ok {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "raise dispute", Rule: "caller is not a party of the milestone"}
	}
	defendantRole, ok := parties.RoleOf(req.Against)
	if !ok {
		return nil, &ValidationError{Field: "against", Message: "defendant is not a party of the milestone"}
	}

	now := s.now().UTC()
	d := &Dispute{
		ID:             uuid.New(),
		ProjectID:      req.ProjectID,
		MilestoneID:    req.MilestoneID,
		RaisedBy:       actor.ID,
		Against:        req.Against,
		GroupID:        req.GroupID,
		Type:           Type(string(raiserRole) + "_VS_" + string(defendantRole)),
		Status:         StatusOpen,
		Phase:          PhasePresentation,
		Category:       req.Category,
		Priority:       req.Priority,
		Reason:         strings.TrimSpace(req.Reason),
		DisputedAmount: req.DisputedAmount,
		Result:         ResultPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}
	actorID := actor.ID
	if err := s.repo.AppendActivity(ctx, &Activity{
		ID: uuid.New(), DisputeID: d.ID, ActorID: &actorID, Action: "raise",
		ToStatus: d.Status, ToPhase: d.Phase, Note: d.Reason, CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record dispute activity: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "dispute.raise", EntityType: "dispute", EntityID: d.ID, After: d})
	s.publisher.Publish(ctx, events.New(events.DisputeCreated, d.ID, nil, d.ID, map[string]interface{}{
		"status":   d.Status,
		"type":     d.Type,
		"priority": d.Priority,
		"category": d.Category,
	}))
	s.notify(ctx, d.Against, "A dispute was raised against you", d.Reason, d.ID)

	s.logger.Info("Dispute raised",
		zap.String("dispute_id", d.ID.String()),
		zap.String("type", string(d.Type)),
	)
	return d, nil
}

// SubmitForReview moves an OPEN dispute into the staff queue
func (s *Service) SubmitForReview(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Dispute, error) {
	return s.apply(ctx, actor, id, "submit_for_review", func(d *Dispute, now time.Time) (string, error) {
		if d.RaisedBy != actor.ID && !actor.Role.IsStaff() {
			return "", &ForbiddenError{ActorID: actor.ID, Action: "submit for review", Rule: "only the raiser or staff"}
		}
		return "", s.moveTo(d, StatusPendingReview, "submit for review")
	})
}

// AcceptReview starts the review and assigns the reviewing staff member if nobody is assigned yet
func (s *Service) AcceptReview(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Dispute, error) {
	d, err := s.apply(ctx, actor, id, "accept_review", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "accept review"); err != nil {
			return "", err
		}
		if err := s.moveTo(d, StatusInReview, "accept review"); err != nil {
			return "", err
		}
		if d.AssignedStaffID == nil {
			staffID := actor.ID
			d.AssignedStaffID = &staffID
			d.AssignedAt = &now
		}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	s.checkCaseload(ctx, d, *d.AssignedStaffID)
	return d, nil
}

// AssignStaff records which staff member works the dispute
func (s *Service) AssignStaff(ctx context.Context, actor auth.Actor, id, staffID uuid.UUID) (*Dispute, error) {
	d, err := s.apply(ctx, actor, id, "assign_staff", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "assign staff"); err != nil {
			return "", err
		}
		if d.Status.Closed() {
			return "", &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "assign staff", Rule: "dispute is closed"}
		}
		d.AssignedStaffID = &staffID
		d.AssignedAt = &now
		return "assigned " + staffID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, staffID, "Dispute assigned to you", d.Reason, d.ID)
	s.checkCaseload(ctx, d, staffID)
	return d, nil
}

// RequestInfo asks the parties for more material. Allowed only from IN_REVIEW.
func (s *Service) RequestInfo(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}
	d, err := s.apply(ctx, actor, id, "request_info", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "request info"); err != nil {
			return "", err
		}
		if err := s.moveTo(d, StatusInfoRequested, "request info"); err != nil {
			return "", err
		}
		staffID := actor.ID
		d.InfoRequestReason = &reason
		d.InfoRequestedByID = &staffID
		d.InfoRequestedAt = &now
		d.InfoProvidedAt = nil
		return reason, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, d.RaisedBy, "More information requested", reason, d.ID)
	s.notify(ctx, d.Against, "More information requested", reason, d.ID)
	return d, nil
}

// ProvideInfo returns the dispute to review after a party answered the request
func (s *Service) ProvideInfo(ctx context.Context, actor auth.Actor, id uuid.UUID, note string) (*Dispute, error) {
	d, err := s.apply(ctx, actor, id, "provide_info", func(d *Dispute, now time.Time) (string, error) {
		if !d.IsParty(actor.ID) {
			return "", &ForbiddenError{ActorID: actor.ID, Action: "provide info", Rule: "only a party of the dispute"}
		}
		if err := s.moveTo(d, StatusInReview, "provide info"); err != nil {
			return "", err
		}
		d.InfoProvidedAt = &now
		return strings.TrimSpace(note), nil
	})
	if err != nil {
		return nil, err
	}
	if d.AssignedStaffID != nil {
		s.notify(ctx, *d.AssignedStaffID, "Requested information provided", note, d.ID)
	}
	return d, nil
}

// Resolve issues a verdict from IN_REVIEW, REJECTION_APPEALED or APPEALED
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, id uuid.UUID, req ResolveRequest) (*Dispute, error) {
	switch req.Result {
	case ResultWinClient, ResultWinFreelancer, ResultSplit:
	default:
		return nil, &ValidationError{Field: "result", Message: "must be WIN_CLIENT, WIN_FREELANCER or SPLIT"}
	}
	resolution := strings.TrimSpace(req.Resolution)
	if resolution == "" {
		return nil, &ValidationError{Field: "resolution", Message: "is required"}
	}

	d, err := s.apply(ctx, actor, id, "resolve", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "resolve"); err != nil {
			return "", err
		}
		from := d.Status
		if err := s.moveTo(d, StatusResolved, "resolve"); err != nil {
			return "", err
		}
		s.close(d, from, actor.ID, resolution, now)
		d.Result = req.Result
		d.WinnerID, d.LoserID = DetermineOutcome(req.Result, d)
		return resolution, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishVerdict(ctx, d)
	return d, nil
}

// Reject dismisses the dispute. A first rejection opens the dismissal hold.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	d, err := s.apply(ctx, actor, id, "reject", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "reject"); err != nil {
			return "", err
		}
		from := d.Status
		if err := s.moveTo(d, StatusRejected, "reject"); err != nil {
			return "", err
		}
		s.close(d, from, actor.ID, reason, now)
		d.WinnerID, d.LoserID = nil, nil
		if from == StatusInReview {
			hold := now.Add(time.Duration(s.cfg.DismissalHoldHours) * time.Hour)
			d.DismissalHoldUntil = &hold
		}
		return reason, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishVerdict(ctx, d)
	return d, nil
}

// AppealRejection asks staff to reconsider a first rejection once the dismissal hold has passed
func (s *Service) AppealRejection(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	d, err := s.apply(ctx, actor, id, "appeal_rejection", func(d *Dispute, now time.Time) (string, error) {
		if d.RaisedBy != actor.ID {
			return "", &ForbiddenError{ActorID: actor.ID, Action: "appeal rejection", Rule: "only the raiser may appeal a rejection"}
		}
		if d.Status == StatusRejected && d.DismissalHoldUntil != nil && now.Before(*d.DismissalHoldUntil) {
			return "", &InvalidStateError{
				Entity:    "dispute",
				Current:   string(d.Status),
				Attempted: "appeal rejection",
				Rule:      "dismissal hold active until " + d.DismissalHoldUntil.UTC().Format(time.RFC3339),
			}
		}
		if err := s.moveTo(d, StatusRejectionAppealed, "appeal rejection"); err != nil {
			return "", err
		}
		d.RejectionAppealReason = &reason
		d.RejectionAppealedAt = &now
		d.ResolvedAt = nil
		d.AppealDeadline = nil
		return reason, nil
	})
	if err != nil {
		return nil, err
	}
	if d.AssignedStaffID != nil {
		s.notify(ctx, *d.AssignedStaffID, "Rejection appealed", reason, d.ID)
	}
	return d, nil
}

// Appeal contests a verdict or a final rejection. One appeal per dispute, before the deadline.
func (s *Service) Appeal(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	d, err := s.apply(ctx, actor, id, "appeal", func(d *Dispute, now time.Time) (string, error) {
		if !d.IsParty(actor.ID) {
			return "", &ForbiddenError{ActorID: actor.ID, Action: "appeal", Rule: "only a party of the dispute"}
		}
		if d.AppealDeadline != nil && now.After(*d.AppealDeadline) {
			return "", &InvalidStateError{
				Entity:    "dispute",
				Current:   string(d.Status),
				Attempted: "appeal",
				Rule:      "appeal deadline passed at " + d.AppealDeadline.UTC().Format(time.RFC3339),
			}
		}
		if err := s.moveTo(d, StatusAppealed, "appeal"); err != nil {
			return "", err
		}
		appellant := actor.ID
		d.IsAppealed = true
		d.AppealReason = &reason
		d.AppealedByID = &appellant
		d.AppealedAt = &now
		return reason, nil
	})
	if err != nil {
		return nil, err
	}
	if d.AssignedStaffID != nil {
		s.notify(ctx, *d.AssignedStaffID, "Verdict appealed", reason, d.ID)
	}
	return d, nil
}

// AdvancePhase moves the phase one step forward. When target is set it must be the next phase.
func (s *Service) AdvancePhase(ctx context.Context, actor auth.Actor, id uuid.UUID, target *Phase) (*Dispute, error) {
	return s.apply(ctx, actor, id, "advance_phase", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "advance phase"); err != nil {
			return "", err
		}
		if d.Status.Closed() {
			return "", &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "advance phase", Rule: "dispute is closed"}
		}
		next, err := NextPhase(d.Phase)
		if err != nil {
			return "", err
		}
		if target != nil && *target != next {
			return "", &PhaseOrderError{Current: d.Phase, Attempted: *target}
		}
		d.Phase = next
		return "", nil
	})
}

// ResetPhase returns the dispute to PRESENTATION, used when the active hearing is rescheduled
func (s *Service) ResetPhase(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Dispute, error) {
	return s.apply(ctx, actor, id, "reset_phase", func(d *Dispute, now time.Time) (string, error) {
		if err := requireStaff(actor, "reset phase"); err != nil {
			return "", err
		}
		if d.Status.Closed() {
			return "", &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "reset phase", Rule: "dispute is closed"}
		}
		d.Phase = PhasePresentation
		return "hearing rescheduled", nil
	})
}

// GetDispute returns the dispute with its status and phase history
func (s *Service) GetDispute(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Detail, error) {
	d, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	activities, err := s.repo.ListActivities(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispute activities: %w", err)
	}
	return &Detail{Dispute: d, Activities: activities}, nil
}

// Get loads a dispute without an access check, for collaborating services
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	return s.repo.Get(ctx, id)
}

// ListDisputes returns the staff queue, or a party's own disputes
func (s *Service) ListDisputes(ctx context.Context, actor auth.Actor, filter ListFilter) ([]Dispute, error) {
	if !actor.Role.IsStaff() {
		id := actor.ID
		filter.PartyID = &id
	}
	return s.repo.List(ctx, filter)
}

// CanAccess reports whether actor may read the dispute
func CanAccess(d *Dispute, actor auth.Actor) bool {
	return actor.Role.IsStaff() || d.IsParty(actor.ID)
}

func (s *Service) load(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Dispute, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAccess(d, actor) {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "read dispute", Rule: "only parties and staff"}
	}
	return d, nil
}

// apply runs fn under the dispute lock, persists the row and its activity entry, then
// records the audit entry outside the transaction.
func (s *Service) apply(ctx context.Context, actor auth.Actor, id uuid.UUID, action string, fn func(d *Dispute, now time.Time) (string, error)) (*Dispute, error) {
	var before, after Dispute
	err := s.repo.WithDisputeLock(ctx, id, func(ctx context.Context, d *Dispute) error {
		before = *d
		now := s.now().UTC()

		note, err := fn(d, now)
		if err != nil {
			return err
		}
		d.UpdatedAt = now
		if err := s.repo.Update(ctx, d); err != nil {
			return fmt.Errorf("failed to update dispute: %w", err)
		}

		var actorID *uuid.UUID
		if actor.ID != uuid.Nil {
			a := actor.ID
			actorID = &a
		}
		if err := s.repo.AppendActivity(ctx, &Activity{
			ID:         uuid.New(),
			DisputeID:  d.ID,
			ActorID:    actorID,
			Action:     action,
			FromStatus: before.Status,
			ToStatus:   d.Status,
			FromPhase:  before.Phase,
			ToPhase:    d.Phase,
			Note:       note,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("failed to record dispute activity: %w", err)
		}
		after = *d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     "dispute." + action,
		EntityType: "dispute",
		EntityID:   id,
		Before:     before,
		After:      after,
	})
	s.logger.Info("Dispute updated",
		zap.String("dispute_id", id.String()),
		zap.String("action", action),
		zap.String("status", string(after.Status)),
		zap.String("phase", string(after.Phase)),
	)
	return &after, nil
}

func (s *Service) moveTo(d *Dispute, to Status, action string) error {
	if err := checkTransition(d, to, action); err != nil {
		return err
	}
	d.Status = to
	return nil
}

// close stamps the terminal fields shared by resolve and reject
func (s *Service) close(d *Dispute, from Status, staffID uuid.UUID, text string, now time.Time) {
	d.Resolution = &text
	d.ResolvedByID = &staffID
	d.ResolvedAt = &now
	deadline := now.Add(time.Duration(s.cfg.AppealWindowDays) * 24 * time.Hour)
	d.AppealDeadline = &deadline

	switch from {
	case StatusRejectionAppealed:
		d.RejectionAppealResolution = &text
		d.RejectionAppealResolvedAt = &now
	case StatusAppealed:
		d.AppealResolvedByID = &staffID
		d.AppealResolvedAt = &now
	}
}

func (s *Service) publishVerdict(ctx context.Context, d *Dispute) {
	data := map[string]interface{}{
		"status":          d.Status,
		"result":          d.Result,
		"resolved_at":     d.ResolvedAt,
		"appeal_deadline": d.AppealDeadline,
	}
	if d.WinnerID != nil {
		data["winner_id"] = *d.WinnerID
		data["loser_id"] = *d.LoserID
	}
	s.publisher.Publish(ctx, events.New(events.VerdictIssued, d.ID, nil, d.ID, data))

	title := "Dispute resolved"
	if d.Status == StatusRejected {
		title = "Dispute rejected"
	}
	body := ""
	if d.Resolution != nil {
		body = *d.Resolution
	}
	s.notify(ctx, d.RaisedBy, title, body, d.ID)
	s.notify(ctx, d.Against, title, body, d.ID)
}

// checkCaseload warns the staff dashboard when a member carries more than the limit
func (s *Service) checkCaseload(ctx context.Context, d *Dispute, staffID uuid.UUID) {
	if s.cfg.StaffCaseloadLimit <= 0 {
		return
	}
	n, err := s.repo.CountActiveByStaff(ctx, staffID)
	if err != nil {
		s.logger.Warn("Failed to count staff caseload", zap.String("staff_id", staffID.String()), zap.Error(err))
		return
	}
	if n <= s.cfg.StaffCaseloadLimit {
		return
	}
	s.publisher.Publish(ctx, events.New(events.StaffOverloaded, d.ID, nil, staffID, map[string]interface{}{
		"staff_id": staffID,
		"caseload": n,
		"limit":    s.cfg.StaffCaseloadLimit,
	}))
	s.logger.Warn("Staff caseload above limit",
		zap.String("staff_id", staffID.String()),
		zap.Int("caseload", n),
		zap.Int("limit", s.cfg.StaffCaseloadLimit),
	)
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, title, body string, disputeID uuid.UUID) {
	s.notifier.Send(ctx, notifications.Notification{
		UserID:      userID,
		Title:       title,
		Body:        body,
		RelatedType: "DISPUTE",
		RelatedID:   disputeID,
	})
}

func requireStaff(actor auth.Actor, action string) error {
	if !actor.Role.IsStaff() {
		return &ForbiddenError{ActorID: actor.ID, Action: action, Rule: "staff only"}
	}
	return nil
}

package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
)

const sweepTimeout = 30 * time.Second

// Sweeper watches hearing and dispute deadlines. It only notifies and publishes
// events; it never changes hearing or dispute state.
type Sweeper struct {
	hearings  hearings.Repository
	disputes  disputes.Repository
	notifier  notifications.Sender
	publisher events.Publisher
	cfg       config.HearingsConfig
	spec      string
	logger    *zap.Logger

	cron *cron.Cron
	now  func() time.Time

	mu            sync.Mutex
	lastSweep     time.Time
	seenQuestions map[uuid.UUID]bool
	seenHearings  map[uuid.UUID]bool
}

// Report counts what one sweep found
type Report struct {
	OverdueQuestions int `json:"overdue_questions"`
	OverdueHearings  int `json:"overdue_hearings"`
	AppealDeadlines  int `json:"appeal_deadlines"`
}

func New(
	hearingRepo hearings.Repository,
	disputeRepo disputes.Repository,
	notifier notifications.Sender,
	publisher events.Publisher,
	cfg config.HearingsConfig,
	spec string,
	logger *zap.Logger,
) *Sweeper {
	s := &Sweeper{
		hearings:      hearingRepo,
		disputes:      disputeRepo,
		notifier:      notifier,
		publisher:     publisher,
		cfg:           cfg,
		spec:          spec,
		logger:        logger,
		cron:          cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:           func() time.Time { return time.Now().UTC() },
		seenQuestions: make(map[uuid.UUID]bool),
		seenHearings:  make(map[uuid.UUID]bool),
	}
	s.lastSweep = s.now()
	return s
}

// Start schedules the sweep on the configured cron spec
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweeper %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("Deadline sweeper started", zap.String("spec", s.spec))
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Deadline sweeper stopped")
}

// Sweep runs every check once. Each item is reported a single time while it stays overdue.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	report := Report{
		OverdueQuestions: s.overdueQuestions(ctx, now),
		OverdueHearings:  s.overdueHearings(ctx, now),
		AppealDeadlines:  s.appealDeadlines(ctx, now),
	}
	if report != (Report{}) {
		s.logger.Info("Deadline sweep completed",
			zap.Int("overdue_questions", report.OverdueQuestions),
			zap.Int("overdue_hearings", report.OverdueHearings),
			zap.Int("appeal_deadlines", report.AppealDeadlines),
		)
	}
	return report
}

func (s *Sweeper) overdueQuestions(ctx context.Context, now time.Time) int {
	questions, err := s.hearings.ListOverdueQuestions(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list overdue questions", zap.Error(err))
		return 0
	}

	current := make(map[uuid.UUID]bool, len(questions))
	count := 0
	for _, q := range questions {
		current[q.ID] = true
		if s.seenQuestions[q.ID] {
			continue
		}
		h, err := s.hearings.GetHearing(ctx, q.HearingID)
		if err != nil {
			s.logger.Warn("Failed to load hearing of overdue question",
				zap.String("question_id", q.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.seenQuestions[q.ID] = true
		count++

		hearingID := h.ID
		s.publisher.Publish(ctx, events.New(events.QuestionOverdue, h.DisputeID, &hearingID, q.ID, map[string]interface{}{
			"target_user_id": q.TargetUserID,
			"deadline":       q.Deadline,
			"is_required":    q.IsRequired,
		}))
		for _, userID := range []uuid.UUID{q.TargetUserID, h.ModeratorID} {
			s.notifier.Send(ctx, notifications.Notification{
				UserID:      userID,
				Title:       "Hearing question overdue",
				Body:        fmt.Sprintf("A question in hearing #%d passed its deadline of %s", h.HearingNumber, q.Deadline.Format(time.RFC3339)),
				RelatedType: "HearingQuestion",
				RelatedID:   q.ID,
			})
		}
	}
	// answered or cancelled questions drop out of the list
	for id := range s.seenQuestions {
		if !current[id] {
			delete(s.seenQuestions, id)
		}
	}
	return count
}

// overdueHearings reports SCHEDULED hearings not started by the very-late threshold
func (s *Sweeper) overdueHearings(ctx context.Context, now time.Time) int {
	scheduled, err := s.hearings.ListByStatus(ctx, hearings.StatusScheduled)
	if err != nil {
		s.logger.Error("Failed to list scheduled hearings", zap.Error(err))
		return 0
	}

	grace := time.Duration(s.cfg.VeryLateThresholdMinutes) * time.Minute
	current := make(map[uuid.UUID]bool)
	count := 0
	for _, h := range scheduled {
		if !now.After(h.ScheduledAt.Add(grace)) {
			continue
		}
		current[h.ID] = true
		if s.seenHearings[h.ID] {
			continue
		}
		s.seenHearings[h.ID] = true
		count++

		hearingID := h.ID
		s.publisher.Publish(ctx, events.New(events.HearingOverdue, h.DisputeID, &hearingID, h.ID, map[string]interface{}{
			"scheduled_at": h.ScheduledAt,
			"moderator_id": h.ModeratorID,
		}))
		s.notifier.Send(ctx, notifications.Notification{
			UserID:      h.ModeratorID,
			Title:       "Hearing has not started",
			Body:        fmt.Sprintf("Hearing #%d was scheduled for %s and is still waiting to start", h.HearingNumber, h.ScheduledAt.Format(time.RFC3339)),
			RelatedType: "Hearing",
			RelatedID:   h.ID,
		})
	}
	for id := range s.seenHearings {
		if !current[id] {
			delete(s.seenHearings, id)
		}
	}
	return count
}

// appealDeadlines reports closed disputes whose appeal window ended since the last sweep
func (s *Sweeper) appealDeadlines(ctx context.Context, now time.Time) int {
	if !now.After(s.lastSweep) {
		return 0
	}
	list, err := s.disputes.ListAppealDeadlinesBetween(ctx, s.lastSweep, now)
	if err != nil {
		s.logger.Error("Failed to list passed appeal deadlines", zap.Error(err))
		return 0
	}
	s.lastSweep = now

	for _, d := range list {
		s.publisher.Publish(ctx, events.New(events.AppealDeadlinePassed, d.ID, nil, d.ID, map[string]interface{}{
			"status":          d.Status,
			"appeal_deadline": d.AppealDeadline,
		}))
		for _, userID := range []uuid.UUID{d.RaisedBy, d.Against} {
			s.notifier.Send(ctx, notifications.Notification{
				UserID:      userID,
				Title:       "Appeal window closed",
				Body:        "The appeal window for your dispute has ended and the decision is final",
				RelatedType: "Dispute",
				RelatedID:   d.ID,
			})
		}
	}
	return len(list)
}

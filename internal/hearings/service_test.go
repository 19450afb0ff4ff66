package hearings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
	"freelance-market/dispute-court/dispute-court-backend/internal/projects"
)

var (
	fixedNow    = time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)
	hearingTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

// MockSender is a mock implementation of notifications.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n notifications.Notification) {
	m.Called(ctx, n)
}

// MockRecorder is a mock implementation of audit.Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, e audit.Entry) {
	m.Called(ctx, e)
}

type fixture struct {
	svc       *Service
	disputes  *disputes.Service
	repo      Repository
	events    *events.Recorder
	notifier  *MockSender
	dir       *projects.StaticDirectory
	cfg       config.HearingsConfig
	nowMu     sync.RWMutex
	now       time.Time
	client    auth.Actor
	freelance auth.Actor
	moderator auth.Actor
	admin     auth.Actor
	dispute   *disputes.Dispute
}

func newFixture(t *testing.T, tweak ...func(*config.HearingsConfig)) *fixture {
	t.Helper()
	return buildFixture(t, disputes.NewMemoryRepository(), NewMemoryRepository(), tweak...)
}

func buildFixture(t *testing.T, disputeRepo disputes.Repository, repo Repository, tweak ...func(*config.HearingsConfig)) *fixture {
	t.Helper()
	f := &fixture{
		repo:      repo,
		events:    events.NewRecorder(),
		notifier:  new(MockSender),
		dir:       projects.NewStaticDirectory(),
		cfg:       config.Default().Hearings,
		now:       fixedNow,
		client:    auth.Actor{ID: uuid.New(), Role: auth.RoleClient},
		freelance: auth.Actor{ID: uuid.New(), Role: auth.RoleFreelancer},
		moderator: auth.Actor{ID: uuid.New(), Role: auth.RoleStaff},
		admin:     auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin},
	}
	for _, fn := range tweak {
		fn(&f.cfg)
	}
	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.Anything).Return()
	f.notifier.On("Send", mock.Anything, mock.Anything).Return()

	f.disputes = disputes.NewService(disputeRepo, f.dir, f.notifier, recorder, f.events, f.cfg, zap.NewNop())
	f.svc = NewService(f.repo, f.disputes, f.notifier, recorder, f.events, f.cfg, zap.NewNop())
	f.svc.now = f.clock
	f.disputes.SetChatGate(f.svc)
	f.dispute = f.newDispute(t)
	return f
}

func (f *fixture) clock() time.Time {
	f.nowMu.RLock()
	defer f.nowMu.RUnlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.nowMu.Lock()
	f.now = t
	f.nowMu.Unlock()
}

func (f *fixture) advance(d time.Duration) {
	f.setNow(f.clock().Add(d))
}

// newDispute raises a dispute client vs freelancer and brings it to IN_REVIEW under the moderator
func (f *fixture) newDispute(t *testing.T) *disputes.Dispute {
	t.Helper()
	ctx := context.Background()
	freelancerID := f.freelance.ID
	project, milestone := f.dir.Add(
		projects.Project{Title: "Mobile app", ClientID: f.client.ID, FreelancerID: &freelancerID},
		projects.Milestone{Title: "Beta build", Amount: 2000},
	)
	d, err := f.disputes.Raise(ctx, f.client, disputes.RaiseRequest{
		ProjectID:   project.ID,
		MilestoneID: milestone.ID,
		Against:     f.freelance.ID,
		Reason:      "Build crashes on start",
	})
	require.NoError(t, err)
	_, err = f.disputes.SubmitForReview(ctx, f.client, d.ID)
	require.NoError(t, err)
	d, err = f.disputes.AcceptReview(ctx, f.moderator, d.ID)
	require.NoError(t, err)
	return d
}

func (f *fixture) schedule(t *testing.T) *Hearing {
	t.Helper()
	detail, err := f.svc.Schedule(context.Background(), f.moderator, ScheduleRequest{
		DisputeID:                f.dispute.ID,
		ScheduledAt:              hearingTime,
		EstimatedDurationMinutes: 60,
		Agenda:                   "Walk through the crash reports",
		Tier:                     TierOne,
	})
	require.NoError(t, err)
	return detail.Hearing
}

func (f *fixture) start(t *testing.T) *Hearing {
	t.Helper()
	h := f.schedule(t)
	f.setNow(hearingTime)
	started, err := f.svc.Start(context.Background(), f.moderator, h.ID)
	require.NoError(t, err)
	return started
}

func (f *fixture) submit(t *testing.T, actor auth.Actor, h *Hearing, typ StatementType, content string) *Statement {
	t.Helper()
	st, err := f.svc.SubmitStatement(context.Background(), actor, h.ID, StatementRequest{Type: typ, Content: content})
	require.NoError(t, err)
	return st
}

func (f *fixture) toPhase(t *testing.T, h *Hearing, phase disputes.Phase) {
	t.Helper()
	for {
		d, err := f.disputes.Get(context.Background(), h.DisputeID)
		require.NoError(t, err)
		if d.Phase == phase {
			return
		}
		_, err = f.svc.AdvancePhase(context.Background(), f.moderator, h.ID, nil)
		require.NoError(t, err)
	}
}

func TestScheduleSeedsParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := f.schedule(t)
	assert.Equal(t, StatusScheduled, h.Status)
	assert.Equal(t, 1, h.HearingNumber)
	assert.Equal(t, TierOne, h.Tier)
	assert.Equal(t, f.moderator.ID, h.ModeratorID)
	assert.Equal(t, SpeakerAll, h.CurrentSpeakerRole)
	require.NotNil(t, h.ResponseDeadline)
	assert.Equal(t, fixedNow.Add(7*24*time.Hour), *h.ResponseDeadline)

	participants, err := f.repo.ListParticipants(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, participants, 3)

	roles := map[ParticipantRole]Participant{}
	for _, p := range participants {
		roles[p.Role] = p
		assert.False(t, p.IsOnline)
		assert.True(t, p.IsRequired)
	}
	assert.Equal(t, f.client.ID, roles[RoleRaiser].UserID)
	assert.Equal(t, f.freelance.ID, roles[RoleDefendant].UserID)
	assert.Equal(t, f.moderator.ID, roles[RoleModerator].UserID)
	assert.NotNil(t, roles[RoleModerator].ConfirmedAt)
	assert.Nil(t, roles[RoleRaiser].ConfirmedAt)
}

func TestResponseDeadlineStopsTwoHoursBeforeHearing(t *testing.T) {
	f := newFixture(t)
	soon := fixedNow.Add(30 * time.Hour)

	deadline, err := f.svc.responseDeadline(fixedNow, soon, false)
	require.NoError(t, err)
	assert.Equal(t, soon.Add(-2*time.Hour), deadline)

	_, err = f.svc.responseDeadline(fixedNow, fixedNow.Add(90*time.Minute), false)
	var validation *disputes.ValidationError
	assert.ErrorAs(t, err, &validation)

	deadline, err = f.svc.responseDeadline(fixedNow, fixedNow.Add(90*time.Minute), true)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, deadline)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor auth.Actor
		req   ScheduleRequest
	}{
		{"party cannot schedule", f.client, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime}},
		{"in the past", f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: fixedNow.Add(-time.Hour)}},
		{"short notice", f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: fixedNow.Add(3 * time.Hour)}},
		{"unknown tier", f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime, Tier: "TIER_9"}},
		{"party as moderator", f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime, ModeratorID: &f.client.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Schedule(ctx, tt.actor, tt.req)
			assert.Error(t, err)
		})
	}

	// emergency hearings only need an hour of notice
	_, err := f.svc.Schedule(ctx, f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: fixedNow.Add(3 * time.Hour), IsEmergency: true})
	require.NoError(t, err)

	_, err = f.svc.Schedule(ctx, f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime})
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "an active hearing already exists for this dispute", invalid.Rule)
}

func TestScheduleRejectsClosedDispute(t *testing.T) {
	f := newFixture(t)
	_, err := f.disputes.Reject(context.Background(), f.moderator, f.dispute.ID, "duplicate")
	require.NoError(t, err)

	_, err = f.svc.Schedule(context.Background(), f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime})
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "dispute", invalid.Entity)
}

func TestScheduleModeratorConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.schedule(t)

	other := f.newDispute(t)
	_, err := f.svc.Schedule(ctx, f.moderator, ScheduleRequest{
		DisputeID:                other.ID,
		ScheduledAt:              hearingTime.Add(30 * time.Minute),
		EstimatedDurationMinutes: 60,
	})
	var conflict *disputes.SchedulingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ConflictingHearingID)
	require.NotNil(t, conflict.NextAvailableAt)
	assert.Equal(t, hearingTime.Add(time.Hour), *conflict.NextAvailableAt)

	_, err = f.svc.Schedule(ctx, f.moderator, ScheduleRequest{
		DisputeID:                other.ID,
		ScheduledAt:              *conflict.NextAvailableAt,
		EstimatedDurationMinutes: 60,
	})
	assert.NoError(t, err)
}

func TestScheduleEmergencyOverlapWhenAllowed(t *testing.T) {
	f := newFixture(t, func(c *config.HearingsConfig) { c.AllowEmergencyOverlap = true })
	f.schedule(t)

	other := f.newDispute(t)
	_, err := f.svc.Schedule(context.Background(), f.moderator, ScheduleRequest{
		DisputeID:   other.ID,
		ScheduledAt: hearingTime,
		IsEmergency: true,
	})
	assert.NoError(t, err)
}

func TestHearingFlowAndPhaseMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := f.start(t)
	assert.Equal(t, StatusInProgress, h.Status)
	assert.Equal(t, SpeakerAll, h.CurrentSpeakerRole)
	assert.True(t, h.IsChatRoomActive)
	require.NotNil(t, h.StartedAt)

	p, err := f.svc.Join(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	require.NotNil(t, p.JoinedAt)

	opening := f.submit(t, f.client, h, StatementOpening, "The build crashes on every device")
	require.NotNil(t, opening.OrderIndex)
	assert.Equal(t, 0, *opening.OrderIndex)
	assert.Equal(t, StatementSubmitted, opening.Status)

	for i := 0; i < 3; i++ {
		_, err := f.svc.AdvancePhase(ctx, f.moderator, h.ID, nil)
		require.NoError(t, err)
	}
	d, err := f.disputes.Get(ctx, h.DisputeID)
	require.NoError(t, err)
	assert.Equal(t, disputes.PhaseDeliberation, d.Phase)

	_, err = f.svc.SubmitStatement(ctx, f.client, h.ID, StatementRequest{Type: StatementEvidence, Content: "crash.log"})
	var mismatch *disputes.PhaseMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, disputes.PhaseDeliberation, mismatch.Current)
	assert.ElementsMatch(t, []disputes.Phase{disputes.PhasePresentation, disputes.PhaseCrossExamination}, mismatch.Allowed)

	sent := f.events.OfType(events.MessageSent)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].HearingID)
	assert.Equal(t, h.ID, *sent[0].HearingID)
	assert.Equal(t, h.DisputeID, sent[0].DisputeID)
}

func TestStartRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)
	f.setNow(hearingTime)

	_, err := f.svc.Start(ctx, f.client, h.ID)
	var notMod *disputes.NotModeratorError
	require.ErrorAs(t, err, &notMod)
	assert.Equal(t, "start hearing", notMod.Action)

	started, err := f.svc.Start(ctx, f.admin, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	_, err = f.svc.Start(ctx, f.moderator, h.ID)
	var invalid *disputes.InvalidStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestEarlyStartNeedsEveryoneReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)
	f.setNow(hearingTime.Add(-time.Hour))

	_, err := f.svc.Start(ctx, f.moderator, h.ID)
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	for _, actor := range []auth.Actor{f.client, f.freelance, f.moderator} {
		_, err := f.svc.ConfirmAttendance(ctx, actor, h.ID)
		require.NoError(t, err)
		_, err = f.svc.Join(ctx, h.ID, actor.ID)
		require.NoError(t, err)
	}

	started, err := f.svc.Start(ctx, f.moderator, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	// minutes online before the start do not count
	f.advance(10 * time.Minute)
	p, err := f.svc.Leave(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.TotalOnlineMinutes)
}

func TestSpeakerControlRestrictsSubmitters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	updated, err := f.svc.SetSpeakerControl(ctx, f.moderator, h.ID, SpeakerRaiserOnly)
	require.NoError(t, err)
	assert.Equal(t, SpeakerRaiserOnly, updated.CurrentSpeakerRole)

	_, err = f.svc.SubmitStatement(ctx, f.freelance, h.ID, StatementRequest{Type: StatementOpening, Content: "It works on my device"})
	var notPart *disputes.NotParticipantError
	require.ErrorAs(t, err, &notPart)
	assert.Equal(t, f.freelance.ID, notPart.UserID)

	f.submit(t, f.client, h, StatementOpening, "It crashes on mine")

	_, err = f.svc.SetSpeakerControl(ctx, f.client, h.ID, SpeakerAll)
	var notMod *disputes.NotModeratorError
	assert.ErrorAs(t, err, &notMod)

	changed := f.events.OfType(events.SpeakerControlChanged)
	require.NotEmpty(t, changed)
	assert.Equal(t, SpeakerRaiserOnly, changed[len(changed)-1].Data["current_speaker_role"])
}

func TestSpeakerGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	updated, err := f.svc.SetSpeakerControl(ctx, f.moderator, h.ID, SpeakerModeratorOnly)
	require.NoError(t, err)
	require.NotNil(t, updated.SpeakerGraceUntil)
	assert.Equal(t, hearingTime.Add(5*time.Second), *updated.SpeakerGraceUntil)

	f.advance(3 * time.Second)
	f.submit(t, f.client, h, StatementOpening, "Sent just before the switch")

	f.advance(3 * time.Second)
	_, err = f.svc.SubmitStatement(ctx, f.freelance, h.ID, StatementRequest{Type: StatementOpening, Content: "Too late"})
	var notPart *disputes.NotParticipantError
	assert.ErrorAs(t, err, &notPart)
}

func TestModeratorDisconnectMutesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	_, err := f.svc.Join(ctx, h.ID, f.moderator.ID)
	require.NoError(t, err)
	_, err = f.svc.Leave(ctx, h.ID, f.moderator.ID)
	require.NoError(t, err)

	muted, err := f.repo.GetHearing(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, SpeakerMutedAll, muted.CurrentSpeakerRole)
	require.NotNil(t, muted.ModeratorAwayAt)

	_, err = f.svc.SubmitStatement(ctx, f.client, h.ID, StatementRequest{Type: StatementOpening, Content: "Anyone there?"})
	var notPart *disputes.NotParticipantError
	assert.ErrorAs(t, err, &notPart)

	_, err = f.svc.Join(ctx, h.ID, f.moderator.ID)
	require.NoError(t, err)
	restored, err := f.repo.GetHearing(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, SpeakerModeratorOnly, restored.CurrentSpeakerRole)
	assert.Nil(t, restored.ModeratorAwayAt)
}

func TestRescheduleCreatesSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)

	detail, err := f.svc.Reschedule(ctx, f.moderator, h.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(48 * time.Hour), Reason: "moderator unavailable"})
	require.NoError(t, err)

	old, err := f.repo.GetHearing(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, old.Status)

	next := detail.Hearing
	assert.Equal(t, StatusScheduled, next.Status)
	assert.Equal(t, 2, next.HearingNumber)
	require.NotNil(t, next.PreviousHearingID)
	assert.Equal(t, h.ID, *next.PreviousHearingID)
	assert.Equal(t, 1, next.RescheduleCount)
	require.NotNil(t, next.LastRescheduledAt)
	assert.Equal(t, fixedNow, *next.LastRescheduledAt)
	assert.Len(t, detail.Participants, 3)

	_, err = f.svc.Reschedule(ctx, f.moderator, h.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(72 * time.Hour)})
	var invalid *disputes.InvalidStateError
	assert.ErrorAs(t, err, &invalid)

	hearings, err := f.svc.ListForDispute(ctx, f.client, f.dispute.ID)
	require.NoError(t, err)
	require.Len(t, hearings, 2)
	assert.Equal(t, h.ID, hearings[0].ID)
	assert.Equal(t, next.ID, hearings[1].ID)
}

func TestRescheduleLimitAndCutoff(t *testing.T) {
	f := newFixture(t, func(c *config.HearingsConfig) { c.MaxReschedules = 2 })
	ctx := context.Background()
	h := f.schedule(t)

	for i := 1; i <= 2; i++ {
		detail, err := f.svc.Reschedule(ctx, f.moderator, h.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(time.Duration(i) * 24 * time.Hour)})
		require.NoError(t, err)
		h = detail.Hearing
	}
	_, err := f.svc.Reschedule(ctx, f.moderator, h.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(96 * time.Hour)})
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "reschedule limit reached", invalid.Rule)

	g := newFixture(t)
	fresh := g.schedule(t)
	g.setNow(hearingTime.Add(-time.Hour))
	_, err = g.svc.Reschedule(ctx, g.moderator, fresh.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(48 * time.Hour)})
	assert.ErrorAs(t, err, &invalid)
}

func TestRescheduleResetsPhaseWhenConfigured(t *testing.T) {
	f := newFixture(t, func(c *config.HearingsConfig) { c.ResetPhaseOnReschedule = true })
	ctx := context.Background()
	h := f.schedule(t)

	_, err := f.disputes.AdvancePhase(ctx, f.moderator, f.dispute.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, f.moderator, h.ID, RescheduleRequest{ScheduledAt: hearingTime.Add(48 * time.Hour)})
	require.NoError(t, err)

	d, err := f.disputes.Get(ctx, f.dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, disputes.PhasePresentation, d.Phase)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)

	_, err := f.svc.Cancel(ctx, f.moderator, h.ID, "")
	var validation *disputes.ValidationError
	assert.ErrorAs(t, err, &validation)

	canceled, err := f.svc.Cancel(ctx, f.moderator, h.ID, "parties settled")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	// the dispute may get a new hearing once the old one is no longer active
	_, err = f.svc.Schedule(ctx, f.moderator, ScheduleRequest{DisputeID: f.dispute.ID, ScheduledAt: hearingTime})
	assert.NoError(t, err)
}

func TestConcurrentSubmitsGetContiguousIndexes(t *testing.T) {
	f := newFixture(t)
	h := f.start(t)

	const n = 50
	var (
		mu      sync.Mutex
		indexes []int
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		actor := f.client
		if i%2 == 1 {
			actor = f.freelance
		}
		g.Go(func() error {
			st, err := f.svc.SubmitStatement(context.Background(), actor, h.ID, StatementRequest{Type: StatementEvidence, Content: "exhibit"})
			if err != nil {
				return err
			}
			mu.Lock()
			indexes = append(indexes, *st.OrderIndex)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(indexes)
	require.Len(t, indexes, n)
	for i, idx := range indexes {
		assert.Equal(t, i, idx)
	}
}

func TestConcurrentStartsOfOneDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.schedule(t)

	// a second SCHEDULED row for the same dispute, as left behind by a racing scheduler
	second := *first
	second.ID = uuid.New()
	second.HearingNumber = 2
	require.NoError(t, f.repo.CreateHearing(ctx, &second))
	f.setNow(hearingTime)

	errs := make([]error, 2)
	var g errgroup.Group
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		i, id := i, id
		g.Go(func() error {
			_, errs[i] = f.svc.Start(ctx, f.moderator, id)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failed := 0
	for _, err := range errs {
		if err != nil {
			var invalid *disputes.InvalidStateError
			assert.ErrorAs(t, err, &invalid)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	hearings, err := f.repo.ListByDispute(ctx, f.dispute.ID)
	require.NoError(t, err)
	inProgress := 0
	for _, h := range hearings {
		if h.Status == StatusInProgress {
			inProgress++
		}
	}
	assert.Equal(t, 1, inProgress)
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	first, err := f.svc.Join(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	second, err := f.svc.Join(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, first.LastOnlineAt, second.LastOnlineAt)
	assert.Equal(t, first.JoinedAt, second.JoinedAt)

	f.advance(10 * time.Minute)
	left, err := f.svc.Leave(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.False(t, left.IsOnline)
	assert.Equal(t, 20, left.TotalOnlineMinutes)

	again, err := f.svc.Leave(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, again.TotalOnlineMinutes)

	_, err = f.svc.Join(ctx, h.ID, uuid.New())
	var notPart *disputes.NotParticipantError
	assert.ErrorAs(t, err, &notPart)
}

func TestRedactRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)
	st := f.submit(t, f.client, h, StatementOpening, "The freelancer's home address is ...")

	_, err := f.svc.Redact(ctx, f.client, h.ID, st.ID, "personal data")
	var notMod *disputes.NotModeratorError
	require.ErrorAs(t, err, &notMod)

	redacted, err := f.svc.Redact(ctx, f.moderator, h.ID, st.ID, "personal data")
	require.NoError(t, err)
	assert.True(t, redacted.IsRedacted)
	_, err = f.svc.Redact(ctx, f.moderator, h.ID, st.ID, "personal data")
	require.NoError(t, err)
	assert.Len(t, f.events.OfType(events.MessageHidden), 1)

	asModerator, err := f.svc.GetHearing(ctx, f.moderator, h.ID)
	require.NoError(t, err)
	require.Len(t, asModerator.Statements, 1)
	assert.Equal(t, "The freelancer's home address is ...", asModerator.Statements[0].Content)

	asParty, err := f.svc.GetHearing(ctx, f.freelance, h.ID)
	require.NoError(t, err)
	require.Len(t, asParty.Statements, 1)
	assert.Equal(t, RedactedPlaceholder, asParty.Statements[0].Content)

	stored, err := f.repo.GetStatement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "The freelancer's home address is ...", stored.Content)
}

func TestRetractSupersedesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)
	original := f.submit(t, f.client, h, StatementOpening, "Delivered on the 3rd")

	_, err := f.svc.Retract(ctx, f.freelance, h.ID, original.ID, "")
	var notPart *disputes.NotParticipantError
	require.ErrorAs(t, err, &notPart)

	retraction, err := f.svc.Retract(ctx, f.client, h.ID, original.ID, "It was the 5th")
	require.NoError(t, err)
	require.NotNil(t, retraction.RetractionOfStatementID)
	assert.Equal(t, original.ID, *retraction.RetractionOfStatementID)
	assert.Equal(t, 1, *retraction.OrderIndex)

	stored, err := f.repo.GetStatement(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SupersededByID)
	assert.Equal(t, retraction.ID, *stored.SupersededByID)
	assert.Equal(t, "Delivered on the 3rd", stored.Content)

	_, err = f.svc.Retract(ctx, f.client, h.ID, original.ID, "again")
	var invalid *disputes.InvalidStateError
	assert.ErrorAs(t, err, &invalid)

	timeline, err := f.svc.Timeline(ctx, f.client, h.ID)
	require.NoError(t, err)
	current, ok := timeline.Current(original.ID)
	require.True(t, ok)
	assert.Equal(t, retraction.ID, current.ID)
}

func TestDraftsArePrivateUntilPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)

	draft, err := f.svc.SubmitStatement(ctx, f.client, h.ID, StatementRequest{Type: StatementOpening, Content: "first take", Draft: true})
	require.NoError(t, err)
	assert.Equal(t, StatementDraft, draft.Status)
	assert.Nil(t, draft.OrderIndex)

	_, err = f.svc.UpdateDraft(ctx, f.freelance, h.ID, draft.ID, StatementRequest{Content: "hijack"})
	var notPart *disputes.NotParticipantError
	require.ErrorAs(t, err, &notPart)
	_, err = f.svc.UpdateDraft(ctx, f.client, h.ID, draft.ID, StatementRequest{Content: "second take"})
	require.NoError(t, err)

	seen, err := f.svc.ListStatements(ctx, f.freelance, h.ID)
	require.NoError(t, err)
	assert.Empty(t, seen)

	// publishing needs the hearing running
	_, err = f.svc.PublishDraft(ctx, f.client, h.ID, draft.ID)
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	f.setNow(hearingTime)
	_, err = f.svc.Start(ctx, f.moderator, h.ID)
	require.NoError(t, err)
	f.submit(t, f.freelance, h, StatementOpening, "I delivered")

	published, err := f.svc.PublishDraft(ctx, f.client, h.ID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatementSubmitted, published.Status)
	assert.Equal(t, "second take", published.Content)
	assert.Equal(t, 1, *published.OrderIndex)
}

func TestQuestionsDuringInterrogation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	_, err := f.svc.AskQuestion(ctx, f.moderator, h.ID, QuestionRequest{TargetUserID: f.client.ID, Question: "Which devices?"})
	var mismatch *disputes.PhaseMismatchError
	require.ErrorAs(t, err, &mismatch)

	f.toPhase(t, h, disputes.PhaseInterrogation)

	_, err = f.svc.AskQuestion(ctx, f.client, h.ID, QuestionRequest{TargetUserID: f.moderator.ID, Question: "Are you sure?"})
	var validation *disputes.ValidationError
	require.ErrorAs(t, err, &validation)
	_, err = f.svc.AskQuestion(ctx, f.moderator, h.ID, QuestionRequest{TargetUserID: uuid.New(), Question: "Who are you?"})
	require.ErrorAs(t, err, &validation)

	q, err := f.svc.AskQuestion(ctx, f.moderator, h.ID, QuestionRequest{TargetUserID: f.client.ID, Question: "Which devices?"})
	require.NoError(t, err)
	assert.Equal(t, QuestionPending, q.Status)
	assert.Equal(t, 0, q.OrderIndex)
	assert.Equal(t, hearingTime.Add(10*time.Minute), q.Deadline)

	floor, err := f.repo.GetHearing(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, SpeakerRaiserOnly, floor.CurrentSpeakerRole)

	_, err = f.svc.AnswerQuestion(ctx, f.freelance, h.ID, q.ID, "not me")
	var notPart *disputes.NotParticipantError
	require.ErrorAs(t, err, &notPart)

	f.advance(11 * time.Minute)
	_, err = f.svc.AnswerQuestion(ctx, f.client, h.ID, q.ID, "Pixel 8")
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	_, err = f.svc.ExtendQuestionDeadline(ctx, f.client, h.ID, q.ID, f.clock().Add(5*time.Minute))
	var notMod *disputes.NotModeratorError
	require.ErrorAs(t, err, &notMod)
	_, err = f.svc.ExtendQuestionDeadline(ctx, f.moderator, h.ID, q.ID, f.clock().Add(5*time.Minute))
	require.NoError(t, err)

	answered, err := f.svc.AnswerQuestion(ctx, f.client, h.ID, q.ID, "Pixel 8")
	require.NoError(t, err)
	assert.Equal(t, QuestionAnswered, answered.Status)
	require.NotNil(t, answered.Answer)

	_, err = f.svc.CancelQuestion(ctx, f.moderator, h.ID, q.ID)
	assert.ErrorAs(t, err, &invalid)
}

func TestEndWithPendingRequiredQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)
	f.submit(t, f.client, h, StatementOpening, "opening")
	f.submit(t, f.freelance, h, StatementOpening, "opening")
	f.toPhase(t, h, disputes.PhaseInterrogation)

	q, err := f.svc.AskQuestion(ctx, f.moderator, h.ID, QuestionRequest{TargetUserID: f.freelance.ID, Question: "When was it delivered?", IsRequired: true})
	require.NoError(t, err)

	_, err = f.svc.End(ctx, f.moderator, h.ID, EndRequest{Summary: "done"})
	var incomplete *disputes.IncompleteHearingError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []uuid.UUID{q.ID}, incomplete.PendingQuestionIDs)
	assert.Empty(t, incomplete.MissingStatements)
	assert.Equal(t, []string{q.ID.String()}, incomplete.OutstandingIDs())

	result, err := f.svc.End(ctx, f.moderator, h.ID, EndRequest{Summary: "done", Findings: "delivery late", PendingActions: []string{"refund 20%"}, ForceEnd: true})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{q.ID}, result.CancelledQuestionIDs)

	ended := result.Hearing
	assert.Equal(t, StatusCompleted, ended.Status)
	assert.Equal(t, SpeakerMutedAll, ended.CurrentSpeakerRole)
	assert.False(t, ended.IsChatRoomActive)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, []string{"refund 20%"}, []string(ended.PendingActions))

	cancelled, err := f.repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, QuestionCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledByID)
	assert.Equal(t, f.moderator.ID, *cancelled.CancelledByID)

	assert.Len(t, f.events.OfType(events.HearingEnded), 1)
}

func TestEndReportsMissingOpenings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)
	f.submit(t, f.client, h, StatementOpening, "opening")

	_, err := f.svc.End(ctx, f.moderator, h.ID, EndRequest{})
	var incomplete *disputes.IncompleteHearingError
	require.ErrorAs(t, err, &incomplete)
	require.Len(t, incomplete.MissingStatements, 1)
	missing := incomplete.MissingStatements[0]
	assert.Equal(t, f.freelance.ID, missing.UserID)
	assert.Contains(t, incomplete.OutstandingIDs(), "participant:"+missing.ParticipantID.String()+"/OPENING")
}

func TestEndMarksAbsentParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)

	_, err := f.svc.Join(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	f.advance(60 * time.Minute)

	result, err := f.svc.End(ctx, f.moderator, h.ID, EndRequest{ForceEnd: true})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.freelance.ID}, result.AbsentUserIDs)

	raiser, err := f.repo.GetParticipant(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.False(t, raiser.IsOnline)
	assert.Equal(t, 60, raiser.TotalOnlineMinutes)

	summary, err := f.svc.AttendanceSummary(ctx, f.moderator, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OnTime)
	assert.Equal(t, 2, summary.NoShows)
}

// bookSameSlot schedules one hearing per fresh dispute, all at the same time for the same moderator
func bookSameSlot(t *testing.T, f *fixture, n int) (booked, conflicts int) {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = f.newDispute(t).ID
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := f.svc.Schedule(context.Background(), f.moderator, ScheduleRequest{
				DisputeID:                id,
				ScheduledAt:              hearingTime,
				EstimatedDurationMinutes: 60,
			})
			var conflict *disputes.SchedulingConflictError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.As(err, &conflict):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	return booked, conflicts
}

func TestScheduleSerialisesModeratorBookings(t *testing.T) {
	f := newFixture(t)

	booked, conflicts := bookSameSlot(t, f, 8)
	assert.Equal(t, 1, booked)
	assert.Equal(t, 7, conflicts)
}

func TestEndMeasuresAbsenceAgainstEstimatedDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.start(t)
	require.Equal(t, 60, h.EstimatedDurationMinutes)

	_, err := f.svc.Join(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	f.advance(4 * time.Minute)
	_, err = f.svc.Join(ctx, h.ID, f.freelance.ID)
	require.NoError(t, err)
	f.advance(6 * time.Minute)

	result, err := f.svc.End(ctx, f.moderator, h.ID, EndRequest{ForceEnd: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.client.ID, f.freelance.ID}, result.AbsentUserIDs)

	raiser, err := f.repo.GetParticipant(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, raiser.TotalOnlineMinutes)
	defendant, err := f.repo.GetParticipant(ctx, h.ID, f.freelance.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, defendant.TotalOnlineMinutes)
}

func TestChatPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)

	perm, err := f.svc.ChatPermission(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.False(t, perm.Allowed)
	assert.Equal(t, "hearing chat is not active", perm.Reason)

	f.setNow(hearingTime)
	_, err = f.svc.Start(ctx, f.moderator, h.ID)
	require.NoError(t, err)

	perm, err = f.svc.ChatPermission(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	assert.True(t, perm.Allowed)
	assert.Equal(t, RoleRaiser, perm.ParticipantRole)

	hearingID := h.ID
	msg, err := f.disputes.SendMessage(ctx, f.client, disputes.SendMessageRequest{DisputeID: f.dispute.ID, HearingID: &hearingID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, &hearingID, msg.HearingID)

	_, err = f.svc.SetSpeakerControl(ctx, f.moderator, h.ID, SpeakerDefendantOnly)
	require.NoError(t, err)
	_, err = f.disputes.SendMessage(ctx, f.client, disputes.SendMessageRequest{DisputeID: f.dispute.ID, HearingID: &hearingID, Content: "hello?"})
	var notPart *disputes.NotParticipantError
	assert.ErrorAs(t, err, &notPart)

	err = f.svc.CheckChat(ctx, uuid.New(), h.ID, f.freelance.ID)
	var validation *disputes.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestGetHearingAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.schedule(t)

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleClient}
	_, err := f.svc.GetHearing(ctx, stranger, h.ID)
	var notPart *disputes.NotParticipantError
	assert.ErrorAs(t, err, &notPart)

	_, err = f.svc.GetHearing(ctx, f.client, uuid.New())
	assert.ErrorIs(t, err, disputes.ErrNotFound)

	detail, err := f.svc.GetHearing(ctx, f.freelance, h.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Participants, 3)

	witness, err := f.svc.AddParticipant(ctx, f.moderator, h.ID, AddParticipantRequest{UserID: stranger.ID})
	require.NoError(t, err)
	assert.Equal(t, RoleWitness, witness.Role)
	_, err = f.svc.GetHearing(ctx, stranger, h.ID)
	assert.NoError(t, err)

	mine, err := f.svc.ListMine(ctx, stranger)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, h.ID, mine[0].ID)
}

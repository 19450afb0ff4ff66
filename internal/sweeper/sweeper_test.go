package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n notifications.Notification) {
	m.Called(ctx, n)
}

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	sweeper  *Sweeper
	hearings hearings.Repository
	disputes disputes.Repository
	notifier *MockSender
	events   *events.Recorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hearings: hearings.NewMemoryRepository(),
		disputes: disputes.NewMemoryRepository(),
		notifier: new(MockSender),
		events:   events.NewRecorder(),
		now:      start,
	}
	f.notifier.On("Send", mock.Anything, mock.Anything).Return()
	f.sweeper = New(f.hearings, f.disputes, f.notifier, f.events, config.Default().Hearings, "0 * * * * *", zap.NewNop())
	f.sweeper.now = func() time.Time { return f.now }
	f.sweeper.lastSweep = start
	return f
}

func (f *fixture) hearing(t *testing.T, status hearings.Status, scheduledAt time.Time) *hearings.Hearing {
	t.Helper()
	h := &hearings.Hearing{
		ID:            uuid.New(),
		DisputeID:     uuid.New(),
		HearingNumber: 1,
		Status:        status,
		ScheduledAt:   scheduledAt,
		ModeratorID:   uuid.New(),
	}
	require.NoError(t, f.hearings.CreateHearing(context.Background(), h))
	return h
}

func TestSweepOverdueQuestionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.hearing(t, hearings.StatusInProgress, start.Add(-time.Hour))

	q := &hearings.Question{
		ID:           uuid.New(),
		HearingID:    h.ID,
		AskedByID:    h.ModeratorID,
		TargetUserID: uuid.New(),
		Question:     "When was the build delivered?",
		Status:       hearings.QuestionPending,
		Deadline:     start.Add(5 * time.Minute),
	}
	require.NoError(t, f.hearings.CreateQuestion(ctx, q))

	assert.Zero(t, f.sweeper.Sweep(ctx).OverdueQuestions)

	f.now = start.Add(6 * time.Minute)
	assert.Equal(t, 1, f.sweeper.Sweep(ctx).OverdueQuestions)
	assert.Zero(t, f.sweeper.Sweep(ctx).OverdueQuestions, "reported only once")

	overdue := f.events.OfType(events.QuestionOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, q.ID, overdue[0].EntityID)
	assert.Equal(t, h.DisputeID, overdue[0].DisputeID)
	f.notifier.AssertNumberOfCalls(t, "Send", 2)

	// the sweeper never touches the question
	stored, err := f.hearings.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, hearings.QuestionPending, stored.Status)
}

func TestSweepOverdueScheduledHearings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.hearing(t, hearings.StatusScheduled, start.Add(-30*time.Minute))
	f.hearing(t, hearings.StatusScheduled, start.Add(-10*time.Minute))
	f.hearing(t, hearings.StatusCompleted, start.Add(-2*time.Hour))

	report := f.sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.OverdueHearings)

	overdue := f.events.OfType(events.HearingOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].EntityID)

	stored, err := f.hearings.GetHearing(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, hearings.StatusScheduled, stored.Status)

	f.now = start.Add(15 * time.Minute)
	assert.Equal(t, 1, f.sweeper.Sweep(ctx).OverdueHearings, "the second hearing crosses the threshold")
}

func TestSweepAppealDeadlines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deadline := start.Add(30 * time.Second)
	closed := &disputes.Dispute{
		ID:             uuid.New(),
		RaisedBy:       uuid.New(),
		Against:        uuid.New(),
		Status:         disputes.StatusResolved,
		AppealDeadline: &deadline,
	}
	require.NoError(t, f.disputes.Create(ctx, closed))

	later := start.Add(48 * time.Hour)
	pending := &disputes.Dispute{
		ID:             uuid.New(),
		Status:         disputes.StatusResolved,
		AppealDeadline: &later,
	}
	require.NoError(t, f.disputes.Create(ctx, pending))

	f.now = start.Add(time.Minute)
	assert.Equal(t, 1, f.sweeper.Sweep(ctx).AppealDeadlines)

	f.now = start.Add(2 * time.Minute)
	assert.Zero(t, f.sweeper.Sweep(ctx).AppealDeadlines)

	passed := f.events.OfType(events.AppealDeadlinePassed)
	require.Len(t, passed, 1)
	assert.Equal(t, closed.ID, passed[0].DisputeID)
	assert.True(t, passed[0].Type.StaffVisible())
	f.notifier.AssertCalled(t, "Send", mock.Anything, mock.MatchedBy(func(n notifications.Notification) bool {
		return n.UserID == closed.RaisedBy && n.RelatedID == closed.ID
	}))
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(hearings.NewMemoryRepository(), disputes.NewMemoryRepository(), new(MockSender), events.Nop,
		config.Default().Hearings, "not a spec", zap.NewNop())
	assert.Error(t, s.Start())
}

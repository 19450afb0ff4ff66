package hearings

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"freelance-market/dispute-court/dispute-court-backend/internal/database/dbtest"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
)

func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.NewDB(t)
	return buildFixture(t, disputes.NewRepository(db), NewRepository(db))
}

func TestPostgresConcurrentSubmits(t *testing.T) {
	f := newPostgresFixture(t)
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
	for i, idx := range indexes {
		assert.Equal(t, i, idx)
	}

	stored, err := f.repo.ListStatements(context.Background(), h.ID)
	require.NoError(t, err)
	require.Len(t, stored, n)
	for i, st := range stored {
		assert.Equal(t, i, *st.OrderIndex)
	}
}

func TestPostgresModeratorDoubleBooking(t *testing.T) {
	f := newPostgresFixture(t)

	booked, conflicts := bookSameSlot(t, f, 8)
	assert.Equal(t, 1, booked)
	assert.Equal(t, 7, conflicts)
}

func TestPostgresOrderIndexConstraint(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	h := f.start(t)
	first := f.submit(t, f.client, h, StatementOpening, "first")

	raiser, err := f.repo.GetParticipant(ctx, h.ID, f.client.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	dup := &Statement{
		ID: uuid.New(), HearingID: h.ID, ParticipantID: raiser.ID, AuthorID: f.client.ID,
		Type: StatementEvidence, Content: "clash", Status: StatementSubmitted, Attachments: []string{},
		OrderIndex: first.OrderIndex, SubmittedAt: &now, CreatedAt: now, UpdatedAt: now,
	}
	err = f.repo.CreateStatement(ctx, dup)
	var conflict *disputes.OrderingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, h.ID, conflict.HearingID)
	assert.Equal(t, 0, conflict.OrderIndex)

	next, err := f.repo.NextStatementIndex(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestPostgresOneHearingInProgressPerDispute(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	running := f.start(t)

	second := *running
	second.ID = uuid.New()
	second.HearingNumber = 2
	second.Status = StatusScheduled
	second.StartedAt = nil
	require.NoError(t, f.repo.CreateHearing(ctx, &second))

	second.Status = StatusInProgress
	err := f.repo.UpdateHearing(ctx, &second)
	var invalid *disputes.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	_, err = f.repo.GetHearing(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrHearingNotFound)
}

func TestPostgresQueries(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	h := f.start(t)
	f.toPhase(t, h, disputes.PhaseInterrogation)

	q, err := f.svc.AskQuestion(ctx, f.moderator, h.ID, QuestionRequest{TargetUserID: f.client.ID, Question: "Which devices?"})
	require.NoError(t, err)

	overdue, err := f.repo.ListOverdueQuestions(ctx, q.Deadline.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, q.ID, overdue[0].ID)

	mine, err := f.repo.ListForUser(ctx, f.freelance.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	booked, err := f.repo.ListByModerator(ctx, f.moderator.ID, []Status{StatusInProgress})
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, h.ID, booked[0].ID)

	running, err := f.repo.ListByStatus(ctx, StatusInProgress)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

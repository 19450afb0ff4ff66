package hearings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"freelance-market/dispute-court/dispute-court-backend/internal/database"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
)

// memoryRepository mirrors the Postgres constraints the service relies on: one
// IN_PROGRESS hearing per dispute and unique order indexes per hearing.
type memoryRepository struct {
	mu           sync.RWMutex
	locks        *database.KeyedMutex
	hearings     map[uuid.UUID]Hearing
	participants map[uuid.UUID]Participant
	statements   map[uuid.UUID]Statement
	questions    map[uuid.UUID]Question
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		locks:        database.NewKeyedMutex(),
		hearings:     make(map[uuid.UUID]Hearing),
		participants: make(map[uuid.UUID]Participant),
		statements:   make(map[uuid.UUID]Statement),
		questions:    make(map[uuid.UUID]Question),
	}
}

func (r *memoryRepository) WithDisputeLock(ctx context.Context, disputeID uuid.UUID, fn func(ctx context.Context) error) error {
	unlock := r.locks.Lock("dispute:" + disputeID.String())
	defer unlock()
	return fn(ctx)
}

func (r *memoryRepository) WithModeratorLock(ctx context.Context, moderatorID uuid.UUID, fn func(ctx context.Context) error) error {
	unlock := r.locks.Lock("moderator:" + moderatorID.String())
	defer unlock()
	return fn(ctx)
}

func (r *memoryRepository) WithHearingLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, h *Hearing) error) error {
	unlock := r.locks.Lock("hearing:" + id.String())
	defer unlock()

	h, err := r.GetHearing(ctx, id)
	if err != nil {
		return err
	}
	return fn(ctx, h)
}

func (r *memoryRepository) CreateHearing(_ context.Context, h *Hearing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hearings[h.ID] = *h
	return nil
}

func (r *memoryRepository) GetHearing(_ context.Context, id uuid.UUID) (*Hearing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hearings[id]
	if !ok {
		return nil, ErrHearingNotFound
	}
	return &h, nil
}

func (r *memoryRepository) UpdateHearing(_ context.Context, h *Hearing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hearings[h.ID]; !ok {
		return ErrHearingNotFound
	}
	if h.Status == StatusInProgress {
		for _, other := range r.hearings {
			if other.ID != h.ID && other.DisputeID == h.DisputeID && other.Status == StatusInProgress {
				return invalidHearing(h, "start", "another hearing of this dispute is in progress")
			}
		}
	}
	r.hearings[h.ID] = *h
	return nil
}

func (r *memoryRepository) listHearings(keep func(h *Hearing) bool, less func(a, b *Hearing) bool) []Hearing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Hearing
	for _, h := range r.hearings {
		h := h
		if keep(&h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

func byScheduledAt(a, b *Hearing) bool { return a.ScheduledAt.Before(b.ScheduledAt) }

func (r *memoryRepository) ListByDispute(_ context.Context, disputeID uuid.UUID) ([]Hearing, error) {
	return r.listHearings(
		func(h *Hearing) bool { return h.DisputeID == disputeID },
		func(a, b *Hearing) bool { return a.HearingNumber < b.HearingNumber },
	), nil
}

func (r *memoryRepository) ListByModerator(_ context.Context, moderatorID uuid.UUID, statuses []Status) ([]Hearing, error) {
	return r.listHearings(func(h *Hearing) bool {
		if h.ModeratorID != moderatorID {
			return false
		}
		for _, s := range statuses {
			if h.Status == s {
				return true
			}
		}
		return false
	}, byScheduledAt), nil
}

func (r *memoryRepository) ListByStatus(_ context.Context, status Status) ([]Hearing, error) {
	return r.listHearings(func(h *Hearing) bool { return h.Status == status }, byScheduledAt), nil
}

func (r *memoryRepository) ListForUser(_ context.Context, userID uuid.UUID) ([]Hearing, error) {
	r.mu.RLock()
	seated := make(map[uuid.UUID]bool)
	for _, p := range r.participants {
		if p.UserID == userID {
			seated[p.HearingID] = true
		}
	}
	r.mu.RUnlock()
	return r.listHearings(
		func(h *Hearing) bool { return seated[h.ID] },
		func(a, b *Hearing) bool { return a.ScheduledAt.After(b.ScheduledAt) },
	), nil
}

func (r *memoryRepository) CreateParticipant(_ context.Context, p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.ID] = *p
	return nil
}

func (r *memoryRepository) GetParticipant(_ context.Context, hearingID, userID uuid.UUID) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.HearingID == hearingID && p.UserID == userID {
			return &p, nil
		}
	}
	return nil, ErrParticipantNotFound
}

func (r *memoryRepository) UpdateParticipant(_ context.Context, p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.ID]; !ok {
		return ErrParticipantNotFound
	}
	r.participants[p.ID] = *p
	return nil
}

func (r *memoryRepository) ListParticipants(_ context.Context, hearingID uuid.UUID) ([]Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Participant
	for _, p := range r.participants {
		if p.HearingID == hearingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvitedAt.Equal(out[j].InvitedAt) {
			return out[i].InvitedAt.Before(out[j].InvitedAt)
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (r *memoryRepository) NextStatementIndex(_ context.Context, hearingID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	next := 0
	for _, s := range r.statements {
		if s.HearingID == hearingID && s.OrderIndex != nil && *s.OrderIndex >= next {
			next = *s.OrderIndex + 1
		}
	}
	return next, nil
}

// statementIndexTaken must be called with r.mu held
func (r *memoryRepository) statementIndexTaken(s *Statement) bool {
	if s.OrderIndex == nil {
		return false
	}
	for _, other := range r.statements {
		if other.ID != s.ID && other.HearingID == s.HearingID && other.OrderIndex != nil && *other.OrderIndex == *s.OrderIndex {
			return true
		}
	}
	return false
}

func (r *memoryRepository) CreateStatement(_ context.Context, s *Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statementIndexTaken(s) {
		return &disputes.OrderingConflictError{HearingID: s.HearingID, OrderIndex: *s.OrderIndex}
	}
	r.statements[s.ID] = *s
	return nil
}

func (r *memoryRepository) GetStatement(_ context.Context, id uuid.UUID) (*Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statements[id]
	if !ok {
		return nil, ErrStatementNotFound
	}
	return &s, nil
}

func (r *memoryRepository) UpdateStatement(_ context.Context, s *Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statements[s.ID]; !ok {
		return ErrStatementNotFound
	}
	if r.statementIndexTaken(s) {
		return &disputes.OrderingConflictError{HearingID: s.HearingID, OrderIndex: *s.OrderIndex}
	}
	r.statements[s.ID] = *s
	return nil
}

func (r *memoryRepository) ListStatements(_ context.Context, hearingID uuid.UUID) ([]Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Statement
	for _, s := range r.statements {
		if s.HearingID == hearingID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].OrderIndex, out[j].OrderIndex
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) NextQuestionIndex(_ context.Context, hearingID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	next := 0
	for _, q := range r.questions {
		if q.HearingID == hearingID && q.OrderIndex >= next {
			next = q.OrderIndex + 1
		}
	}
	return next, nil
}

func (r *memoryRepository) CreateQuestion(_ context.Context, q *Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.questions {
		if other.HearingID == q.HearingID && other.OrderIndex == q.OrderIndex {
			return &disputes.OrderingConflictError{HearingID: q.HearingID, OrderIndex: q.OrderIndex}
		}
	}
	r.questions[q.ID] = *q
	return nil
}

func (r *memoryRepository) GetQuestion(_ context.Context, id uuid.UUID) (*Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questions[id]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	return &q, nil
}

func (r *memoryRepository) UpdateQuestion(_ context.Context, q *Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[q.ID]; !ok {
		return ErrQuestionNotFound
	}
	r.questions[q.ID] = *q
	return nil
}

func (r *memoryRepository) ListQuestions(_ context.Context, hearingID uuid.UUID) ([]Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Question
	for _, q := range r.questions {
		if q.HearingID == hearingID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (r *memoryRepository) ListOverdueQuestions(_ context.Context, now time.Time) ([]Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Question
	for _, q := range r.questions {
		h, ok := r.hearings[q.HearingID]
		if !ok || h.Status != StatusInProgress {
			continue
		}
		if q.Status == QuestionPending && q.Deadline.Before(now) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

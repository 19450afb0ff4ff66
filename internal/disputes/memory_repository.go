package disputes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"freelance-market/dispute-court/dispute-court-backend/internal/database"
)

// memoryRepository keeps everything in process for service tests
type memoryRepository struct {
	mu          sync.RWMutex
	locks       *database.KeyedMutex
	disputes    map[uuid.UUID]Dispute
	activities  map[uuid.UUID][]Activity
	messages    map[uuid.UUID]Message
	settlements map[uuid.UUID]Settlement
	evidence    map[uuid.UUID]Evidence
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		locks:       database.NewKeyedMutex(),
		disputes:    make(map[uuid.UUID]Dispute),
		activities:  make(map[uuid.UUID][]Activity),
		messages:    make(map[uuid.UUID]Message),
		settlements: make(map[uuid.UUID]Settlement),
		evidence:    make(map[uuid.UUID]Evidence),
	}
}

func (r *memoryRepository) WithDisputeLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, d *Dispute) error) error {
	unlock := r.locks.Lock("dispute:" + id.String())
	defer unlock()

	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(ctx, d)
}

func (r *memoryRepository) Create(_ context.Context, d *Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disputes[d.ID] = *d
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (*Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return &d, nil
}

func (r *memoryRepository) Update(_ context.Context, d *Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	r.disputes[d.ID] = *d
	return nil
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter) ([]Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Dispute
	for _, d := range r.disputes {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.AssignedStaffID != nil && (d.AssignedStaffID == nil || *d.AssignedStaffID != *filter.AssignedStaffID) {
			continue
		}
		if filter.PartyID != nil && !d.IsParty(*filter.PartyID) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Limit > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[filter.Offset:end]
	}
	return out, nil
}

func (r *memoryRepository) CountActiveByStaff(_ context.Context, staffID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.disputes {
		if d.AssignedStaffID == nil || *d.AssignedStaffID != staffID {
			continue
		}
		for _, s := range activeStatuses {
			if string(d.Status) == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *memoryRepository) ListAppealDeadlinesBetween(_ context.Context, from, to time.Time) ([]Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Dispute
	for _, d := range r.disputes {
		if d.AppealDeadline == nil || !d.Status.Closed() {
			continue
		}
		if d.AppealDeadline.After(from) && !d.AppealDeadline.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppealDeadline.Before(*out[j].AppealDeadline) })
	return out, nil
}

func (r *memoryRepository) AppendActivity(_ context.Context, a *Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[a.DisputeID] = append(r.activities[a.DisputeID], *a)
	return nil
}

func (r *memoryRepository) ListActivities(_ context.Context, disputeID uuid.UUID) ([]Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Activity(nil), r.activities[disputeID]...), nil
}

func (r *memoryRepository) CreateMessage(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ID] = *m
	return nil
}

func (r *memoryRepository) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

func (r *memoryRepository) UpdateMessage(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; !ok {
		return ErrMessageNotFound
	}
	r.messages[m.ID] = *m
	return nil
}

func (r *memoryRepository) ListMessages(_ context.Context, disputeID uuid.UUID) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for _, m := range r.messages {
		if m.DisputeID == disputeID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CreateSettlement(_ context.Context, s *Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements[s.ID] = *s
	return nil
}

func (r *memoryRepository) GetSettlement(_ context.Context, id uuid.UUID) (*Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settlements[id]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	return &s, nil
}

func (r *memoryRepository) UpdateSettlement(_ context.Context, s *Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settlements[s.ID]; !ok {
		return ErrSettlementNotFound
	}
	r.settlements[s.ID] = *s
	return nil
}

func (r *memoryRepository) ListSettlements(_ context.Context, disputeID uuid.UUID) ([]Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Settlement
	for _, s := range r.settlements {
		if s.DisputeID == disputeID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CreateEvidence(_ context.Context, e *Evidence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidence[e.ID] = *e
	return nil
}

func (r *memoryRepository) GetEvidence(_ context.Context, id uuid.UUID) (*Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evidence[id]
	if !ok {
		return nil, ErrEvidenceNotFound
	}
	return &e, nil
}

func (r *memoryRepository) ListEvidence(_ context.Context, disputeID uuid.UUID) ([]Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Evidence
	for _, e := range r.evidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder accepts audit entries without blocking the caller's transaction
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// AsyncRecorder serialises entries on the caller goroutine and writes them from a
// single background writer. A full queue drops the entry with a warning.
type AsyncRecorder struct {
	store  Store
	queue  chan *Log
	logger *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewAsyncRecorder(store Store, queueSize int, logger *zap.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AsyncRecorder{
		store:  store,
		queue:  make(chan *Log, queueSize),
		logger: logger,
	}
}

func (r *AsyncRecorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop flushes queued entries
func (r *AsyncRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
	})
}

func (r *AsyncRecorder) Record(_ context.Context, e Entry) {
	before, err := toJSON(e.Before)
	if err != nil {
		r.logger.Warn("Failed to encode audit snapshot", zap.String("action", e.Action), zap.Error(err))
		return
	}
	after, err := toJSON(e.After)
	if err != nil {
		r.logger.Warn("Failed to encode audit snapshot", zap.String("action", e.Action), zap.Error(err))
		return
	}

	log := &Log{
		ID:         uuid.New(),
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now().UTC(),
	}

	defer func() {
		if recover() != nil {
			r.logger.Warn("Audit entry dropped after shutdown", zap.String("action", e.Action))
		}
	}()
	select {
	case r.queue <- log:
	default:
		r.logger.Warn("Audit queue full, dropping entry",
			zap.String("action", e.Action),
			zap.String("entity_id", e.EntityID.String()),
		)
	}
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for log := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Save(ctx, log); err != nil {
			r.logger.Warn("Failed to write audit entry",
				zap.String("action", log.Action),
				zap.String("entity_id", log.EntityID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Nop drops every entry
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

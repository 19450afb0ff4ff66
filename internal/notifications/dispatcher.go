package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher hands notifications to a channel from a fixed pool of workers.
// Send never blocks: when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	channel Channel
	queue   chan Notification
	workers int
	timeout time.Duration
	logger  *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(channel Channel, queueSize, workers int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	return &Dispatcher{
		channel: channel,
		queue:   make(chan Notification, queueSize),
		workers: workers,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.workers))
}

// Stop drains what is queued and waits for the workers
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
		d.logger.Info("Notification dispatcher stopped")
	})
}

// Send queues n for delivery
func (d *Dispatcher) Send(_ context.Context, n Notification) {
	defer func() {
		// Send after Stop lands on a closed queue
		if recover() != nil {
			d.logger.Warn("Notification dropped after shutdown", zap.String("user_id", n.UserID.String()))
		}
	}()
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("Notification queue full, dropping",
			zap.String("user_id", n.UserID.String()),
			zap.String("title", n.Title),
		)
	}
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.channel.Deliver(ctx, n); err != nil {
			d.logger.Warn("Failed to deliver notification",
				zap.Int("worker", id),
				zap.String("user_id", n.UserID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

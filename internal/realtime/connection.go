package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
)

// Connection is one client socket. All room traffic for the client is multiplexed over it.
type Connection struct {
	ID          string
	Actor       auth.Actor
	ConnectedAt time.Time
	UserAgent   string
	IPAddress   string

	ws     *websocket.Conn
	send   chan Frame
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	activity time.Time
	hearings map[uuid.UUID]bool
}

func newConnection(ws *websocket.Conn, actor auth.Actor, bufferSize int, logger *zap.Logger) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:          uuid.New().String(),
		Actor:       actor,
		ConnectedAt: now,
		ws:          ws,
		send:        make(chan Frame, bufferSize),
		logger:      logger,
		activity:    now,
		hearings:    make(map[uuid.UUID]bool),
	}
}

// push queues a frame without blocking. A client that cannot keep up is disconnected.
func (c *Connection) push(f Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- f:
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		c.logger.Warn("Send buffer full, dropping connection",
			zap.String("connection_id", c.ID),
			zap.String("user_id", c.Actor.ID.String()),
		)
		c.close()
		return false
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// close tears down the socket; the read loop then unregisters the connection
func (c *Connection) close() {
	_ = c.ws.Close()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.activity = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Connection) lastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity
}

func (c *Connection) track(hearingID uuid.UUID) {
	c.mu.Lock()
	c.hearings[hearingID] = true
	c.mu.Unlock()
}

func (c *Connection) untrack(hearingID uuid.UUID) {
	c.mu.Lock()
	delete(c.hearings, hearingID)
	c.mu.Unlock()
}

// tracked returns and forgets every hearing the connection joined
func (c *Connection) drainTracked() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.hearings))
	for id := range c.hearings {
		out = append(out, id)
	}
	c.hearings = make(map[uuid.UUID]bool)
	return out
}

// writePump drains the send buffer and keeps the socket alive with pings
func (c *Connection) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

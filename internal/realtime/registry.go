package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/events"
)

// Registry tracks live connections and the rooms they listen to. Publish never
// blocks: events go through a bounded queue and are dropped for clients whose
// send buffer is full.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]map[*Connection]bool

	broadcast chan events.Event
	stop      chan struct{}
	done      chan struct{}
	logger    *zap.Logger
}

func NewRegistry(queueSize int, logger *zap.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[*Connection]bool),
		broadcast:   make(chan events.Event, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Start runs the fan-out loop until Stop is called or ctx ends
func (r *Registry) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case e := <-r.broadcast:
				r.deliver(e)
			case <-r.stop:
				r.closeAll()
				return
			case <-ctx.Done():
				r.closeAll()
				return
			}
		}
	}()
}

// Stop closes every connection and waits for the fan-out loop to exit
func (r *Registry) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

// Publish implements events.Publisher
func (r *Registry) Publish(_ context.Context, e events.Event) {
	select {
	case r.broadcast <- e:
	default:
		r.logger.Warn("Realtime queue full, dropping event",
			zap.String("event", string(e.Type)),
			zap.String("dispute_id", e.DisputeID.String()),
		)
	}
}

// Rooms lists the rooms an event is routed to
func Rooms(e events.Event) []string {
	rooms := []string{disputeRoom(e.DisputeID)}
	if e.HearingID != nil {
		rooms = append(rooms, hearingRoom(*e.HearingID))
	}
	if e.Type.StaffVisible() {
		rooms = append(rooms, StaffRoom)
	}
	return rooms
}

func (r *Registry) deliver(e events.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// a connection in several matching rooms receives the event once
	sent := make(map[*Connection]bool)
	for _, room := range Rooms(e) {
		for conn := range r.rooms[room] {
			if sent[conn] {
				continue
			}
			sent[conn] = true
			conn.push(Frame{
				Type:      FrameEvent,
				Event:     string(e.Type),
				Room:      room,
				Data:      e,
				Timestamp: e.OccurredAt,
			})
		}
	}
}

func (r *Registry) register(conn *Connection) {
	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()
	r.logger.Info("Connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.Actor.ID.String()),
	)
}

func (r *Registry) unregister(conn *Connection) {
	r.mu.Lock()
	if _, ok := r.connections[conn.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, conn.ID)
	for room, members := range r.rooms {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()
	conn.closeSend()
	r.logger.Info("Connection unregistered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.Actor.ID.String()),
	)
}

func (r *Registry) subscribe(conn *Connection, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[conn.ID]; !ok {
		return
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Connection]bool)
		r.rooms[room] = members
	}
	members[conn] = true
}

func (r *Registry) unsubscribe(conn *Connection, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	for _, conn := range conns {
		conn.close()
	}
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RoomSize returns how many connections listen to room
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// ConnectionInfo describes a live connection for the staff monitor
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Rooms        []string  `json:"rooms"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
}

// Connections returns information about all live connections
func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(r.connections))
	for _, conn := range r.connections {
		ci := ConnectionInfo{
			ConnectionID: conn.ID,
			UserID:       conn.Actor.ID.String(),
			Rooms:        []string{},
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.lastActivity(),
			UserAgent:    conn.UserAgent,
			IPAddress:    conn.IPAddress,
		}
		for room, members := range r.rooms {
			if members[conn] {
				ci.Rooms = append(ci.Rooms, room)
			}
		}
		info = append(info, ci)
	}
	return info
}

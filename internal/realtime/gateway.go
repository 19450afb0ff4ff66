package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
)

const commandTimeout = 10 * time.Second

// DisputeActions is the part of the dispute service the gateway drives
type DisputeActions interface {
	GetDispute(ctx context.Context, actor auth.Actor, id uuid.UUID) (*disputes.Detail, error)
	SendMessage(ctx context.Context, actor auth.Actor, req disputes.SendMessageRequest) (*disputes.Message, error)
}

// HearingActions is the part of the hearing service the gateway drives
type HearingActions interface {
	GetHearing(ctx context.Context, actor auth.Actor, id uuid.UUID) (*hearings.Detail, error)
	Join(ctx context.Context, hearingID, userID uuid.UUID) (*hearings.Participant, error)
	Leave(ctx context.Context, hearingID, userID uuid.UUID) (*hearings.Participant, error)
	SetSpeakerControl(ctx context.Context, actor auth.Actor, hearingID uuid.UUID, role hearings.SpeakerRole) (*hearings.Hearing, error)
}

// Gateway upgrades authenticated requests to websockets and executes client commands
type Gateway struct {
	registry *Registry
	disputes DisputeActions
	hearings HearingActions
	tokens   *auth.TokenManager
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewGateway(
	registry *Registry,
	disputeActions DisputeActions,
	hearingActions HearingActions,
	tokens *auth.TokenManager,
	cfg config.RealtimeConfig,
	allowedOrigins []string,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		registry: registry,
		disputes: disputeActions,
		hearings: hearingActions,
		tokens:   tokens,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes mounts GET /ws. Authentication happens before the upgrade.
func (g *Gateway) RegisterRoutes(router gin.IRoutes) {
	router.GET("/ws", g.serve)
}

// RegisterMonitor mounts the staff connection monitor on an authenticated group
func (g *Gateway) RegisterMonitor(router *gin.RouterGroup) {
	router.GET("/realtime/connections", auth.RequireRole(auth.RoleStaff, auth.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count":       g.registry.ConnectionCount(),
			"connections": g.registry.Connections(),
		})
	})
}

func (g *Gateway) serve(c *gin.Context) {
	actor, err := g.tokens.Parse(auth.BearerToken(c.Request))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "UNAUTHORIZED"})
		return
	}
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(ws, actor, g.cfg.SendBufferSize, g.logger)
	conn.UserAgent = c.Request.UserAgent()
	conn.IPAddress = c.ClientIP()
	g.registry.register(conn)

	go conn.writePump(g.cfg.WriteWait, g.cfg.PongWait*9/10)
	go g.readPump(conn)
}

func (g *Gateway) readPump(conn *Connection) {
	defer func() {
		g.registry.unregister(conn)
		g.leaveAll(conn)
		_ = conn.ws.Close()
	}()

	conn.ws.SetReadLimit(g.cfg.MaxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("Websocket closed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		conn.touch()

		ctx, cancel := context.WithTimeout(auth.WithActor(context.Background(), conn.Actor), commandTimeout)
		data, err := g.handle(ctx, conn, env)
		cancel()

		frame := Frame{Type: FrameAck, RequestID: env.RequestID, Data: data, Timestamp: time.Now().UTC()}
		if err != nil {
			frame = Frame{Type: FrameError, RequestID: env.RequestID, Error: g.frameError(env, err), Timestamp: time.Now().UTC()}
		}
		conn.push(frame)
	}
}

// leaveAll closes the presence interval of every hearing the connection joined
func (g *Gateway) leaveAll(conn *Connection) {
	for _, hearingID := range conn.drainTracked() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if _, err := g.hearings.Leave(ctx, hearingID, conn.Actor.ID); err != nil {
			g.logger.Warn("Failed to record hearing leave on disconnect",
				zap.String("hearing_id", hearingID.String()),
				zap.String("user_id", conn.Actor.ID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (g *Gateway) handle(ctx context.Context, conn *Connection, env Envelope) (interface{}, error) {
	actor := conn.Actor
	command := env.Type
	if canonical, ok := aliases[command]; ok {
		command = canonical
	}
	switch command {
	case CommandPing:
		return gin.H{"pong": true}, nil

	case CommandSubscribe:
		var p roomPayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		return g.subscribe(ctx, conn, p.Room)

	case CommandUnsubscribe:
		var p roomPayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		g.registry.unsubscribe(conn, p.Room)
		return gin.H{"room": p.Room}, nil

	case CommandJoinDispute, CommandLeaveDispute:
		var p disputePayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		room := disputeRoom(p.DisputeID)
		if command == CommandJoinDispute {
			return g.subscribe(ctx, conn, room)
		}
		g.registry.unsubscribe(conn, room)
		return gin.H{"room": room}, nil

	case CommandJoinStaffDashboard:
		return g.subscribe(ctx, conn, StaffRoom)

	case CommandLeaveStaffDashboard:
		g.registry.unsubscribe(conn, StaffRoom)
		return gin.H{"room": StaffRoom}, nil

	case CommandJoinHearing:
		var p hearingPayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		participant, err := g.hearings.Join(ctx, p.HearingID, actor.ID)
		if err != nil {
			return nil, err
		}
		conn.track(p.HearingID)
		g.registry.subscribe(conn, hearingRoom(p.HearingID))
		return participant, nil

	case CommandLeaveHearing:
		var p hearingPayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		participant, err := g.hearings.Leave(ctx, p.HearingID, actor.ID)
		if err != nil {
			return nil, err
		}
		conn.untrack(p.HearingID)
		g.registry.unsubscribe(conn, hearingRoom(p.HearingID))
		return participant, nil

	case CommandSendMessage:
		var p messagePayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		msg, err := g.disputes.SendMessage(ctx, actor, disputes.SendMessageRequest{
			DisputeID: p.DisputeID,
			HearingID: p.HearingID,
			Content:   p.Content,
		})
		if err != nil {
			return nil, err
		}
		return messageAck{Success: true, MessageID: msg.ID, DisputeID: msg.DisputeID, HearingID: msg.HearingID, CreatedAt: msg.CreatedAt}, nil

	case CommandSetSpeaker:
		var p speakerPayload
		if err := decode(env.Data, &p); err != nil {
			return nil, err
		}
		return g.hearings.SetSpeakerControl(ctx, actor, p.HearingID, hearings.SpeakerRole(p.Role))
	}
	return nil, &disputes.ValidationError{Field: "type", Message: "unknown command " + env.Type}
}

// authorizeRoom lets staff into the dashboard, parties and staff into dispute rooms
// and hearing participants and staff into hearing rooms
func (g *Gateway) subscribe(ctx context.Context, conn *Connection, room string) (interface{}, error) {
	if err := g.authorizeRoom(ctx, conn.Actor, room); err != nil {
		return nil, err
	}
	g.registry.subscribe(conn, room)
	return gin.H{"room": room}, nil
}

func (g *Gateway) authorizeRoom(ctx context.Context, actor auth.Actor, room string) error {
	if room == StaffRoom {
		if !actor.Role.IsStaff() {
			return &disputes.ForbiddenError{ActorID: actor.ID, Action: "subscribe", Rule: "staff only"}
		}
		return nil
	}
	kind, rawID, ok := strings.Cut(room, ":")
	id, err := uuid.Parse(rawID)
	if !ok || err != nil {
		return &disputes.ValidationError{Field: "room", Message: "unknown room " + room}
	}
	switch kind {
	case "dispute":
		_, err = g.disputes.GetDispute(ctx, actor, id)
	case "hearing":
		_, err = g.hearings.GetHearing(ctx, actor, id)
	default:
		err = &disputes.ValidationError{Field: "room", Message: "unknown room " + room}
	}
	return err
}

func (g *Gateway) frameError(env Envelope, err error) *FrameErr {
	var coded disputes.Coded
	switch {
	case errors.As(err, &coded):
		return &FrameErr{Code: coded.Code(), Message: err.Error(), Details: coded.Details()}
	case errors.Is(err, disputes.ErrNotFound):
		return &FrameErr{Code: "NOT_FOUND", Message: err.Error()}
	}
	g.logger.Error("Realtime command failed", zap.String("command", env.Type), zap.Error(err))
	return &FrameErr{Code: "INTERNAL", Message: "internal error"}
}

func decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return &disputes.ValidationError{Field: "data", Message: "is required"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &disputes.ValidationError{Field: "data", Message: err.Error()}
	}
	return nil
}

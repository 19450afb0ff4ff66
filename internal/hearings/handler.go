package hearings

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
)

// Handler handles HTTP requests for hearing operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new hearings handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers hearing routes. The group must already run auth.Middleware.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/disputes/:id/hearings", h.listForDispute)

	hearings := router.Group("/hearings")
	{
		hearings.POST("", h.schedule)
		hearings.GET("", h.listMine)
		hearings.GET("/:id", h.get)

		// Lifecycle
		hearings.POST("/:id/start", h.start)
		hearings.POST("/:id/end", h.end)
		hearings.POST("/:id/reschedule", h.reschedule)
		hearings.POST("/:id/cancel", h.cancel)
		hearings.POST("/:id/advance-phase", h.advancePhase)

		// Participants and presence
		hearings.POST("/:id/confirm", h.confirm)
		hearings.POST("/:id/participants", h.addParticipant)
		hearings.POST("/:id/join", h.join)
		hearings.POST("/:id/leave", h.leave)
		hearings.GET("/:id/attendance", h.attendance)

		// Speaker control
		hearings.POST("/:id/speaker", h.setSpeaker)
		hearings.GET("/:id/chat-permission", h.chatPermission)

		// Ledger
		hearings.GET("/:id/statements", h.listStatements)
		hearings.POST("/:id/statements", h.submitStatement)
		hearings.PUT("/:id/statements/:statementId", h.updateDraft)
		hearings.POST("/:id/statements/:statementId/publish", h.publishDraft)
		hearings.POST("/:id/statements/:statementId/retract", h.retract)
		hearings.POST("/:id/statements/:statementId/redact", h.redact)
		hearings.GET("/:id/timeline", h.timeline)

		hearings.GET("/:id/questions", h.listQuestions)
		hearings.POST("/:id/questions", h.askQuestion)
		hearings.POST("/:id/questions/:questionId/answer", h.answerQuestion)
		hearings.POST("/:id/questions/:questionId/deadline", h.extendDeadline)
		hearings.POST("/:id/questions/:questionId/cancel", h.cancelQuestion)
	}
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) schedule(c *gin.Context) {
	var req ScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	detail, err := h.service.Schedule(c.Request.Context(), actorOf(c), req)
	h.reply(c, http.StatusCreated, detail, err)
}

func (h *Handler) listMine(c *gin.Context) {
	out, err := h.service.ListMine(c.Request.Context(), actorOf(c))
	h.reply(c, http.StatusOK, gin.H{"hearings": out}, err)
}

func (h *Handler) listForDispute(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.service.ListForDispute(c.Request.Context(), actorOf(c), id)
	h.reply(c, http.StatusOK, gin.H{"hearings": out}, err)
}

func (h *Handler) get(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.GetHearing(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) start(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Start(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) end(c *gin.Context) {
	var req EndRequest
	_ = c.ShouldBindJSON(&req)
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.End(c.Request.Context(), actorOf(c), id, req)
	})
}

func (h *Handler) reschedule(c *gin.Context) {
	var req RescheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Reschedule(c.Request.Context(), actorOf(c), id, req)
	})
}

func (h *Handler) cancel(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Cancel(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) advancePhase(c *gin.Context) {
	var body struct {
		Target *disputes.Phase `json:"target"`
	}
	_ = c.ShouldBindJSON(&body)
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.AdvancePhase(c.Request.Context(), actorOf(c), id, body.Target)
	})
}

func (h *Handler) confirm(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.ConfirmAttendance(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) addParticipant(c *gin.Context) {
	var req AddParticipantRequest
	if !bindJSON(c, &req) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.AddParticipant(c.Request.Context(), actorOf(c), id, req)
	h.reply(c, http.StatusCreated, p, err)
}

func (h *Handler) join(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Join(c.Request.Context(), id, actorOf(c).ID)
	})
}

func (h *Handler) leave(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Leave(c.Request.Context(), id, actorOf(c).ID)
	})
}

func (h *Handler) attendance(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.AttendanceSummary(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) setSpeaker(c *gin.Context) {
	var body struct {
		Role SpeakerRole `json:"role" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.SetSpeakerControl(c.Request.Context(), actorOf(c), id, body.Role)
	})
}

func (h *Handler) chatPermission(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.ChatPermission(c.Request.Context(), id, actorOf(c).ID)
	})
}

func (h *Handler) listStatements(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		out, err := h.service.ListStatements(c.Request.Context(), actorOf(c), id)
		return gin.H{"statements": out}, err
	})
}

func (h *Handler) submitStatement(c *gin.Context) {
	var req StatementRequest
	if !bindJSON(c, &req) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.service.SubmitStatement(c.Request.Context(), actorOf(c), id, req)
	h.reply(c, http.StatusCreated, st, err)
}

func (h *Handler) updateDraft(c *gin.Context) {
	var req StatementRequest
	_ = c.ShouldBindJSON(&req)
	h.withStatement(c, func(id, statementID uuid.UUID) (interface{}, error) {
		return h.service.UpdateDraft(c.Request.Context(), actorOf(c), id, statementID, req)
	})
}

func (h *Handler) publishDraft(c *gin.Context) {
	h.withStatement(c, func(id, statementID uuid.UUID) (interface{}, error) {
		return h.service.PublishDraft(c.Request.Context(), actorOf(c), id, statementID)
	})
}

func (h *Handler) retract(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	h.withStatement(c, func(id, statementID uuid.UUID) (interface{}, error) {
		return h.service.Retract(c.Request.Context(), actorOf(c), id, statementID, body.Reason)
	})
}

func (h *Handler) redact(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	h.withStatement(c, func(id, statementID uuid.UUID) (interface{}, error) {
		return h.service.Redact(c.Request.Context(), actorOf(c), id, statementID, body.Reason)
	})
}

func (h *Handler) timeline(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		return h.service.Timeline(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) listQuestions(c *gin.Context) {
	h.withID(c, func(id uuid.UUID) (interface{}, error) {
		out, err := h.service.ListQuestions(c.Request.Context(), actorOf(c), id)
		return gin.H{"questions": out}, err
	})
}

func (h *Handler) askQuestion(c *gin.Context) {
	var req QuestionRequest
	if !bindJSON(c, &req) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.service.AskQuestion(c.Request.Context(), actorOf(c), id, req)
	h.reply(c, http.StatusCreated, q, err)
}

func (h *Handler) answerQuestion(c *gin.Context) {
	var body struct {
		Answer string `json:"answer"`
	}
	_ = c.ShouldBindJSON(&body)
	h.withQuestion(c, func(id, questionID uuid.UUID) (interface{}, error) {
		return h.service.AnswerQuestion(c.Request.Context(), actorOf(c), id, questionID, body.Answer)
	})
}

func (h *Handler) extendDeadline(c *gin.Context) {
	var body struct {
		Deadline time.Time `json:"deadline" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	h.withQuestion(c, func(id, questionID uuid.UUID) (interface{}, error) {
		return h.service.ExtendQuestionDeadline(c.Request.Context(), actorOf(c), id, questionID, body.Deadline)
	})
}

func (h *Handler) cancelQuestion(c *gin.Context) {
	h.withQuestion(c, func(id, questionID uuid.UUID) (interface{}, error) {
		return h.service.CancelQuestion(c.Request.Context(), actorOf(c), id, questionID)
	})
}

func (h *Handler) withID(c *gin.Context, fn func(id uuid.UUID) (interface{}, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := fn(id)
	h.reply(c, http.StatusOK, out, err)
}

func (h *Handler) withStatement(c *gin.Context, fn func(id, statementID uuid.UUID) (interface{}, error)) {
	h.withChild(c, "statementId", fn)
}

func (h *Handler) withQuestion(c *gin.Context, fn func(id, questionID uuid.UUID) (interface{}, error)) {
	h.withChild(c, "questionId", fn)
}

func (h *Handler) withChild(c *gin.Context, param string, fn func(id, childID uuid.UUID) (interface{}, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	childID, ok := pathID(c, param)
	if !ok {
		return
	}
	out, err := fn(id, childID)
	h.reply(c, http.StatusOK, out, err)
}

func (h *Handler) reply(c *gin.Context, status int, body interface{}, err error) {
	if err != nil {
		disputes.RespondError(c, h.logger, err)
		return
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return false
	}
	return true
}

func actorOf(c *gin.Context) auth.Actor {
	actor, _ := auth.ActorFromContext(c)
	return actor
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": "VALIDATION_FAILED"})
		return uuid.Nil, false
	}
	return id, true
}

package disputes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
)

// Handler handles HTTP requests for dispute operations
type Handler struct {
	service  *Service
	evidence *EvidenceService
	logger   *zap.Logger
}

// NewHandler creates a new disputes handler
func NewHandler(service *Service, evidence *EvidenceService, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		evidence: evidence,
		logger:   logger,
	}
}

// RegisterRoutes registers dispute routes. The group must already run auth.Middleware.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	disputes := router.Group("/disputes")
	{
		disputes.POST("", h.raise)
		disputes.GET("", h.list)
		disputes.GET("/:id", h.get)

		// Transitions
		disputes.POST("/:id/submit", h.submitForReview)
		disputes.POST("/:id/accept", h.acceptReview)
		disputes.POST("/:id/assign", h.assignStaff)
		disputes.POST("/:id/request-info", h.requestInfo)
		disputes.POST("/:id/provide-info", h.provideInfo)
		disputes.POST("/:id/resolve", h.resolve)
		disputes.POST("/:id/reject", h.reject)
		disputes.POST("/:id/appeal-rejection", h.appealRejection)
		disputes.POST("/:id/appeal", h.appeal)
		disputes.POST("/:id/advance-phase", h.advancePhase)

		// Messages
		disputes.GET("/:id/messages", h.listMessages)
		disputes.POST("/:id/messages", h.sendMessage)
		disputes.POST("/:id/messages/:messageId/hide", h.hideMessage)

		// Settlements
		disputes.GET("/:id/settlements", h.listSettlements)
		disputes.POST("/:id/settlements", h.offerSettlement)
		disputes.POST("/:id/settlements/:settlementId/respond", h.respondSettlement)

		// Evidence
		disputes.GET("/:id/evidence", h.listEvidence)
		disputes.POST("/:id/evidence", h.uploadEvidence)
		disputes.GET("/:id/evidence/:evidenceId/url", h.evidenceURL)
	}
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// raise handles POST /api/v1/disputes
func (h *Handler) raise(c *gin.Context) {
	var req RaiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	d, err := h.service.Raise(c.Request.Context(), actorOf(c), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// list handles GET /api/v1/disputes
func (h *Handler) list(c *gin.Context) {
	filter := ListFilter{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		st := Status(status)
		filter.Status = &st
	}
	if staff := c.Query("assigned_staff_id"); staff != "" {
		id, err := uuid.Parse(staff)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assigned_staff_id", "code": "VALIDATION_FAILED"})
			return
		}
		filter.AssignedStaffID = &id
	}

	out, err := h.service.ListDisputes(c.Request.Context(), actorOf(c), filter)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": out})
}

// get handles GET /api/v1/disputes/:id
func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetDispute(c.Request.Context(), actorOf(c), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) submitForReview(c *gin.Context) {
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.SubmitForReview(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) acceptReview(c *gin.Context) {
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.AcceptReview(c.Request.Context(), actorOf(c), id)
	})
}

func (h *Handler) assignStaff(c *gin.Context) {
	var body struct {
		StaffID uuid.UUID `json:"staff_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.AssignStaff(c.Request.Context(), actorOf(c), id, body.StaffID)
	})
}

func (h *Handler) requestInfo(c *gin.Context) {
	body := bindReason(c)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.RequestInfo(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) provideInfo(c *gin.Context) {
	body := bindReason(c)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.ProvideInfo(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.Resolve(c.Request.Context(), actorOf(c), id, req)
	})
}

func (h *Handler) reject(c *gin.Context) {
	body := bindReason(c)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.Reject(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) appealRejection(c *gin.Context) {
	body := bindReason(c)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.AppealRejection(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) appeal(c *gin.Context) {
	body := bindReason(c)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.Appeal(c.Request.Context(), actorOf(c), id, body.Reason)
	})
}

func (h *Handler) advancePhase(c *gin.Context) {
	var body struct {
		Target *Phase `json:"target"`
	}
	_ = c.ShouldBindJSON(&body)
	h.transition(c, func(id uuid.UUID) (*Dispute, error) {
		return h.service.AdvancePhase(c.Request.Context(), actorOf(c), id, body.Target)
	})
}

func (h *Handler) transition(c *gin.Context, fn func(id uuid.UUID) (*Dispute, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := fn(id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) listMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.service.ListMessages(c.Request.Context(), actorOf(c), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) sendMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	req.DisputeID = id
	m, err := h.service.SendMessage(c.Request.Context(), actorOf(c), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) hideMessage(c *gin.Context) {
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}
	body := bindReason(c)
	m, err := h.service.HideMessage(c.Request.Context(), actorOf(c), messageID, body.Reason)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) listSettlements(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.service.ListSettlements(c.Request.Context(), actorOf(c), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": out})
}

func (h *Handler) offerSettlement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req OfferSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	req.DisputeID = id
	offer, err := h.service.OfferSettlement(c.Request.Context(), actorOf(c), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *Handler) respondSettlement(c *gin.Context) {
	offerID, ok := pathID(c, "settlementId")
	if !ok {
		return
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	offer, err := h.service.RespondSettlement(c.Request.Context(), actorOf(c), offerID, body.Accept)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *Handler) listEvidence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.evidence.List(c.Request.Context(), actorOf(c), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence": out})
}

// uploadEvidence handles multipart POST /api/v1/disputes/:id/evidence
func (h *Handler) uploadEvidence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "code": "VALIDATION_FAILED"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}
	defer f.Close()

	e, err := h.evidence.Upload(c.Request.Context(), actorOf(c), UploadEvidenceRequest{
		DisputeID:   id,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Description: c.PostForm("description"),
		Body:        f,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) evidenceURL(c *gin.Context) {
	evidenceID, ok := pathID(c, "evidenceId")
	if !ok {
		return
	}
	url, err := h.evidence.DownloadURL(c.Request.Context(), actorOf(c), evidenceID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// StatusFor maps domain errors onto HTTP status codes
func StatusFor(err error) int {
	var (
		validation  *ValidationError
		invalid     *InvalidStateError
		mismatch    *PhaseMismatchError
		order       *PhaseOrderError
		incomplete  *IncompleteHearingError
		forbidden   *ForbiddenError
		notMod      *NotModeratorError
		notPart     *NotParticipantError
		conflict    *SchedulingConflictError
		orderingErr *OrderingConflictError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &forbidden), errors.As(err, &notMod), errors.As(err, &notPart):
		return http.StatusForbidden
	case errors.As(err, &conflict), errors.As(err, &orderingErr):
		return http.StatusConflict
	case errors.As(err, &invalid), errors.As(err, &mismatch), errors.As(err, &order), errors.As(err, &incomplete):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondError writes {error, code, details} for err
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}

	var coded Coded
	switch {
	case errors.As(err, &coded):
		body["code"] = coded.Code()
		body["details"] = coded.Details()
	case status == http.StatusNotFound:
		body["code"] = "NOT_FOUND"
	default:
		body["code"] = "INTERNAL"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
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

func bindReason(c *gin.Context) reasonBody {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	return body
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

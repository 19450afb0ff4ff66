package records

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
)

const (
	pdfContentType  = "application/pdf"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HearingReader is what the export endpoints read, with the caller's visibility applied
type HearingReader interface {
	GetHearing(ctx context.Context, actor auth.Actor, id uuid.UUID) (*hearings.Detail, error)
	AttendanceSummary(ctx context.Context, actor auth.Actor, hearingID uuid.UUID) (*hearings.AttendanceSummary, error)
}

// Handler serves hearing records as downloadable documents
type Handler struct {
	hearings HearingReader
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(reader HearingReader, logger *zap.Logger) *Handler {
	return &Handler{
		hearings: reader,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers export routes. The group must already run auth.Middleware.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/hearings/:id/minutes.pdf", h.minutes)
	router.GET("/hearings/:id/attendance.xlsx", h.attendance)
}

func (h *Handler) minutes(c *gin.Context) {
	id, ok := hearingID(c)
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(c)
	detail, err := h.hearings.GetHearing(c.Request.Context(), actor, id)
	if err != nil {
		disputes.RespondError(c, h.logger, err)
		return
	}
	body, err := RenderMinutes(detail, h.now())
	if err != nil {
		disputes.RespondError(c, h.logger, err)
		return
	}
	attachment(c, fmt.Sprintf("hearing-%d-minutes.pdf", detail.Hearing.HearingNumber), pdfContentType, body)
}

func (h *Handler) attendance(c *gin.Context) {
	id, ok := hearingID(c)
	if !ok {
		return
	}
	actor, _ := auth.ActorFromContext(c)
	summary, err := h.hearings.AttendanceSummary(c.Request.Context(), actor, id)
	if err != nil {
		disputes.RespondError(c, h.logger, err)
		return
	}
	body, err := RenderAttendance(summary)
	if err != nil {
		disputes.RespondError(c, h.logger, err)
		return
	}
	attachment(c, "hearing-"+id.String()+"-attendance.xlsx", xlsxContentType, body)
}

func attachment(c *gin.Context, name, contentType string, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, body)
}

func hearingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "VALIDATION_FAILED"})
		return uuid.Nil, false
	}
	return id, true
}

package records

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/pkg/storage"
)

var generatedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleDetail() *hearings.Detail {
	started := generatedAt.Add(-2 * time.Hour)
	ended := generatedAt.Add(-time.Hour)
	joined := started.Add(3 * time.Minute)
	first, second := 0, 1
	reason := "personal data"
	answer := "On the 3rd"
	summary := "Both parties presented"

	h := &hearings.Hearing{
		ID:            uuid.New(),
		DisputeID:     uuid.New(),
		HearingNumber: 2,
		Status:        hearings.StatusCompleted,
		Tier:          hearings.TierOne,
		ScheduledAt:   started,
		StartedAt:     &started,
		EndedAt:       &ended,
		ModeratorID:   uuid.New(),
		Agenda:        "Beta build acceptance",
		Summary:       &summary,
	}
	raiser := uuid.New()
	return &hearings.Detail{
		Hearing: h,
		Participants: []hearings.Participant{
			{ID: uuid.New(), HearingID: h.ID, UserID: raiser, Role: hearings.RoleRaiser, IsRequired: true, JoinedAt: &joined, TotalOnlineMinutes: 57},
			{ID: uuid.New(), HearingID: h.ID, UserID: h.ModeratorID, Role: hearings.RoleModerator, IsRequired: true},
		},
		Statements: []hearings.Statement{
			{ID: uuid.New(), AuthorID: raiser, Type: hearings.StatementOpening, Content: "The build crashes", Status: hearings.StatementSubmitted, OrderIndex: &first},
			{ID: uuid.New(), AuthorID: raiser, Type: hearings.StatementEvidence, Content: "phone number", Status: hearings.StatementSubmitted, OrderIndex: &second, IsRedacted: true, RedactedReason: &reason},
			{ID: uuid.New(), AuthorID: raiser, Type: hearings.StatementClosing, Content: "draft", Status: hearings.StatementDraft},
		},
		Questions: []hearings.Question{
			{ID: uuid.New(), TargetUserID: raiser, Question: "When was it delivered?", Answer: &answer, Status: hearings.QuestionAnswered},
		},
	}
}

func TestRenderMinutes(t *testing.T) {
	out, err := RenderMinutes(sampleDetail(), generatedAt)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderAttendance(t *testing.T) {
	joined := generatedAt.Add(-50 * time.Minute)
	summary := &hearings.AttendanceSummary{
		HearingID:   uuid.New(),
		Status:      hearings.StatusCompleted,
		ScheduledAt: generatedAt.Add(-time.Hour),
		GeneratedAt: generatedAt,
		Records: []hearings.AttendanceRecord{
			{ParticipantID: uuid.New(), UserID: uuid.New(), Role: hearings.RoleRaiser, IsRequired: true, JoinedAt: &joined, AttendanceMinutes: 45, LateMinutes: 10, Class: hearings.AttendanceLate},
			{ParticipantID: uuid.New(), UserID: uuid.New(), Role: hearings.RoleDefendant, IsRequired: true, IsNoShow: true, Class: hearings.AttendanceNoShow},
		},
		Late:    1,
		NoShows: 1,
	}

	out, err := RenderAttendance(summary)
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(attendanceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, attendanceColumns, rows[0])
	assert.Equal(t, "RAISER", rows[1][2])
	assert.Equal(t, "45", rows[1][5])
	assert.Equal(t, "NO_SHOW", rows[2][7])

	noShows, err := book.GetCellValue(summarySheet, "B8")
	require.NoError(t, err)
	assert.Equal(t, "1", noShows)
}

func TestArchiveMinutes(t *testing.T) {
	store := storage.NewMemoryClient()
	archive := NewArchive(store, "records", zap.NewNop())
	detail := sampleDetail()

	key, err := archive.ArchiveMinutes(context.Background(), detail)
	require.NoError(t, err)
	assert.Equal(t, "hearings/"+detail.Hearing.DisputeID.String()+"/"+detail.Hearing.ID.String()+"/minutes.pdf", key)

	body, err := store.Download(context.Background(), "records", key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

type fakeReader struct {
	detail *hearings.Detail
}

func (f *fakeReader) GetHearing(_ context.Context, _ auth.Actor, id uuid.UUID) (*hearings.Detail, error) {
	if id != f.detail.Hearing.ID {
		return nil, hearings.ErrHearingNotFound
	}
	return f.detail, nil
}

func (f *fakeReader) AttendanceSummary(_ context.Context, _ auth.Actor, id uuid.UUID) (*hearings.AttendanceSummary, error) {
	if id != f.detail.Hearing.ID {
		return nil, hearings.ErrHearingNotFound
	}
	return &hearings.AttendanceSummary{HearingID: id, Status: hearings.StatusCompleted}, nil
}

func TestHandlerDownloads(t *testing.T) {
	gin.SetMode(gin.TestMode)
	detail := sampleDetail()
	router := gin.New()
	NewHandler(&fakeReader{detail: detail}, zap.NewNop()).RegisterRoutes(router.Group(""))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/hearings/" + detail.Hearing.ID.String() + "/minutes.pdf")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdfContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "hearing-2-minutes.pdf")

	w = get("/hearings/" + detail.Hearing.ID.String() + "/attendance.xlsx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))

	w = get("/hearings/" + uuid.NewString() + "/minutes.pdf")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get("/hearings/not-a-uuid/attendance.xlsx")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package hearings

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
)

type handlerFixture struct {
	*fixture
	router *gin.Engine
	tokens *auth.TokenManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	tokens := auth.NewTokenManager("secret", "dispute-court", time.Hour)

	r := gin.New()
	api := r.Group("/api/v1", auth.Middleware(tokens))
	NewHandler(f.svc, zap.NewNop()).RegisterRoutes(api)
	return &handlerFixture{fixture: f, router: r, tokens: tokens}
}

func (h *handlerFixture) do(t *testing.T, actor auth.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, err := h.tokens.Issue(actor)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestHandlerScheduleAndGet(t *testing.T) {
	h := newHandlerFixture(t)

	w := h.do(t, h.moderator, http.MethodPost, "/api/v1/hearings", map[string]interface{}{
		"dispute_id":   h.dispute.ID,
		"scheduled_at": hearingTime,
		"agenda":       "crash reports",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var detail Detail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, StatusScheduled, detail.Hearing.Status)
	assert.Len(t, detail.Participants, 3)

	w = h.do(t, h.client, http.MethodGet, "/api/v1/hearings/"+detail.Hearing.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, h.freelance, http.MethodGet, "/api/v1/disputes/"+h.dispute.ID.String()+"/hearings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Hearings []Hearing `json:"hearings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Hearings, 1)

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleClient}
	w = h.do(t, stranger, http.MethodGet, "/api/v1/hearings/"+detail.Hearing.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_PARTICIPANT", errorCode(t, w))
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHandlerFixture(t)
	hearing := h.schedule(t)
	base := "/api/v1/hearings/" + hearing.ID.String()

	w := h.do(t, h.client, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_MODERATOR", errorCode(t, w))

	w = h.do(t, h.moderator, http.MethodPost, "/api/v1/hearings", map[string]interface{}{
		"dispute_id":   h.dispute.ID,
		"scheduled_at": hearingTime.Add(48 * time.Hour),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, w))

	w = h.do(t, h.moderator, http.MethodGet, "/api/v1/hearings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, h.moderator, http.MethodGet, "/api/v1/hearings/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, h.moderator, http.MethodPost, base+"/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerHearingSession(t *testing.T) {
	h := newHandlerFixture(t)
	hearing := h.schedule(t)
	base := "/api/v1/hearings/" + hearing.ID.String()
	h.setNow(hearingTime)

	w := h.do(t, h.moderator, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, h.client, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, h.client, http.MethodPost, base+"/statements", map[string]interface{}{
		"type":    "OPENING",
		"content": "The build crashes",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opening Statement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opening))
	require.NotNil(t, opening.OrderIndex)
	assert.Equal(t, 0, *opening.OrderIndex)

	w = h.do(t, h.moderator, http.MethodPost, base+"/speaker", map[string]string{"role": "RAISER_ONLY"})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, h.freelance, http.MethodGet, base+"/chat-permission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perm ChatPermission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &perm))
	assert.False(t, perm.Allowed)

	w = h.do(t, h.freelance, http.MethodPost, base+"/statements", map[string]interface{}{
		"type":    "OPENING",
		"content": "It works here",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, h.moderator, http.MethodPost, base+"/advance-phase", map[string]string{"target": "INTERROGATION"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PHASE_ORDER", errorCode(t, w))

	w = h.do(t, h.moderator, http.MethodPost, base+"/statements/"+opening.ID.String()+"/redact", map[string]string{"reason": "personal data"})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, h.moderator, http.MethodPost, base+"/end", map[string]interface{}{"summary": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INCOMPLETE_HEARING", errorCode(t, w))

	w = h.do(t, h.moderator, http.MethodPost, base+"/end", map[string]interface{}{"summary": "x", "force_end": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result EndResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, StatusCompleted, result.Hearing.Status)

	w = h.do(t, h.client, http.MethodGet, base+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tl Timeline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tl))
	require.Len(t, tl.Nodes, 1)
	assert.Equal(t, RedactedPlaceholder, tl.Nodes[0].Statement.Content)

	w = h.do(t, h.client, http.MethodGet, base+"/attendance", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(tokens *TokenManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), NewHandler(tokens))
	staff := r.Group("/staff", Middleware(tokens), RequireRole(RoleStaff, RoleAdmin))
	staff.GET("", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenManager("secret", "dispute-court", time.Hour)
	actor := Actor{ID: uuid.New(), Role: RoleFreelancer}

	raw, err := tokens.Issue(actor)
	require.NoError(t, err)

	got, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	other := NewTokenManager("other", "dispute-court", time.Hour)
	raw, err := other.Issue(Actor{ID: uuid.New(), Role: RoleClient})
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "dispute-court", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = other.Parse("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokenManager("secret", "dispute-court", time.Hour)
	router := newTestRouter(tokens)

	staffToken, err := tokens.Issue(Actor{ID: uuid.New(), Role: RoleStaff})
	require.NoError(t, err)
	clientToken, err := tokens.Issue(Actor{ID: uuid.New(), Role: RoleClient})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/api/v1/auth/me", "", http.StatusUnauthorized},
		{"me with header", "/api/v1/auth/me", "Bearer " + clientToken, http.StatusOK},
		{"me with query", "/api/v1/auth/me?token=" + clientToken, "", http.StatusOK},
		{"staff allowed", "/staff", "Bearer " + staffToken, http.StatusNoContent},
		{"client forbidden", "/staff", "Bearer " + clientToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

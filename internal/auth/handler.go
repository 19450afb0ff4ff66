package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	tokens *TokenManager
}

func NewHandler(tokens *TokenManager) *Handler {
	return &Handler{tokens: tokens}
}

// Ping endpoint
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "auth service alive!"})
}

// Me returns the caller resolved from the bearer token
func (h *Handler) Me(c *gin.Context) {
	actor, ok := ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error(), "code": "UNAUTHORIZED"})
		return
	}
	c.JSON(http.StatusOK, actor)
}

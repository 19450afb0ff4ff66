package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers Auth routes. Token issuance belongs to the identity service;
// this package only verifies what it signs.
func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	authGroup := r.Group("/auth")
	{
		authGroup.GET("/ping", handler.Ping)
		authGroup.GET("/me", Middleware(handler.tokens), handler.Me)
	}
}

package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/internal/realtime"
	"freelance-market/dispute-court/dispute-court-backend/internal/records"
)

// API holds the handlers mounted under /api/v1
type API struct {
	Tokens   *auth.TokenManager
	Disputes *disputes.Handler
	Hearings *hearings.Handler
	Records  *records.Handler
	Gateway  *realtime.Gateway
	Origins  []string
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route of the service
func NewRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(api.Logger), cors(api.Origins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})

	// the websocket route authenticates before upgrading
	api.Gateway.RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	auth.RegisterRoutes(v1, auth.NewHandler(api.Tokens))

	protected := v1.Group("")
	protected.Use(auth.Middleware(api.Tokens))
	{
		api.Disputes.RegisterRoutes(protected)
		api.Hearings.RegisterRoutes(protected)
		api.Records.RegisterRoutes(protected)
		api.Gateway.RegisterMonitor(protected)
	}
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if len(allowed) == 0 {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

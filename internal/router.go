package internal

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"

	"github.com/octree/typst-render/internal/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// NewRouter mounts the service routes and middleware.
func NewRouter(svc *Service) *gin.Engine {
	router := gin.New()
	router.Use(
		requestIDMiddleware(),
		requestLogger(),
		gin.CustomRecovery(recoveryHandler),
		corsMiddleware(),
		bodyLimitMiddleware(svc.maxUploadBytes),
	)

	router.GET("/", svc.IndexHandler)
	router.GET("/health", svc.HealthHandler)
	router.GET("/fonts", svc.FontsHandler)
	router.POST("/render", svc.RenderHandler)
	router.POST("/render/raw", svc.RenderRawHandler)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not Found", RequestID: requestID(c)})
	})

	return router
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(c),
		)
	}
}

func recoveryHandler(c *gin.Context, recovered any) {
	logging.Error("Recovered from panic", "panic", fmt.Sprint(recovered), "request_id", requestID(c))
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:     "Internal server error",
		RequestID: requestID(c),
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bodyLimitMiddleware caps request bodies before any parsing happens.
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:     fmt.Sprintf("Upload exceeds the %d byte limit", limit),
				RequestID: requestID(c),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

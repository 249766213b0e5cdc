// Package httptransport exposes the bot's HTTP surface: the Telegram
// webhook receiver, a liveness page, and a small status API.
package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"rizo-card-bot/internal/platform/logging"
	"rizo-card-bot/internal/transport/telegram"
)

// UpdateHandler consumes webhook updates.
type UpdateHandler interface {
	ProcessUpdate(ctx context.Context, upd *telegram.Update)
}

// StatusSource answers the status endpoint's questions about the
// running pipeline.
type StatusSource interface {
	Status() map[string]interface{}
}

// Options configures the HTTP router builder.
type Options struct {
	BotToken string
	LogLevel string
	Logger   *logging.Logger
	Handler  UpdateHandler
	Status   StatusSource

	// BaseCtx outlives individual webhook requests; update processing
	// runs on it so Telegram gets its 200 immediately.
	BaseCtx context.Context
}

// Router bundles the gin engine with its route groups.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// Build constructs a gin engine with logging, recovery, and CORS, and
// mounts the bot routes.
func Build(opts Options) (*Router, error) {
	if opts.BotToken == "" || opts.Handler == nil {
		return nil, fmt.Errorf("http router requires a bot token and an update handler")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger
	}
	baseCtx := opts.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	if opts.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	engine.SetTrustedProxies([]string{"0.0.0.0"})

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "✅ RIZO Card Bot — live")
	})

	engine.POST("/webhook/:token", webhookHandler(opts.BotToken, opts.Handler, logger, baseCtx))

	api := engine.Group("/api")
	api.GET("/status", statusHandler(opts.Status))

	return &Router{Engine: engine, API: api}, nil
}

// webhookHandler authenticates by path token, decodes the update, and
// hands it off without blocking the response.
func webhookHandler(token string, handler UpdateHandler, logger *logging.Logger, baseCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("token") != token {
			RespondError(c, http.StatusForbidden, "unknown webhook token", nil)
			return
		}

		var upd telegram.Update
		if err := c.ShouldBindJSON(&upd); err != nil {
			logger.WarnTag("HTTP", "webhook payload rejected: %v", err)
			RespondError(c, http.StatusBadRequest, "malformed update", nil)
			return
		}

		go handler.ProcessUpdate(baseCtx, &upd)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func statusHandler(source StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if source == nil {
			RespondError(c, http.StatusServiceUnavailable, "status source not wired", nil)
			return
		}
		RespondSuccess(c, http.StatusOK, source.Status(), "")
	}
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		logger.Info(
			"[HTTP] %s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			duration,
		)
	}
}

package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/config"
	"github.com/studiocast/studio/internal/handler"
	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/store"
	ws "github.com/studiocast/studio/internal/websocket"
	"github.com/studiocast/studio/pkg/response"
)

// RouterDeps is what the HTTP surface needs
type RouterDeps struct {
	Config   *config.Config
	Store    store.Store
	Services *Services
	Hub      *ws.Hub
	Redis    *redis.Client
	Media    client.MediaProcessor
	Logger   hclog.Logger
}

// NewRouter builds the Fiber app with every route
func NewRouter(d RouterDeps) *fiber.App {
	cfg := d.Config
	validate := handler.NewValidator()

	sessionHandler := handler.NewSessionHandler(d.Services.Sessions, validate)
	syncHandler := handler.NewSyncHandler(d.Services.Sync, validate)
	edlHandler := handler.NewEDLHandler(d.Services.EDL, validate)
	transcriptHandler := handler.NewTranscriptHandler(d.Services.Transcripts, validate)
	renderHandler := handler.NewRenderHandler(d.Services.Renders, validate)
	jobHandler := handler.NewJobHandler(d.Services.Jobs)
	healthHandler := handler.NewHealthHandler(d.Store, d.Media)

	rateLimiter := middleware.NewRateLimiter(d.Redis, d.Logger)
	computeLimit := rateLimiter.ComputeLimit(cfg.RateLimit.ComputePerHour)
	renderLimit := rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour)

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(d.Logger),
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.Server.Env != "test" {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-User-Id,X-User-Email,X-User-Name",
	}))

	app.Get("/health", healthHandler.Check)

	var authenticate fiber.Handler
	if cfg.Gateway.Enabled {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authenticate = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}

	api := app.Group("/api", authenticate)

	sessions := api.Group("/sessions")
	sessions.Post("/", sessionHandler.Create)
	sessions.Get("/", sessionHandler.List)
	sessions.Get("/:sessionId", sessionHandler.Get)
	sessions.Delete("/:sessionId", sessionHandler.Archive)
	sessions.Post("/:sessionId/cameras", sessionHandler.AddCamera)
	sessions.Put("/:sessionId/anchor", sessionHandler.SetAnchor)
	sessions.Post("/:sessionId/uploaded", sessionHandler.MarkUploaded)
	sessions.Post("/:sessionId/editing", sessionHandler.StartEditing)
	sessions.Post("/:sessionId/abandon", sessionHandler.Abandon)
	sessions.Put("/:sessionId/operator-status", sessionHandler.SetOperatorStatus)
	sessions.Get("/:sessionId/jobs", sessionHandler.Jobs)

	sessions.Post("/:sessionId/sync/compute", computeLimit, syncHandler.Compute)
	sessions.Get("/:sessionId/sync", syncHandler.Get)
	sessions.Post("/:sessionId/sync/approve", syncHandler.Approve)
	sessions.Post("/:sessionId/sync/correct", syncHandler.Correct)

	sessions.Post("/:sessionId/edl/generate", computeLimit, edlHandler.Generate)
	sessions.Get("/:sessionId/edl", edlHandler.Get)
	sessions.Get("/:sessionId/edl/versions", edlHandler.Versions)
	sessions.Put("/:sessionId/edl/cuts", edlHandler.UpdateCuts)
	sessions.Put("/:sessionId/edl/chapters", edlHandler.UpdateChapters)
	sessions.Post("/:sessionId/edl/lock", edlHandler.Lock)
	sessions.Post("/:sessionId/edl/unlock", edlHandler.Unlock)
	sessions.Get("/:sessionId/edl/export", edlHandler.Export)

	sessions.Post("/:sessionId/transcript/compute", computeLimit, transcriptHandler.Compute)
	sessions.Get("/:sessionId/transcript/search", transcriptHandler.Search)
	sessions.Get("/:sessionId/transcript/:angle", transcriptHandler.Get)
	sessions.Get("/:sessionId/transcript/:angle/srt", transcriptHandler.SRT)
	sessions.Get("/:sessionId/transcript/:angle/vtt", transcriptHandler.VTT)

	sessions.Post("/:sessionId/render/trigger", renderLimit, renderHandler.Trigger)

	render := api.Group("/render")
	render.Get("/:jobId/progress", renderHandler.Progress)
	render.Post("/:jobId/retry", renderLimit, renderHandler.Retry)
	render.Post("/:jobId/cancel", renderHandler.Cancel)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/retry", computeLimit, jobHandler.Retry)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	if d.Hub != nil {
		wsHandler := handler.NewWebSocketHandler(d.Hub, d.Services.Jobs)
		app.Get("/ws/jobs/:jobId", authenticate, wsHandler.Upgrade, wsHandler.Stream())
	}

	return app
}

func errorHandler(log hclog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var e *fiber.Error
		if errors.As(err, &e) {
			switch e.Code {
			case fiber.StatusNotFound:
				return response.NotFound(c, e.Message)
			case fiber.StatusMethodNotAllowed, fiber.StatusUpgradeRequired:
				return response.Error(c, e.Code, response.CodeValidationError, e.Message, nil)
			}
			return response.Error(c, e.Code, response.CodeServiceError, e.Message, nil)
		}
		log.Error("unhandled request error", "method", c.Method(), "path", c.Path(), "error", err)
		return response.FromError(c, err)
	}
}

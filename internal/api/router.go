package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/middleware"
)

const (
	defaultMaxBodyBytes = 1 << 20
	readTimeout         = 10 * time.Second
	writeTimeout        = 15 * time.Second
	idleTimeout         = 60 * time.Second
)

type Dependencies struct {
	Ingest       handler.Ingestor
	Verification handler.VerificationService
	// Named readiness checks, e.g. "postgres" and "redis"
	ReadyChecks map[string]handler.Pinger
	Gatherer    prometheus.Gatherer
	// SHA-256 hashes of the keys accepted on the query and operator routes
	APIKeyHashes []string
	RateLimit    middleware.RateLimiterConfig
	MaxBodyBytes int
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	bodyLimit := defaultMaxBodyBytes
	if deps != nil && deps.MaxBodyBytes > 0 {
		bodyLimit = deps.MaxBodyBytes
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "idvsync",
		BodyLimit:    bodyLimit,
		// Slow clients cannot hold a connection past these
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Health check endpoints (no auth required)
	var checks map[string]handler.Pinger
	if r.deps != nil {
		checks = r.deps.ReadyChecks
	}
	healthHandler := handler.NewHealthHandler(checks)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	if r.deps.Gatherer != nil {
		r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.app.Group("/v1")

	// Vendor callbacks authenticate by signature, not API key
	if r.deps.Ingest != nil {
		r.rateLimiter = middleware.NewRateLimiter(r.deps.RateLimit)

		webhookHandler := handler.NewWebhookHandler(r.deps.Ingest)
		v1.Post("/webhooks/:vendor", r.rateLimiter.Handler(), webhookHandler.Receive)
	}

	if r.deps.Verification != nil {
		authed := v1.Group("", middleware.APIKeyAuth(r.deps.APIKeyHashes...))

		verificationHandler := handler.NewVerificationHandler(r.deps.Verification)
		authed.Get("/verifications/:subject_ref", verificationHandler.GetStatus)
		authed.Get("/events", verificationHandler.ListEvents)
		authed.Get("/events/:id", verificationHandler.GetEvent)
		authed.Post("/events/:id/replay", verificationHandler.ReplayEvent)
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}

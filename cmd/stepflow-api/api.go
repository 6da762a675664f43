// Package main provides the Stepflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	engine   web.WorkflowEngine
	checkers map[string]web.HealthChecker
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	engine web.WorkflowEngine,
	checkers map[string]web.HealthChecker,
) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		checkers: checkers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.validate, a.logger, a.checkers)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	app.Get("/health", handlers.HealthCheck)

	t := app.Group("/templates", handlers.RequireTenant)
	t.Get("/", handlers.GetTemplates)
	t.Post("/", handlers.CreateTemplate)
	t.Get("/:id", handlers.GetTemplate)

	w := app.Group("/workflows", handlers.RequireTenant)
	w.Get("/", handlers.GetInstances)
	w.Post("/start", handlers.StartWorkflow)
	w.Get("/:instanceId", handlers.GetInstance)
	w.Get("/:instanceId/events", handlers.GetInstanceEvents)
	w.Get("/:instanceId/approvals", handlers.GetInstanceApprovals)
	w.Post("/:instanceId/steps/:stepId/approve", handlers.ApproveStep)
	w.Post("/:instanceId/steps/:stepId/reject", handlers.RejectStep)

	ap := app.Group("/approvals", handlers.RequireTenant)
	ap.Get("/pending", handlers.GetPendingApprovals)

	return app
}

func listen(app *fiber.App, port int) error {
	return app.Listen(":" + strconv.Itoa(port))
}

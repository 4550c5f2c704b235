// Package main provides the automation API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/praxishq/automation/pkg/engine"
	"github.com/praxishq/automation/pkg/eventbus"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/publish"
	"github.com/praxishq/automation/pkg/registry"
	"github.com/praxishq/automation/pkg/trigger"
	"github.com/praxishq/automation/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	engine      *engine.Engine
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	eng *engine.Engine,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		registry:    reg,
		eventBus:    eventBus,
		engine:      eng,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	publishService := publish.NewService(a.persistence, a.registry, a.logger)
	triggerService := trigger.NewService(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(a.persistence, publishService, triggerService, a.engine, a.registry, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Automation API")
	})

	automations := app.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.CreateAutomation)
	automations.Get("/:id", handlers.GetAutomation)
	automations.Patch("/:id", handlers.UpdateAutomation)
	automations.Delete("/:id", handlers.DeleteAutomation)
	automations.Patch("/:id/active", handlers.SetAutomationActive)
	automations.Post("/:id/versions", handlers.SaveDraft)
	automations.Post("/:id/publish", handlers.PublishAutomation)
	automations.Get("/:id/triggers", handlers.GetTriggers)
	automations.Post("/:id/triggers", handlers.CreateTrigger)
	automations.Get("/:id/runs", handlers.GetRuns)
	automations.Post("/:id/test", handlers.TestAutomation)

	app.Delete("/triggers/:triggerId", handlers.DeleteTrigger)
	app.Get("/runs/:id", handlers.GetRun)
	app.Post("/events", handlers.RaiseEvent)
	app.Get("/node-types", handlers.GetNodeTypes)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

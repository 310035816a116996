// Package main provides the stepflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/registry"
	"github.com/opsdesk/stepflow/pkg/web"
	"github.com/opsdesk/stepflow/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	definitions *workflow.DefinitionService
	engine      *workflow.Engine
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	definitions *workflow.DefinitionService,
	engine *workflow.Engine,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		definitions: definitions,
		engine:      engine,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.definitions, a.engine, a.persistence, a.registry, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: handlers.Ready,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("stepflow API")
	})

	handlers.Routes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

// Package main provides the pulse API server: REST and WebSocket access to
// task and workflow progress actors.
package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/dukex/pulse/pkg/config"
	"github.com/dukex/pulse/pkg/entity"
	"github.com/dukex/pulse/pkg/eventbus"
	"github.com/dukex/pulse/pkg/services"
	"github.com/dukex/pulse/pkg/session"
	"github.com/dukex/pulse/pkg/task"
	"github.com/dukex/pulse/pkg/web"
	"github.com/dukex/pulse/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger    *slog.Logger
	config    config.Config
	tasks     *actor.Host[*task.Actor]
	workflows *actor.Host[*workflow.Actor]
	storage   *services.Storage
	sweeper   *actor.Sweeper
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	cfg config.Config,
	tracer trace.Tracer,
	metrics session.Metrics,
	eventBus eventbus.EventBus,
) (*API, error) {
	deps := entity.Deps{
		DataDir: cfg.DataDir,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
	}

	if eventBus != nil {
		deps.Publisher = eventBus
	}

	ping := actor.WithAutoResponder(entity.PingResponder(time.Now))

	tasks := actor.NewHost(logger, task.Namespace, task.Factory(deps), ping)
	workflows := actor.NewHost(logger, workflow.Namespace, workflow.Factory(deps), ping)

	sweeper, err := actor.NewSweeper(logger, cfg.SweepInterval, cfg.IdleTimeout, tasks, workflows)
	if err != nil {
		return nil, err
	}

	return &API{
		logger:    logger,
		config:    cfg,
		tasks:     tasks,
		workflows: workflows,
		storage:   services.NewStorage(cfg.DataDir),
		sweeper:   sweeper,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewTasks(a.tasks),
		services.NewWorkflows(a.workflows),
		a.storage,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := a.storage.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Pulse API")
	})

	t := app.Group("/tasks")
	t.Post("/:id", handlers.InitializeTask)
	t.Get("/:id", handlers.GetTask)
	t.Delete("/:id", handlers.DeleteTask)
	t.Get("/:id/history", handlers.GetTaskHistory)
	t.Post("/:id/progress", handlers.UpdateTaskProgress)
	t.Post("/:id/events", handlers.LogTaskEvent)
	t.Post("/:id/complete", handlers.CompleteTask)
	t.Post("/:id/fail", handlers.FailTask)
	t.Post("/:id/cancel", handlers.CancelTask)
	t.Get("/:id/ws", web.NewGateway(a.logger, a.tasks, a.config.WriteTimeout).Handle)

	w := app.Group("/workflows")
	w.Post("/:id", handlers.InitializeWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Get("/:id/phases", handlers.GetWorkflowPhases)
	w.Get("/:id/history", handlers.GetWorkflowHistory)
	w.Post("/:id/phases/:key/progress", handlers.UpdatePhaseProgress)
	w.Post("/:id/phases/:key/complete", handlers.CompletePhase)
	w.Post("/:id/events", handlers.LogWorkflowEvent)
	w.Post("/:id/complete", handlers.CompleteWorkflow)
	w.Post("/:id/fail", handlers.FailWorkflow)
	w.Post("/:id/cancel", handlers.CancelWorkflow)
	w.Get("/:id/ws", web.NewGateway(a.logger, a.workflows, a.config.WriteTimeout).Handle)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves until ctx is done, then hibernates every resident actor.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	a.sweeper.Start()
	defer a.Close(context.WithoutCancel(ctx))

	err := app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{
		GracefulContext:       ctx,
		ShutdownTimeout:       shutdownTimeout,
		DisableStartupMessage: true,
		OnShutdownError: func(err error) {
			a.logger.ErrorContext(ctx, "Failed to shut down HTTP server", "error", err)
		},
		OnShutdownSuccess: func() {
			a.logger.InfoContext(ctx, "HTTP server stopped")
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// Close stops the sweeper and closes both actor hosts.
func (a *API) Close(ctx context.Context) {
	a.sweeper.Stop()
	a.tasks.Close(ctx)
	a.workflows.Close(ctx)
}

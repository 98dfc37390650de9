package web

import (
	"log/slog"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// Server composes the REST API over the given backends.
type Server struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventPublisher
	sink        broadcast.Sink
	subscriber  broadcast.Subscriber
	vault       *credentials.Vault
	metrics     *metrics.Metrics
	validate    *validator.Validate
}

func NewServer(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventPublisher,
	sink broadcast.Sink,
	subscriber broadcast.Subscriber,
	vault *credentials.Vault,
	m *metrics.Metrics,
) *Server {
	return &Server{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		sink:        sink,
		subscriber:  subscriber,
		vault:       vault,
		metrics:     m,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// App builds the fiber application with middleware, probes, metrics and every route.
func (s *Server) App() *fiber.App {
	dispatcher := dispatch.NewDispatcher(s.persistence, s.eventBus, s.logger, s.metrics)
	publishing := workflow.NewPublishingService(s.persistence, s.registry, s.logger)

	handlers := NewAPIHandlers(
		services.NewWorkflow(s.persistence, publishing, dispatcher),
		services.NewExecution(s.persistence, s.sink, s.metrics, s.logger),
		services.NewTrigger(s.persistence, dispatcher),
		services.NewCredential(s.persistence, s.vault),
		s.subscriber,
		s.validate,
		s.registry,
	)

	app := fiber.New()
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	handlers.Routes(app)

	return app
}

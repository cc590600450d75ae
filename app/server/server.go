package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"resumerag/app/api"
	"resumerag/app/middleware"
	"resumerag/observability"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Assistant      api.Assistant
	Indexer        api.Indexer
	Metrics        *observability.Metrics
	UploadDir      string
	RequestTimeout time.Duration
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
	s.app = newApp(deps)
	return s
}

func newApp(deps Deps) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler: api.ErrorHandler,
			BodyLimit:    20 * 1024 * 1024,
			Immutable:    true,
		})
		checkHandler   = api.NewCheckHandler()
		requestHandler = api.NewRequestHandler(deps.Assistant, deps.RequestTimeout)
		fileHandler    = api.NewFileHandler(deps.Indexer, deps.UploadDir)
	)

	app.Use(middleware.Metrics(deps.Metrics))
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	check := app.Group("/check")
	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1 := app.Group("/api/v1", middleware.Timeout(deps.RequestTimeout), middleware.Session())
	apiv1.Post("/query", requestHandler.HandleQuery)
	apiv1.Post("/chat", requestHandler.HandleChat)
	apiv1.Post("/upload", fileHandler.HandleUpload)
	apiv1.Get("/documents", fileHandler.HandleList)
	apiv1.Delete("/documents/:filename", fileHandler.HandleDelete)

	return app
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks serving requests until Stop is called.
func (s *Server) Run() error {
	s.logger.Info("server started", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	defer s.logger.Info("server stopped")
	return s.app.ShutdownWithContext(ctx)
}

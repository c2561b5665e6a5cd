package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/tech-arch1tect/berth-archiver/config"
	"github.com/tech-arch1tect/berth-archiver/internal/archive"
	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/auth"
	"github.com/tech-arch1tect/berth-archiver/internal/health"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/operations"
	"github.com/tech-arch1tect/berth-archiver/internal/ssl"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the archive HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func runServe() {
	fx.New(
		config.Module,
		logging.Module,
		audit.Module,
		archiver.Module,
		websocket.Module,
		operations.Module,
		archive.Module,
		health.Module,
		fx.Provide(NewEcho),
		fx.Invoke(RegisterRoutes),
		fx.Invoke(StartServer),
	).Run()
}

func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())
	return e
}

type routeHandlers struct {
	fx.In

	Operations *operations.Handler
	Archives   *archive.Handler
	Health     *health.Handler
	WebSocket  *websocket.Handler
}

func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	logger *logging.Logger,
	requestLog *logging.Service,
	auditService *audit.Service,
	handlers routeHandlers,
) {
	e.Use(logging.RequestLoggingMiddleware(requestLog))

	e.GET("/health", handlers.Health.Health)

	api := e.Group("/api")
	api.Use(auth.TokenMiddleware(cfg.AccessToken, logger, auditService))

	api.GET("/health", handlers.Health.Health)
	api.GET("/archiver", handlers.Health.ArchiverStatus)

	api.POST("/operations", handlers.Operations.StartOperation)
	api.GET("/operations", handlers.Operations.ListOperations)
	api.GET("/operations/:operationId/status", handlers.Operations.GetOperationStatus)
	api.GET("/operations/:operationId/stream", handlers.Operations.StreamOperation)
	api.DELETE("/operations/:operationId", handlers.Operations.TerminateOperation)

	api.GET("/archives/entries", handlers.Archives.ListEntries)

	ws := e.Group("/ws")
	ws.Use(auth.TokenMiddleware(cfg.AccessToken, logger, auditService))
	ws.GET("/archiver/status", handlers.WebSocket.HandleStatusWebSocket)
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *logging.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			address := ":" + cfg.Port

			if !cfg.TLSEnabled {
				go func() {
					if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Fatal("server failed to start", zap.Error(err))
					}
				}()
				logger.Info("archive API listening", zap.String("address", address))
				return nil
			}

			certPath, keyPath, err := ssl.NewCertificateManager(cfg.CertDir, logger).EnsureCertificates()
			if err != nil {
				return err
			}
			go func() {
				if err := e.StartTLS(address, certPath, keyPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("TLS server failed to start", zap.Error(err))
				}
			}()
			logger.Info("archive API listening with TLS", zap.String("address", address))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

package operations

import (
	"context"

	"github.com/tech-arch1tect/berth-archiver/config"
	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewServiceWithConfig),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterShutdown),
)

func NewServiceWithConfig(cfg *config.Config, factory *archiver.Factory, hub *websocket.Hub, logger *logging.Logger, auditService *audit.Service) *Service {
	return NewService(cfg.WorkspaceRoot, factory, hub, auditService, logger)
}

func RegisterShutdown(lc fx.Lifecycle, service *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			service.Shutdown()
			return nil
		},
	})
}

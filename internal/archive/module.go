package archive

import (
	"github.com/tech-arch1tect/berth-archiver/config"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(func() *Inspector {
		return NewInspector(DefaultMaxEntries)
	}),
	fx.Provide(func(cfg *config.Config, inspector *Inspector, auditService *audit.Service, logger *logging.Logger) *Handler {
		return NewHandler(cfg.WorkspaceRoot, inspector, auditService, logger)
	}),
)

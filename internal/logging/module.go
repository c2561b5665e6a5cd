package logging

import (
	"context"

	"github.com/tech-arch1tect/berth-archiver/config"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewLoggerFromConfig),
	fx.Provide(NewServiceFromConfig),
	fx.Invoke(RegisterShutdown),
	fx.Invoke(RegisterLoggerShutdown),
)

func NewServiceFromConfig(cfg *config.Config, logger *Logger) (*Service, error) {
	maxSizeBytes := int64(cfg.RequestLogSizeLimitMB) * 1024 * 1024
	return NewService(
		cfg.RequestLogEnabled,
		cfg.RequestLogFilePath,
		maxSizeBytes,
		logger,
	)
}

func NewLoggerFromConfig(cfg *config.Config) (*Logger, error) {
	return NewLogger(cfg.LogLevel)
}

func RegisterShutdown(lc fx.Lifecycle, service *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return service.Close()
		},
	})
}

func RegisterLoggerShutdown(lc fx.Lifecycle, logger *Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
}

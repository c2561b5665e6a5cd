package health

import (
	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewHandlerFromFactory),
	fx.Provide(NewBinaryMonitor),
	fx.Invoke(AttachBinaryMonitor),
)

func NewHandlerFromFactory(factory *archiver.Factory, hub *websocket.Hub, auditService *audit.Service, logger *logging.Logger) *Handler {
	return NewHandler(factory, hub, auditService, logger)
}

// AttachBinaryMonitor takes the watcher as a parameter so it is built
// before the monitor subscribes; it is nil when watching is disabled.
func AttachBinaryMonitor(monitor *BinaryMonitor, factory *archiver.Factory, watcher *archiver.BinaryWatcher) {
	monitor.Attach(factory.Cache(), watcher)
}

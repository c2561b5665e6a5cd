package health

import (
	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"go.uber.org/zap"
)

// BinaryMonitor turns cache resolutions and watcher invalidations into
// hub events and audit records.
type BinaryMonitor struct {
	hub          *websocket.Hub
	auditService *audit.Service
	logger       *logging.Logger
}

func NewBinaryMonitor(hub *websocket.Hub, auditService *audit.Service, logger *logging.Logger) *BinaryMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BinaryMonitor{
		hub:          hub,
		auditService: auditService,
		logger:       logger,
	}
}

// Attach subscribes to cache and, when binary watching is enabled, watcher.
func (m *BinaryMonitor) Attach(cache *archiver.BinaryCache, watcher *archiver.BinaryWatcher) {
	cache.OnResolved(m.Resolved)
	if watcher != nil {
		watcher.OnChange(m.Invalidated)
	}
}

func (m *BinaryMonitor) Resolved(path string) {
	m.logger.Info("archiver binary resolved", zap.String("path", path))
	m.auditService.LogBinaryEvent(audit.EventBinaryResolved, path, true, "", nil)
	m.hub.BroadcastBinaryStatus(websocket.BinaryStatusEvent{
		Path:      path,
		Available: true,
	})
}

func (m *BinaryMonitor) Invalidated(path string) {
	m.auditService.LogBinaryEvent(audit.EventBinaryInvalidated, path, true, "binary changed on disk", nil)
	m.hub.BroadcastBinaryStatus(websocket.BinaryStatusEvent{
		Path:      path,
		Available: false,
		Reason:    "binary changed on disk, will resolve again on next use",
	})
}

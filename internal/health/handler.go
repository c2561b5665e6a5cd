package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/common"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const DefaultResolveTimeout = 30 * time.Second

// BinaryProvider is satisfied by archiver.Factory.
type BinaryProvider interface {
	Binary(ctx context.Context) (archiver.Binary, error)
	Cached() (archiver.Binary, bool)
	Candidates() []string
}

type ArchiverStatus struct {
	Available    bool     `json:"available"`
	Path         string   `json:"path,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities string   `json:"capabilities,omitempty"`
	Candidates   []string `json:"candidates,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type Handler struct {
	binaries       BinaryProvider
	hub            *websocket.Hub
	auditService   *audit.Service
	logger         *logging.Logger
	resolveTimeout time.Duration
}

func NewHandler(binaries BinaryProvider, hub *websocket.Hub, auditService *audit.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{
		binaries:       binaries,
		hub:            hub,
		auditService:   auditService,
		logger:         logger,
		resolveTimeout: DefaultResolveTimeout,
	}
}

// Health never resolves the binary; it only reports what is cached.
func (h *Handler) Health(c echo.Context) error {
	_, resolved := h.binaries.Cached()
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "healthy",
		"archiverResolved": resolved,
	})
}

// ArchiverStatus resolves and probes the archiver, which may bootstrap it
// on first use.
func (h *Handler) ArchiverStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.resolveTimeout)
	defer cancel()

	binary, err := h.binaries.Binary(ctx)
	if err != nil {
		h.logger.Warn("archiver binary unavailable", zap.Error(err))
		h.auditService.LogBinaryEvent(audit.EventBinaryResolveFailed, "", false, err.Error(), map[string]any{
			"client_ip": c.RealIP(),
		})
		h.hub.BroadcastBinaryStatus(websocket.BinaryStatusEvent{
			Available: false,
			Reason:    err.Error(),
		})

		status := ArchiverStatus{
			Available:  false,
			Candidates: h.binaries.Candidates(),
			Error:      err.Error(),
		}
		var notFound *archiver.BinaryNotFoundError
		if errors.As(err, &notFound) && len(notFound.Candidates) > 0 {
			status.Candidates = notFound.Candidates
		}
		return c.JSON(http.StatusServiceUnavailable, status)
	}

	h.hub.BroadcastBinaryStatus(websocket.BinaryStatusEvent{
		Path:      binary.Path,
		Version:   binary.RawVersion,
		Available: true,
	})

	return common.SendSuccess(c, ArchiverStatus{
		Available:    true,
		Path:         binary.Path,
		Version:      binary.RawVersion,
		Capabilities: binary.Capabilities.String(),
	})
}

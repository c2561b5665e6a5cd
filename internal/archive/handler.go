package archive

import (
	"errors"
	"net/http"
	"os"

	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/common"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/validation"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Handler struct {
	workspaceRoot string
	inspector     *Inspector
	auditService  *audit.Service
	logger        *logging.Logger
}

func NewHandler(workspaceRoot string, inspector *Inspector, auditService *audit.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{
		workspaceRoot: workspaceRoot,
		inspector:     inspector,
		auditService:  auditService,
		logger:        logger,
	}
}

func (h *Handler) ListEntries(c echo.Context) error {
	rel := c.QueryParam("path")
	if rel == "" {
		return common.SendBadRequest(c, "path query parameter is required")
	}

	path, err := validation.SanitizeWorkspacePath(h.workspaceRoot, rel)
	if err != nil {
		return common.SendBadRequest(c, "Invalid path: "+err.Error())
	}
	if err := validation.EnsureWithinRoot(path, h.workspaceRoot); err != nil {
		return common.SendBadRequest(c, "Invalid path: "+err.Error())
	}

	format, err := DetectFormat(path)
	if err != nil {
		return common.SendBadRequest(c, err.Error())
	}

	entries, err := h.inspector.List(path)
	if err != nil {
		h.auditService.LogArchiveEvent(audit.EventArchiveList, c.RealIP(), rel, false, err.Error(), nil)
		h.logger.Warn("failed to list archive",
			zap.String("path", rel),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return common.SendNotFound(c, "Archive not found")
		case errors.Is(err, ErrTooManyEntries):
			return common.SendError(c, http.StatusRequestEntityTooLarge, err.Error())
		default:
			return common.SendError(c, http.StatusUnprocessableEntity, err.Error())
		}
	}

	h.auditService.LogArchiveEvent(audit.EventArchiveList, c.RealIP(), rel, true, "", map[string]any{
		"format":  format,
		"entries": len(entries),
	})

	return common.SendSuccess(c, ListResponse{
		Path:    rel,
		Format:  format,
		Entries: entries,
	})
}

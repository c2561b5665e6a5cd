package operations

import (
	"errors"
	"net/http"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/common"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/validation"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	service      *Service
	auditService *audit.Service
}

func NewHandler(service *Service, auditService *audit.Service) *Handler {
	return &Handler{
		service:      service,
		auditService: auditService,
	}
}

func (h *Handler) StartOperation(c echo.Context) error {
	var req OperationRequest
	if err := c.Bind(&req); err != nil {
		return common.SendBadRequest(c, "Invalid request format")
	}

	c.Set(logging.OperationContextKey, req.Operation)
	c.Set(logging.OperationSourceContextKey, req.Source)

	record := audit.OperationRecord{
		ClientIP:        c.RealIP(),
		Operation:       req.Operation,
		SourcePath:      req.Source,
		DestinationPath: req.Destination,
	}

	operationID, err := h.service.StartOperation(c.RealIP(), req)
	record.OperationID = operationID
	if err != nil {
		h.auditService.LogOperationEvent(audit.EventOperationStarted, record, false, nil, err.Error(), 0, nil)
		return sendStartError(c, err)
	}

	h.auditService.LogOperationEvent(audit.EventOperationStarted, record, true, nil, "", 0, map[string]any{
		"filter": req.Filter,
		"debug":  req.Debug,
	})

	return common.SendAccepted(c, OperationResponse{
		OperationID: operationID,
	})
}

func sendStartError(c echo.Context, err error) error {
	var notFound *archiver.BinaryNotFoundError
	switch {
	case errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, validation.ErrInvalidPath),
		errors.Is(err, validation.ErrInvalidCharacters),
		errors.Is(err, validation.ErrPathTraversal),
		errors.Is(err, validation.ErrOutsideRoot):
		return common.SendBadRequest(c, "Invalid operation request: "+err.Error())
	case errors.Is(err, ErrSourceNotFound):
		return common.SendNotFound(c, err.Error())
	case errors.Is(err, ErrDestinationBusy), errors.Is(err, archiver.ErrBusy):
		return common.SendConflict(c, err.Error())
	case errors.As(err, &notFound):
		return common.SendServiceUnavailable(c, err.Error())
	default:
		return common.SendInternalError(c, err.Error())
	}
}

func (h *Handler) ListOperations(c echo.Context) error {
	return common.SendSuccess(c, h.service.ListOperations())
}

func (h *Handler) StreamOperation(c echo.Context) error {
	operationID := c.Param("operationId")
	if err := validation.ValidateOperationID(operationID); err != nil {
		return common.SendBadRequest(c, "Invalid operation ID format")
	}

	op, exists := h.service.GetOperation(operationID)
	if !exists {
		return common.SendNotFound(c, "Operation not found")
	}

	h.auditService.LogOperationEvent(audit.EventOperationStreamed, audit.OperationRecord{
		ClientIP:    c.RealIP(),
		OperationID: operationID,
		Operation:   op.Request.Operation,
	}, true, nil, "", 0, nil)

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Del("Content-Length")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	err := h.service.StreamOperation(c.Request().Context(), operationID, c.Response())
	if err != nil && c.Request().Context().Err() != nil {
		// Client went away.
		return nil
	}
	return err
}

func (h *Handler) GetOperationStatus(c echo.Context) error {
	operationID := c.Param("operationId")
	if err := validation.ValidateOperationID(operationID); err != nil {
		return common.SendBadRequest(c, "Invalid operation ID format")
	}

	op, exists := h.service.GetOperation(operationID)
	if !exists {
		return common.SendNotFound(c, "Operation not found")
	}

	return common.SendSuccess(c, op)
}

func (h *Handler) TerminateOperation(c echo.Context) error {
	operationID := c.Param("operationId")
	if err := validation.ValidateOperationID(operationID); err != nil {
		return common.SendBadRequest(c, "Invalid operation ID format")
	}

	switch err := h.service.TerminateOperation(operationID); {
	case errors.Is(err, ErrOperationNotFound):
		return common.SendNotFound(c, "Operation not found")
	case errors.Is(err, ErrOperationNotRunning):
		return common.SendConflict(c, "Operation is not running")
	case err != nil:
		return common.SendInternalError(c, err.Error())
	}

	return common.SendAccepted(c, OperationResponse{OperationID: operationID})
}

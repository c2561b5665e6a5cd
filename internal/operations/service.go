package operations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"
	"github.com/tech-arch1tect/berth-archiver/internal/validation"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRetention is how long finished operations stay queryable.
const DefaultRetention = time.Hour

var (
	ErrOperationNotFound   = errors.New("operation not found")
	ErrOperationNotRunning = errors.New("operation is not running")
	ErrSourceNotFound      = errors.New("source not found")
	ErrDestinationBusy     = errors.New("destination is in use by another operation")
)

// OrchestratorFactory hands out a fresh orchestrator per operation.
type OrchestratorFactory interface {
	New() *archiver.Orchestrator
}

type Service struct {
	workspaceRoot      string
	orchestrators      OrchestratorFactory
	hub                *websocket.Hub
	auditService       *audit.Service
	logger             *logging.Logger
	operations         map[string]*Operation
	running            map[string]*archiver.Orchestrator
	activeDestinations map[string]string
	mutex              sync.RWMutex
	retention          time.Duration
	now                func() time.Time
}

func NewService(workspaceRoot string, orchestrators OrchestratorFactory, hub *websocket.Hub, auditService *audit.Service, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger.Debug("operations service initialized",
		zap.String("workspace_root", workspaceRoot),
	)
	return &Service{
		workspaceRoot:      workspaceRoot,
		orchestrators:      orchestrators,
		hub:                hub,
		auditService:       auditService,
		logger:             logger,
		operations:         make(map[string]*Operation),
		running:            make(map[string]*archiver.Orchestrator),
		activeDestinations: make(map[string]string),
		retention:          DefaultRetention,
		now:                time.Now,
	}
}

// StartOperation validates req, reserves its destination and launches the
// archiver without waiting for it. The operation ID is returned even when
// the launch fails, since the failure is recorded on the operation.
func (s *Service) StartOperation(clientIP string, req OperationRequest) (string, error) {
	if err := ValidateOperationRequest(req); err != nil {
		return "", err
	}

	source, err := validation.SanitizeWorkspacePath(s.workspaceRoot, req.Source)
	if err != nil {
		return "", fmt.Errorf("source: %w", err)
	}
	destination, err := validation.SanitizeWorkspacePath(s.workspaceRoot, req.Destination)
	if err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}
	if err := validation.EnsureWithinRoot(source, s.workspaceRoot); err != nil {
		return "", fmt.Errorf("source: %w", err)
	}
	if err := validation.EnsureWithinRoot(destination, s.workspaceRoot); err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}

	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, req.Source)
		}
		return "", fmt.Errorf("failed to stat source: %w", err)
	}

	operation := archiver.Operation(req.Operation)
	switch operation {
	case archiver.OperationExtract:
		if info.IsDir() {
			return "", fmt.Errorf("%w: extract source must be an archive file", ErrInvalidOperation)
		}
	case archiver.OperationCompress:
		if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
			return "", fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	s.mutex.Lock()
	s.pruneLocked()
	if existingOpID, exists := s.activeDestinations[destination]; exists {
		s.mutex.Unlock()
		s.logger.Warn("destination already in use",
			zap.String("destination", req.Destination),
			zap.String("existing_operation_id", existingOpID),
		)
		return "", fmt.Errorf("%w (%s)", ErrDestinationBusy, existingOpID)
	}

	operationID := uuid.New().String()
	op := &Operation{
		ID:          operationID,
		Request:     req,
		Status:      StatusPending,
		StartTime:   s.now(),
		Broadcaster: NewBroadcaster(operationID, s.logger),
		clientIP:    clientIP,
		destination: destination,
	}
	orchestrator := s.orchestrators.New()

	s.operations[operationID] = op
	s.running[operationID] = orchestrator
	s.activeDestinations[destination] = operationID
	s.mutex.Unlock()

	s.logger.Info("operation starting",
		zap.String("operation_id", operationID),
		zap.String("operation", req.Operation),
		zap.String("source", req.Source),
		zap.String("destination", req.Destination),
	)

	task := archiver.Task{
		Source:      source,
		Destination: destination,
		Filter:      req.Filter,
		Operation:   operation,
		Debug:       req.Debug,
	}

	// Detached from the request: the archiver outlives the POST.
	if _, err := orchestrator.Start(context.Background(), task, s.callbacks(op)); err != nil {
		return operationID, err
	}
	return operationID, nil
}

func (s *Service) callbacks(op *Operation) archiver.Callbacks {
	return archiver.Callbacks{
		OnStart:    func() { s.markRunning(op) },
		OnProgress: func(percent int) { s.recordProgress(op, percent) },
		OnEnd:      func(result archiver.Result) { s.finish(op, result) },
	}
}

func (s *Service) markRunning(op *Operation) {
	s.mutex.Lock()
	op.Status = StatusRunning
	s.mutex.Unlock()

	op.Broadcaster.Broadcast(StreamTypeStart, fmt.Sprintf("%s %s -> %s", op.Request.Operation, op.Request.Source, op.Request.Destination))
	s.hub.BroadcastOperationStatus(s.statusEvent(op, StatusRunning, nil, ""))
}

func (s *Service) recordProgress(op *Operation, percent int) {
	s.mutex.Lock()
	if op.Progress == percent {
		s.mutex.Unlock()
		return
	}
	op.Progress = percent
	s.mutex.Unlock()

	op.Broadcaster.BroadcastProgress(percent)
	s.hub.BroadcastOperationProgress(websocket.OperationProgressEvent{
		OperationID: op.ID,
		Operation:   op.Request.Operation,
		Percent:     percent,
	})
}

func (s *Service) finish(op *Operation, result archiver.Result) {
	status := StatusFailed
	eventType := audit.EventOperationFailed
	switch {
	case result.Success:
		status = StatusCompleted
		eventType = audit.EventOperationCompleted
	case errors.Is(result.Err, archiver.ErrTerminated):
		status = StatusTerminated
		eventType = audit.EventOperationTerminated
	}

	var exitCode *int
	if result.ExitCode >= 0 {
		code := result.ExitCode
		exitCode = &code
	}
	endTime := s.now()

	s.mutex.Lock()
	op.Status = status
	op.EndTime = &endTime
	op.ExitCode = exitCode
	op.Error = result.ErrorMessage()
	if s.activeDestinations[op.destination] == op.ID {
		delete(s.activeDestinations, op.destination)
	}
	delete(s.running, op.ID)
	s.mutex.Unlock()

	if result.Output != "" {
		for _, line := range strings.Split(strings.TrimRight(result.Output, "\n"), "\n") {
			op.Broadcaster.Broadcast(StreamTypeStdout, line)
		}
	}

	var exitErr *archiver.ExitError
	switch {
	case result.Success:
		op.Broadcaster.BroadcastComplete(true, result.ExitCode)
	case errors.As(result.Err, &exitErr):
		op.Broadcaster.BroadcastComplete(false, exitErr.ExitCode)
	default:
		op.Broadcaster.BroadcastError(result.ErrorMessage())
	}

	s.hub.BroadcastOperationStatus(s.statusEvent(op, status, exitCode, result.ErrorMessage()))

	s.auditService.LogOperationEvent(eventType, audit.OperationRecord{
		ClientIP:        op.clientIP,
		OperationID:     op.ID,
		Operation:       op.Request.Operation,
		SourcePath:      op.Request.Source,
		DestinationPath: op.Request.Destination,
	}, result.Success, exitCode, result.ErrorMessage(), result.Duration, map[string]any{
		"filter": op.Request.Filter,
		"debug":  op.Request.Debug,
	})

	fields := []zap.Field{
		zap.String("operation_id", op.ID),
		zap.String("status", string(status)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
	}
	if result.Success {
		s.logger.Info("operation completed", fields...)
	} else {
		s.logger.Warn("operation did not complete", append(fields, zap.Error(result.Err))...)
	}
}

func (s *Service) statusEvent(op *Operation, status Status, exitCode *int, errMsg string) websocket.OperationStatusEvent {
	return websocket.OperationStatusEvent{
		OperationID: op.ID,
		Operation:   op.Request.Operation,
		Source:      op.Request.Source,
		Destination: op.Request.Destination,
		Status:      string(status),
		ExitCode:    exitCode,
		Error:       errMsg,
	}
}

// GetOperation returns a copy of the operation's current state.
func (s *Service) GetOperation(operationID string) (Operation, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	op, exists := s.operations[operationID]
	if !exists {
		return Operation{}, false
	}
	return *op, true
}

func (s *Service) ListOperations() []Operation {
	s.mutex.RLock()
	ops := make([]Operation, 0, len(s.operations))
	for _, op := range s.operations {
		ops = append(ops, *op)
	}
	s.mutex.RUnlock()

	sort.Slice(ops, func(i, j int) bool {
		return ops[i].StartTime.Before(ops[j].StartTime)
	})
	return ops
}

// StreamOperation replays the operation's events to writer and follows
// them until the operation ends or ctx is cancelled.
func (s *Service) StreamOperation(ctx context.Context, operationID string, writer io.Writer) error {
	op, exists := s.GetOperation(operationID)
	if !exists {
		return ErrOperationNotFound
	}

	subscriberID := uuid.New().String()
	op.Broadcaster.Subscribe(subscriberID, writer)
	defer op.Broadcaster.Unsubscribe(subscriberID)

	select {
	case <-op.Broadcaster.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) TerminateOperation(operationID string) error {
	s.mutex.RLock()
	op, exists := s.operations[operationID]
	orchestrator := s.running[operationID]
	s.mutex.RUnlock()

	if !exists {
		return ErrOperationNotFound
	}
	if orchestrator == nil || orchestrator.Active() == nil {
		return ErrOperationNotRunning
	}

	s.logger.Info("terminating operation",
		zap.String("operation_id", op.ID),
	)
	if err := orchestrator.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate operation: %w", err)
	}
	return nil
}

// Shutdown terminates every running archiver.
func (s *Service) Shutdown() {
	s.mutex.RLock()
	running := make(map[string]*archiver.Orchestrator, len(s.running))
	for id, orchestrator := range s.running {
		running[id] = orchestrator
	}
	s.mutex.RUnlock()

	for id, orchestrator := range running {
		if err := orchestrator.Terminate(); err != nil {
			s.logger.Error("failed to terminate operation on shutdown",
				zap.String("operation_id", id),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, op := range s.operations {
		if op.Status.Finished() && op.EndTime != nil && op.EndTime.Before(cutoff) {
			delete(s.operations, id)
		}
	}
}

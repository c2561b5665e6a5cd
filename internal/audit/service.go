package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Service writes audit events as JSON lines. The live file is
// <base>-current<ext>; it is rotated to <base>-<date>[-<seq>]<ext> at
// midnight and whenever it grows past maxSizeBytes.
type Service struct {
	logger        *logging.Logger
	fileWriter    *os.File
	writeMutex    sync.Mutex
	enabled       bool
	logDir        string
	logBaseName   string
	logExtension  string
	currentDate   string
	currentSeqNum int
	maxSizeBytes  int64
	now           func() time.Time
}

type AuditEvent struct {
	Timestamp       time.Time      `json:"timestamp"`
	EventType       string         `json:"event_type"`
	EventCategory   string         `json:"event_category"`
	Severity        string         `json:"severity"`
	Success         bool           `json:"success"`
	ClientIP        string         `json:"client_ip,omitempty"`
	OperationID     string         `json:"operation_id,omitempty"`
	Operation       string         `json:"operation,omitempty"`
	SourcePath      string         `json:"source_path,omitempty"`
	DestinationPath string         `json:"destination_path,omitempty"`
	BinaryPath      string         `json:"binary_path,omitempty"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	DurationMs      int64          `json:"duration_ms,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func NewService(enabled bool, logFilePath string, maxSizeBytes int64, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if !enabled {
		return &Service{enabled: false, logger: logger}, nil
	}

	if logFilePath == "" {
		logFilePath = "/var/log/berth-archiver/audit.jsonl"
	}

	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	baseName := filepath.Base(logFilePath)
	ext := filepath.Ext(baseName)
	if ext == "" {
		ext = ".jsonl"
	}
	trimmedBase := strings.TrimSuffix(baseName, ext)
	if trimmedBase == "" {
		trimmedBase = "audit"
	}

	service := &Service{
		logger:       logger,
		enabled:      true,
		logDir:       logDir,
		logBaseName:  trimmedBase,
		logExtension: ext,
		maxSizeBytes: maxSizeBytes,
		now:          time.Now,
	}
	service.currentDate = service.now().Format(dateLayout)

	if err := service.scanExistingSequenceNumber(); err != nil {
		logger.Warn("failed to scan existing audit sequence numbers", zap.Error(err))
	}

	if err := service.openCurrentFile(); err != nil {
		return nil, err
	}

	logger.Info("audit log service initialized",
		zap.String("log_dir", logDir),
		zap.String("base_name", trimmedBase),
		zap.Int64("max_size_bytes", maxSizeBytes),
		zap.Int("current_seq_num", service.currentSeqNum),
	)

	return service, nil
}

func (s *Service) currentFilePath() string {
	return filepath.Join(s.logDir, fmt.Sprintf("%s-current%s", s.logBaseName, s.logExtension))
}

func (s *Service) rotatedFilePath(date string, seqNum int) string {
	if seqNum == 0 {
		return filepath.Join(s.logDir, fmt.Sprintf("%s-%s%s", s.logBaseName, date, s.logExtension))
	}
	return filepath.Join(s.logDir, fmt.Sprintf("%s-%s-%d%s", s.logBaseName, date, seqNum, s.logExtension))
}

func (s *Service) scanExistingSequenceNumber() error {
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s-%s-(\d+)%s$`,
		regexp.QuoteMeta(s.logBaseName), regexp.QuoteMeta(s.currentDate), regexp.QuoteMeta(s.logExtension)))

	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	maxSeq := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matches := pattern.FindStringSubmatch(entry.Name()); len(matches) == 2 {
			if seq, err := strconv.Atoi(matches[1]); err == nil && seq > maxSeq {
				maxSeq = seq
			}
		}
	}

	s.currentSeqNum = maxSeq
	return nil
}

func (s *Service) openCurrentFile() error {
	path := s.currentFilePath()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file %s: %w", path, err)
	}
	s.fileWriter = file
	return nil
}

// rotate moves the live file aside as rotatedPath and reopens a fresh one.
// An empty live file is not kept.
func (s *Service) rotate(rotatedPath, reason string) error {
	if s.fileWriter != nil {
		if err := s.fileWriter.Close(); err != nil {
			s.logger.Warn("failed to close audit log file before rotation", zap.Error(err))
		}
		s.fileWriter = nil
	}

	currentPath := s.currentFilePath()
	if info, err := os.Stat(currentPath); err == nil && info.Size() > 0 {
		if err := os.Rename(currentPath, rotatedPath); err != nil {
			s.logger.Error("failed to rotate audit log file",
				zap.String("from", currentPath),
				zap.String("to", rotatedPath),
				zap.Error(err),
			)
			return fmt.Errorf("failed to rotate audit log file: %w", err)
		}
		s.logger.Info("rotated audit log file",
			zap.String("rotated_to", rotatedPath),
			zap.String("reason", reason),
		)
	}

	return s.openCurrentFile()
}

func (s *Service) ensureCurrentLogFileLocked() error {
	today := s.now().Format(dateLayout)

	if s.currentDate != today {
		previousDate := s.currentDate
		seq := 0
		if s.currentSeqNum > 0 {
			seq = s.currentSeqNum + 1
		}
		s.currentDate = today
		s.currentSeqNum = 0
		return s.rotate(s.rotatedFilePath(previousDate, seq), "date")
	}

	if s.fileWriter == nil {
		return s.openCurrentFile()
	}
	return nil
}

func (s *Service) checkSizeRotation() {
	if s.maxSizeBytes <= 0 || s.fileWriter == nil {
		return
	}

	info, err := s.fileWriter.Stat()
	if err != nil {
		s.logger.Warn("failed to stat audit log file for size check", zap.Error(err))
		return
	}

	if info.Size() >= s.maxSizeBytes {
		s.currentSeqNum++
		if err := s.rotate(s.rotatedFilePath(s.currentDate, s.currentSeqNum), "size"); err != nil {
			s.logger.Error("failed to rotate audit log file by size", zap.Error(err))
		}
	}
}

func (s *Service) Log(event AuditEvent) {
	if !s.enabled {
		return
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.ensureCurrentLogFileLocked(); err != nil {
		s.logger.Error("failed to ensure audit log file", zap.Error(err))
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.EventCategory = GetEventCategory(event.EventType)
	event.Severity = GetEventSeverity(event.EventType)

	jsonData, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal audit event", zap.Error(err))
		return
	}

	if _, err := s.fileWriter.Write(append(jsonData, '\n')); err != nil {
		s.logger.Error("failed to write audit event", zap.Error(err))
		return
	}

	s.checkSizeRotation()
}

// OperationRecord carries the fields shared by every operation event.
type OperationRecord struct {
	ClientIP        string
	OperationID     string
	Operation       string
	SourcePath      string
	DestinationPath string
}

func (s *Service) LogOperationEvent(eventType string, op OperationRecord, success bool, exitCode *int, failureReason string, duration time.Duration, metadata map[string]any) {
	s.Log(AuditEvent{
		EventType:       eventType,
		ClientIP:        op.ClientIP,
		OperationID:     op.OperationID,
		Operation:       op.Operation,
		SourcePath:      op.SourcePath,
		DestinationPath: op.DestinationPath,
		Success:         success,
		ExitCode:        exitCode,
		FailureReason:   failureReason,
		DurationMs:      duration.Milliseconds(),
		Metadata:        metadata,
	})
}

func (s *Service) LogArchiveEvent(eventType string, clientIP string, archivePath string, success bool, failureReason string, metadata map[string]any) {
	s.Log(AuditEvent{
		EventType:     eventType,
		ClientIP:      clientIP,
		SourcePath:    archivePath,
		Success:       success,
		FailureReason: failureReason,
		Metadata:      metadata,
	})
}

func (s *Service) LogBinaryEvent(eventType string, binaryPath string, success bool, failureReason string, metadata map[string]any) {
	s.Log(AuditEvent{
		EventType:     eventType,
		BinaryPath:    binaryPath,
		Success:       success,
		FailureReason: failureReason,
		Metadata:      metadata,
	})
}

func (s *Service) LogAuthEvent(eventType string, clientIP string, success bool, failureReason string) {
	s.Log(AuditEvent{
		EventType:     eventType,
		ClientIP:      clientIP,
		Success:       success,
		FailureReason: failureReason,
	})
}

func (s *Service) Close() error {
	if !s.enabled {
		return nil
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if s.fileWriter != nil {
		err := s.fileWriter.Close()
		s.fileWriter = nil
		return err
	}
	return nil
}

func (s *Service) IsEnabled() bool {
	return s.enabled
}

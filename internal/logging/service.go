package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRequestLogMaxSize = 100 * 1024 * 1024

// Service appends one JSON line per API request to a local file.
type Service struct {
	fileWriter   *os.File
	writeMutex   sync.Mutex
	enabled      bool
	logFilePath  string
	maxSizeBytes int64
	errorLogger  *Logger
}

func NewService(enabled bool, logFilePath string, maxSizeBytes int64, errorLogger *Logger) (*Service, error) {
	if !enabled {
		return &Service{enabled: false}, nil
	}

	if logFilePath == "" {
		logFilePath = "/var/log/berth-archiver/requests.jsonl"
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultRequestLogMaxSize
	}
	if errorLogger == nil {
		errorLogger = NewNopLogger()
	}

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Service{
		fileWriter:   file,
		enabled:      true,
		logFilePath:  logFilePath,
		maxSizeBytes: maxSizeBytes,
		errorLogger:  errorLogger,
	}, nil
}

func (s *Service) LogRequest(entry *RequestLogEntry) {
	if !s.enabled {
		return
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		s.errorLogger.Error("failed to marshal request log entry", zap.Error(err))
		return
	}

	if _, err := s.fileWriter.Write(append(jsonData, '\n')); err != nil {
		s.errorLogger.Error("failed to write request log entry", zap.Error(err))
		return
	}

	if err := s.rotateLocked(); err != nil {
		s.errorLogger.Warn("failed to rotate request log", zap.Error(err))
	}
}

func (s *Service) Close() error {
	if s.fileWriter != nil {
		return s.fileWriter.Close()
	}
	return nil
}

func (s *Service) RotateIfNeeded() error {
	if !s.enabled {
		return nil
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.rotateLocked()
}

func (s *Service) rotateLocked() error {
	if s.fileWriter == nil {
		return nil
	}

	info, err := s.fileWriter.Stat()
	if err != nil {
		return err
	}
	if info.Size() < s.maxSizeBytes {
		return nil
	}

	if err := s.fileWriter.Close(); err != nil {
		return err
	}

	rotatedPath := fmt.Sprintf("%s.%s", s.logFilePath, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.logFilePath, rotatedPath); err != nil {
		return err
	}

	newFile, err := os.OpenFile(s.logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	s.fileWriter = newFile
	return nil
}

package archiver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTask        = errors.New("invalid archive task")
	ErrBusy               = errors.New("an archiver process is already active on this orchestrator")
	ErrWaitBudgetExceeded = errors.New("wait budget elapsed before the archiver exited")
	ErrTerminated         = errors.New("archiver process terminated")
)

// BinaryNotFoundError is returned when no archiver candidate exists and
// bootstrap is disabled or failed.
type BinaryNotFoundError struct {
	Candidates []string
	Cause      error
}

func (e *BinaryNotFoundError) Error() string {
	msg := "archiver binary not found"
	if len(e.Candidates) > 0 {
		msg += " (searched: " + strings.Join(e.Candidates, ", ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BinaryNotFoundError) Unwrap() error {
	return e.Cause
}

// ToolMissingError means no HTTP fetch executable could be found.
type ToolMissingError struct {
	Candidates []string
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("no fetch tool found (searched: %s)", strings.Join(e.Candidates, ", "))
}

type DownloadError struct {
	URL         string
	Destination string
	Cause       error
}

func (e *DownloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("download of %s to %s failed: %v", e.URL, e.Destination, e.Cause)
	}
	return fmt.Sprintf("download of %s to %s failed: file missing afterwards", e.URL, e.Destination)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// SpawnError is returned when the archiver exists but could not be started.
type SpawnError struct {
	Binary string
	Cause  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}

// ExitError reports a non-zero archiver exit status. No attempt is made to
// interpret the archiver's own error output.
type ExitError struct {
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("archiver exited with code %d", e.ExitCode)
}

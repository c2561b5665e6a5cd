package operations

import "time"

// OperationRequest paths are relative to the workspace root.
type OperationRequest struct {
	Operation   string `json:"operation"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Filter      string `json:"filter,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
}

type OperationResponse struct {
	OperationID string `json:"operationId"`
}

type StreamMessageType string

const (
	StreamTypeStart    StreamMessageType = "start"
	StreamTypeProgress StreamMessageType = "progress"
	StreamTypeStdout   StreamMessageType = "stdout"
	StreamTypeComplete StreamMessageType = "complete"
	StreamTypeError    StreamMessageType = "error"
)

// StreamMessage is one server-sent event on an operation stream.
type StreamMessage struct {
	Type      StreamMessageType `json:"type"`
	Data      string            `json:"data,omitempty"`
	Percent   *int              `json:"percent,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	ExitCode  *int              `json:"exitCode,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

type Operation struct {
	ID          string           `json:"id"`
	Request     OperationRequest `json:"request"`
	Status      Status           `json:"status"`
	Progress    int              `json:"progress"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	ExitCode    *int             `json:"exitCode,omitempty"`
	Error       string           `json:"error,omitempty"`
	Broadcaster *Broadcaster     `json:"-"`

	clientIP    string
	destination string
}

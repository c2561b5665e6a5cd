package websocket

import "time"

type MessageType string

const (
	MessageTypeOperationStatus   MessageType = "operation_status"
	MessageTypeOperationProgress MessageType = "operation_progress"
	MessageTypeBinaryStatus      MessageType = "binary_status"
	MessageTypeError             MessageType = "error"
)

type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// OperationStatusEvent is published whenever an operation changes state.
type OperationStatusEvent struct {
	BaseMessage
	OperationID string `json:"operation_id"`
	Operation   string `json:"operation"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

type OperationProgressEvent struct {
	BaseMessage
	OperationID string `json:"operation_id"`
	Operation   string `json:"operation"`
	Percent     int    `json:"percent"`
}

type BinaryStatusEvent struct {
	BaseMessage
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type ErrorEvent struct {
	BaseMessage
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

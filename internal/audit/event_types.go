package audit

const (
	EventOperationStarted    = "operation.started"
	EventOperationCompleted  = "operation.completed"
	EventOperationFailed     = "operation.failed"
	EventOperationTerminated = "operation.terminated"
	EventOperationStreamed   = "operation.streamed"
)

const (
	EventArchiveList = "archive.list"
)

const (
	EventBinaryResolved      = "archiver.resolved"
	EventBinaryInvalidated   = "archiver.invalidated"
	EventBinaryResolveFailed = "archiver.resolve_failed"
)

const (
	EventAuthSuccess = "auth.success"
	EventAuthFailure = "auth.failure"
)

func GetEventCategory(eventType string) string {
	switch eventType {
	case EventOperationStarted, EventOperationCompleted, EventOperationFailed,
		EventOperationTerminated, EventOperationStreamed:
		return "operation"

	case EventArchiveList:
		return "archive"

	case EventBinaryResolved, EventBinaryInvalidated, EventBinaryResolveFailed:
		return "archiver"

	case EventAuthSuccess, EventAuthFailure:
		return "auth"

	default:
		return "unknown"
	}
}

func GetEventSeverity(eventType string) string {
	switch eventType {
	case EventOperationTerminated, EventBinaryResolveFailed:
		return "critical"

	case EventOperationStarted, EventOperationCompleted, EventOperationFailed,
		EventBinaryInvalidated, EventAuthFailure:
		return "high"

	case EventArchiveList, EventBinaryResolved:
		return "medium"

	case EventOperationStreamed, EventAuthSuccess:
		return "low"

	default:
		return "medium"
	}
}

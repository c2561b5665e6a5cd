package operations

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

// Broadcaster fans one operation's events out to its SSE subscribers. Every
// message is kept so late subscribers receive the full history.
type Broadcaster struct {
	operationID string
	subscribers map[string]io.Writer
	messageLog  []StreamMessage
	mu          sync.Mutex
	completed   bool
	done        chan struct{}
	logger      *logging.Logger
	now         func() time.Time
}

func NewBroadcaster(operationID string, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Broadcaster{
		operationID: operationID,
		subscribers: make(map[string]io.Writer),
		messageLog:  make([]StreamMessage, 0, 100),
		done:        make(chan struct{}),
		logger:      logger,
		now:         time.Now,
	}
}

func (b *Broadcaster) Subscribe(subscriberID string, writer io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[subscriberID] = writer
	for _, msg := range b.messageLog {
		b.write(writer, msg)
	}

	b.logger.Debug("stream subscriber joined",
		zap.String("operation_id", b.operationID),
		zap.String("subscriber_id", subscriberID),
		zap.Int("replayed", len(b.messageLog)),
	)
}

func (b *Broadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, subscriberID)
	b.logger.Debug("stream subscriber left",
		zap.String("operation_id", b.operationID),
		zap.String("subscriber_id", subscriberID),
		zap.Int("remaining", len(b.subscribers)),
	)
}

func (b *Broadcaster) Broadcast(msgType StreamMessageType, data string) {
	b.publish(StreamMessage{Type: msgType, Data: data}, false)
}

func (b *Broadcaster) BroadcastProgress(percent int) {
	b.publish(StreamMessage{Type: StreamTypeProgress, Percent: &percent}, false)
}

func (b *Broadcaster) BroadcastComplete(success bool, exitCode int) {
	b.publish(StreamMessage{Type: StreamTypeComplete, Success: &success, ExitCode: &exitCode}, true)
}

func (b *Broadcaster) BroadcastError(errorMsg string) {
	b.publish(StreamMessage{Type: StreamTypeError, Data: errorMsg}, true)
}

// publish appends msg to the log and writes it to every subscriber. A
// final message closes the stream; anything published afterwards is
// dropped.
func (b *Broadcaster) publish(msg StreamMessage, final bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completed {
		return
	}

	msg.Timestamp = b.now()
	b.messageLog = append(b.messageLog, msg)
	for _, writer := range b.subscribers {
		b.write(writer, msg)
	}

	if final {
		b.completed = true
		close(b.done)
		b.logger.Debug("operation stream closed",
			zap.String("operation_id", b.operationID),
			zap.String("final_type", string(msg.Type)),
			zap.Int("subscribers", len(b.subscribers)),
		)
	}
}

func (b *Broadcaster) write(writer io.Writer, msg StreamMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal stream message", zap.Error(err))
		return
	}

	if _, err := fmt.Fprintf(writer, "data: %s\n\n", payload); err != nil {
		b.logger.Debug("failed to write stream message",
			zap.String("operation_id", b.operationID),
			zap.Error(err),
		)
		return
	}

	if flusher, ok := writer.(interface{ Flush() }); ok {
		defer func() { _ = recover() }()
		flusher.Flush()
	}
}

// Done is closed once a complete or error message has been published.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

func (b *Broadcaster) IsCompleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Broadcaster) Messages() []StreamMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StreamMessage(nil), b.messageLog...)
}

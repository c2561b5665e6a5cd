package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 256
	writeWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans status events out to every connected client. Publishing never
// blocks the caller: when the broadcast queue is full the event is dropped.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     *logging.Logger
	now        func() time.Time
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		now:        time.Now,
	}
}

func (h *Hub) Run() {
	h.logger.Info("websocket hub started")

	for {
		select {
		case <-h.stop:
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()

			h.logger.Info("websocket client connected",
				zap.Int("client_count", clientCount))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()

			h.logger.Info("websocket client disconnected",
				zap.Int("client_count", clientCount))

		case message := <-h.broadcast:
			h.mutex.Lock()
			recipientCount := 0
			failedCount := 0

			for client := range h.clients {
				select {
				case client.send <- message:
					recipientCount++
				default:
					h.logger.Warn("websocket client too slow, removing client")
					delete(h.clients, client)
					close(client.send)
					failedCount++
				}
			}
			h.mutex.Unlock()

			h.logger.Debug("message broadcast completed",
				zap.Int("recipient_count", recipientCount),
				zap.Int("failed_count", failedCount))
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(messageType MessageType, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal websocket event",
			zap.String("message_type", string(messageType)),
			zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event",
			zap.String("message_type", string(messageType)))
	}
}

func (h *Hub) base(messageType MessageType) BaseMessage {
	return BaseMessage{Type: messageType, Timestamp: h.now()}
}

func (h *Hub) BroadcastOperationStatus(event OperationStatusEvent) {
	event.BaseMessage = h.base(MessageTypeOperationStatus)
	h.publish(MessageTypeOperationStatus, event)
}

func (h *Hub) BroadcastOperationProgress(event OperationProgressEvent) {
	event.BaseMessage = h.base(MessageTypeOperationProgress)
	h.publish(MessageTypeOperationProgress, event)
}

func (h *Hub) BroadcastBinaryStatus(event BinaryStatusEvent) {
	event.BaseMessage = h.base(MessageTypeBinaryStatus)
	h.publish(MessageTypeBinaryStatus, event)
}

func (h *Hub) BroadcastError(event ErrorEvent) {
	event.BaseMessage = h.base(MessageTypeError)
	h.publish(MessageTypeError, event)
}

func (h *Hub) ServeWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			zap.Error(err))
		return err
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- client:
	case <-h.stop:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected websocket close error",
					zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

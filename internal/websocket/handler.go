package websocket

import (
	"github.com/labstack/echo/v4"
)

// Handler upgrades status subscriptions. Authentication is applied by the
// route's middleware.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) HandleStatusWebSocket(c echo.Context) error {
	return h.hub.ServeWebSocket(c)
}

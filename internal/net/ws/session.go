// Package ws runs the per-connection websocket session: initial state push,
// inbound message dispatch, and disconnect cleanup.
package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	server "joyride/server"
	"joyride/server/internal/net/proto"
)

// Handler coordinates websocket sessions against the hub.
type Handler struct {
	hub    *server.Hub
	logger *log.Logger
}

// NewHandler constructs a websocket session handler for the given hub.
func NewHandler(hub *server.Hub, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// Serve orchestrates one websocket session for the provided player
// connection. It returns when the connection drops; the tick loop keeps
// running for everyone else.
func (h *Handler) Serve(playerID string, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	sub, initial, ok := h.hub.Subscribe(playerID, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	data, err := json.Marshal(initial)
	if err != nil {
		h.logger.Printf("failed to marshal initial state for %s: %v", playerID, err)
		h.hub.Disconnect(playerID)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.hub.Disconnect(playerID)
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID)
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			continue
		}

		switch msg.Type {
		case proto.TypeInput:
			if ok, reason := h.hub.EnqueueInput(playerID, msg.Input()); !ok {
				h.logger.Printf("input rejected for %s: %s", playerID, reason)
			}
		case proto.TypeAction:
			if ok, reason := h.hub.EnqueueAction(playerID, msg.Action, msg.VehicleID, msg.Mission); !ok {
				h.logger.Printf("action %q rejected for %s: %s", msg.Action, playerID, reason)
			}
		case proto.TypePing:
			now := time.Now()
			rtt, ok := h.hub.UpdatePing(playerID, now, msg.SentAt)
			if !ok {
				continue
			}
			pong := proto.PongMessage{
				Ver:        proto.Version,
				Type:       proto.TypePong,
				ClientTime: msg.SentAt,
				ServerTime: now.UnixMilli(),
				RTTMillis:  rtt.Milliseconds(),
			}
			data, err := json.Marshal(pong)
			if err != nil {
				h.logger.Printf("failed to marshal pong for %s: %v", playerID, err)
				continue
			}
			if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
				h.hub.Disconnect(playerID)
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, playerID)
		}
	}
}

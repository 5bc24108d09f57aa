// Package server owns the room: the authoritative world, the subscriber
// set, and the fixed-rate tick loop that drives simulation and broadcast.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"joyride/server/internal/journal"
	"joyride/server/internal/net/proto"
	"joyride/server/internal/physics"
	"joyride/server/internal/sim"
	"joyride/server/internal/telemetry"
	"joyride/server/logging"
	loglifecycle "joyride/server/logging/lifecycle"
)

const (
	broadcastBytesMetricKey    = "hub_broadcast_bytes_total"
	broadcastMessagesMetricKey = "hub_broadcast_total"
	broadcastFailuresMetricKey = "hub_broadcast_failures_total"

	// CommandRejectInvalidAction flags an unrecognized clientAction name.
	CommandRejectInvalidAction = "invalid_action"
)

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage serializes writes to the underlying connection and applies
// the write deadline.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Hub owns one room: the world, its subscribers, and the tick loop.
type Hub struct {
	mu          sync.Mutex
	world       *sim.World
	subscribers map[string]*subscriber
	nextID      atomic.Uint64
	currentTick atomic.Uint64

	cfg       Config
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   *telemetry.Counters
	recorder  *journal.Recorder
}

// NewHub creates a hub with an empty subscriber set and a fresh world.
func NewHub(cfg Config, publisher logging.Publisher, logger telemetry.Logger) *Hub {
	normalized := cfg.Normalized()
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	metrics := telemetry.NewCounters()
	return &Hub{
		world:       sim.NewWorld(normalized.WorldConfig(), publisher, metrics),
		subscribers: make(map[string]*subscriber),
		cfg:         normalized,
		logger:      logger,
		publisher:   publisher,
		metrics:     metrics,
	}
}

// AttachJournal records every broadcast snapshot to the given recorder.
func (h *Hub) AttachJournal(recorder *journal.Recorder) {
	h.mu.Lock()
	h.recorder = recorder
	h.mu.Unlock()
}

// Join registers a new player identity and returns the initial state
// message: the new id plus every player and vehicle.
func (h *Hub) Join() proto.JoinResponse {
	id := h.nextID.Add(1)
	playerID := fmt.Sprintf("player-%d", id)
	now := time.Now()
	tick := h.currentTick.Load()

	player := h.world.AddPlayer(playerID, now)
	snapshot := h.world.Snapshot(tick, now)

	loglifecycle.PlayerJoined(context.Background(), h.publisher, tick,
		logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		loglifecycle.PlayerJoinedPayload{SpawnX: player.X, SpawnY: player.Y, SpawnZ: player.Z})

	return proto.JoinResponse{
		Ver:      proto.Version,
		ID:       playerID,
		Players:  snapshot.Players,
		Vehicles: snapshot.Vehicles,
		TickRate: h.cfg.TickRate,
	}
}

// Subscribe associates a websocket connection with an existing player and
// returns the initial full-state payload for that connection.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn) (*subscriber, proto.JoinResponse, bool) {
	if _, ok := h.world.PlayerView(playerID); !ok {
		return nil, proto.JoinResponse{}, false
	}

	h.mu.Lock()
	if existing, ok := h.subscribers[playerID]; ok {
		existing.conn.Close()
	}
	sub := &subscriber{conn: conn}
	h.subscribers[playerID] = sub
	h.mu.Unlock()

	snapshot := h.world.Snapshot(h.currentTick.Load(), time.Now())
	initial := proto.JoinResponse{
		Ver:      proto.Version,
		Type:     proto.TypeInit,
		ID:       playerID,
		Players:  snapshot.Players,
		Vehicles: snapshot.Vehicles,
		TickRate: h.cfg.TickRate,
	}
	return sub, initial, true
}

// Disconnect removes a player, force-releasing any vehicle it drives, and
// closes its subscriber connection. Other clients observe the removal as
// absence from the next snapshot.
func (h *Hub) Disconnect(playerID string) bool {
	h.mu.Lock()
	sub, subOK := h.subscribers[playerID]
	if subOK {
		delete(h.subscribers, playerID)
	}
	h.mu.Unlock()
	if subOK {
		sub.conn.Close()
	}

	removed := h.world.RemovePlayer(playerID)
	if removed {
		loglifecycle.PlayerDisconnected(context.Background(), h.publisher, h.currentTick.Load(),
			logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
			loglifecycle.PlayerDisconnectedPayload{Reason: "transport_closed"})
	}
	return removed
}

// EnqueueInput stages one sequence-numbered input for the next tick.
func (h *Hub) EnqueueInput(playerID string, in physics.Input) (bool, string) {
	return h.world.EnqueueInput(playerID, in)
}

// EnqueueAction stages a clientAction for the next tick boundary.
func (h *Hub) EnqueueAction(playerID, action, vehicleID, mission string) (bool, string) {
	cmd := sim.Command{ActorID: playerID, IssuedAt: time.Now()}
	switch action {
	case proto.ActionEnterVehicle:
		cmd.Type = sim.CommandEnterVehicle
		cmd.VehicleID = vehicleID
	case proto.ActionExitVehicle:
		cmd.Type = sim.CommandExitVehicle
		cmd.VehicleID = vehicleID
	case proto.ActionCompleteMission:
		cmd.Type = sim.CommandCompleteMission
		cmd.Mission = mission
	default:
		return false, CommandRejectInvalidAction
	}
	return h.world.QueueCommand(cmd)
}

// UpdatePing records ping receipt for RTT measurement.
func (h *Hub) UpdatePing(playerID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	return h.world.UpdatePing(playerID, receivedAt, clientSent)
}

// RunSimulation drives the fixed-rate tick loop until stop closes. The
// loop is the only writer of world entity state.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	tickRate := h.cfg.TickRate
	if tickRate <= 0 {
		tickRate = defaultTickRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			tick := h.currentTick.Add(1)
			h.world.Step(tick, now)
			snapshot := h.world.Snapshot(tick, now)
			h.mu.Lock()
			recorder := h.recorder
			h.mu.Unlock()
			if recorder != nil {
				if err := recorder.Append(snapshot); err != nil {
					h.logger.Printf("journal append failed: %v", err)
				}
			}
			h.BroadcastState(snapshot)
		}
	}
}

// BroadcastState fans the snapshot out to every subscriber. A failed send
// disconnects that subscriber only; the tick loop never stalls for a slow
// or dead connection.
func (h *Hub) BroadcastState(snapshot sim.Snapshot) {
	msg := proto.StateMessage{Ver: proto.Version, Type: proto.TypeState, Snapshot: snapshot}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		return
	}

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send snapshot to %s: %v", id, err)
			h.metrics.Add(broadcastFailuresMetricKey, 1)
			h.Disconnect(id)
			continue
		}
		h.metrics.Add(broadcastBytesMetricKey, uint64(len(data)))
		h.metrics.Add(broadcastMessagesMetricKey, 1)
	}
}

// Tick reports the current authoritative tick number.
func (h *Hub) Tick() uint64 {
	return h.currentTick.Load()
}

// DiagnosticsSnapshot exposes connection and counter data for the
// diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() DiagnosticsPayload {
	return DiagnosticsPayload{
		Status:      "ok",
		ServerTime:  time.Now().UnixMilli(),
		Tick:        h.currentTick.Load(),
		TickRate:    h.cfg.TickRate,
		Connections: h.world.Connections(),
		Counters:    h.metrics.Snapshot(),
	}
}

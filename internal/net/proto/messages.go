// Package proto defines the JSON wire messages exchanged over a session.
// Delivery is fire-and-forget with latest-wins semantics downstream: no
// message carries an acknowledgment requirement.
package proto

import (
	"encoding/json"
	"fmt"

	"joyride/server/internal/physics"
	"joyride/server/internal/sim"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Client message type identifiers.
const (
	TypeInput  = "input"
	TypeAction = "action"
	TypePing   = "ping"
)

// Server message type identifiers.
const (
	TypeInit  = "init"
	TypeState = "state"
	TypePong  = "pong"
)

// Action names carried by TypeAction messages.
const (
	ActionEnterVehicle    = "enterVehicle"
	ActionExitVehicle     = "exitVehicle"
	ActionCompleteMission = "completeMission"
)

// ClientMessage is the single envelope for everything a client sends.
type ClientMessage struct {
	Ver       int     `json:"ver,omitempty"`
	Type      string  `json:"type"`
	Seq       uint64  `json:"seq,omitempty"`
	Forward   bool    `json:"forward,omitempty"`
	Backward  bool    `json:"backward,omitempty"`
	Left      bool    `json:"left,omitempty"`
	Right     bool    `json:"right,omitempty"`
	Handbrake bool    `json:"handbrake,omitempty"`
	DeltaTime float64 `json:"dt,omitempty"`
	Action    string  `json:"action,omitempty"`
	VehicleID string  `json:"vehicleId,omitempty"`
	Mission   string  `json:"mission,omitempty"`
	SentAt    int64   `json:"sentAt,omitempty"`
}

// Input converts an input envelope into the simulation input record.
func (m ClientMessage) Input() physics.Input {
	return physics.Input{
		Seq:       m.Seq,
		Forward:   m.Forward,
		Backward:  m.Backward,
		Left:      m.Left,
		Right:     m.Right,
		Handbrake: m.Handbrake,
		DeltaTime: m.DeltaTime,
	}
}

// InputMessage builds the envelope for a simulation input.
func InputMessage(in physics.Input) ClientMessage {
	return ClientMessage{
		Ver:       Version,
		Type:      TypeInput,
		Seq:       in.Seq,
		Forward:   in.Forward,
		Backward:  in.Backward,
		Left:      in.Left,
		Right:     in.Right,
		Handbrake: in.Handbrake,
		DeltaTime: in.DeltaTime,
	}
}

// JoinResponse is sent once per connect: the new identity plus a full
// snapshot of every player and vehicle.
type JoinResponse struct {
	Ver      int           `json:"ver"`
	Type     string        `json:"type,omitempty"`
	ID       string        `json:"id"`
	Players  []sim.Player  `json:"players"`
	Vehicles []sim.Vehicle `json:"vehicles"`
	TickRate int           `json:"tickRate"`
}

// StateMessage is the per-tick snapshot broadcast.
type StateMessage struct {
	Ver      int          `json:"ver"`
	Type     string       `json:"type"`
	Snapshot sim.Snapshot `json:"snapshot"`
}

// PongMessage echoes the client timestamp for round-trip measurement.
type PongMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ClientTime int64  `json:"clientTime"`
	ServerTime int64  `json:"serverTime"`
	RTTMillis  int64  `json:"rtt"`
}

// DecodeClientMessage parses and minimally validates a client payload.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("decode client message: missing type")
	}
	return msg, nil
}

package simulation

import (
	"context"

	"joyride/server/logging"
)

const (
	// EventTeleportRejected is emitted when a movement step implies an
	// impossible speed and the position is reverted.
	EventTeleportRejected logging.EventType = "simulation.teleport_rejected"
	// EventSequenceJump is emitted when an input sequence number jumps far
	// ahead of the last one seen on the connection.
	EventSequenceJump logging.EventType = "simulation.sequence_jump"
)

// TeleportRejectedPayload captures the rejected displacement.
type TeleportRejectedPayload struct {
	Sequence     uint64  `json:"sequence"`
	ImpliedSpeed float64 `json:"impliedSpeed"`
	SpeedCap     float64 `json:"speedCap"`
}

// SequenceJumpPayload captures the observed sequence discontinuity.
type SequenceJumpPayload struct {
	LastSeen uint64 `json:"lastSeen"`
	Received uint64 `json:"received"`
	Rejected bool   `json:"rejected"`
}

// TeleportRejected publishes a warning for a reverted movement step.
func TeleportRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload TeleportRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTeleportRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// SequenceJump publishes a warning for an input sequence discontinuity.
func SequenceJump(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SequenceJumpPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSequenceJump,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

package sim

import "time"

// CommandType enumerates the tick-boundary commands a world accepts.
type CommandType string

const (
	CommandEnterVehicle    CommandType = "EnterVehicle"
	CommandExitVehicle     CommandType = "ExitVehicle"
	CommandCompleteMission CommandType = "CompleteMission"
	CommandForceRelease    CommandType = "ForceRelease"
)

// Command represents an intent staged for processing at the next tick
// boundary. Occupancy transitions are never applied mid-step.
type Command struct {
	OriginTick uint64
	ActorID    string
	Type       CommandType
	VehicleID  string
	Mission    string
	IssuedAt   time.Time
}

// Command intake reject reasons.
const (
	CommandRejectUnknownActor = "unknown_actor"
	CommandRejectQueueFull    = "queue_full"
	CommandRejectStaleInput   = "stale_input"
)

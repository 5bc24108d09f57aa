package sim

import (
	"time"

	"joyride/server/internal/physics"
)

// Player is the wire-facing view of an on-foot entity. Exactly one exists
// per connected identity; it is created on connect and removed on
// disconnect, and only the simulator mutates the server copy.
type Player struct {
	ID                 string  `json:"id"`
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Z                  float64 `json:"z"`
	Yaw                float64 `json:"yaw"`
	VX                 float64 `json:"vx"`
	VY                 float64 `json:"vy"`
	VZ                 float64 `json:"vz"`
	Health             float64 `json:"health"`
	Driving            bool    `json:"driving"`
	VehicleID          string  `json:"vehicleId,omitempty"`
	LastProcessedInput uint64  `json:"lastProcessedInput"`
	MissionsCompleted  int     `json:"missionsCompleted"`
}

// Vehicle is the wire-facing view of a drivable entity. The fleet is fixed
// at world construction and never shrinks during a session.
type Vehicle struct {
	ID                 string  `json:"id"`
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Z                  float64 `json:"z"`
	Yaw                float64 `json:"yaw"`
	Speed              float64 `json:"speed"`
	DriverID           string  `json:"driverId,omitempty"`
	LastProcessedInput uint64  `json:"lastProcessedInput"`
}

// Snapshot is the immutable per-tick aggregate broadcast to every client.
type Snapshot struct {
	Tick       uint64    `json:"t"`
	ServerTime int64     `json:"serverTime"`
	Players    []Player  `json:"players"`
	Vehicles   []Vehicle `json:"vehicles"`
}

type playerState struct {
	Player
	queue       *InputQueue
	lastSeqSeen uint64
	lastPing    time.Time
	lastRTT     time.Duration
	connectedAt time.Time
}

type vehicleState struct {
	Vehicle
}

func (s *playerState) pose() physics.PlayerPose {
	return physics.PlayerPose{
		X: s.X, Y: s.Y, Z: s.Z,
		Yaw: s.Yaw,
		VX:  s.VX, VY: s.VY, VZ: s.VZ,
	}
}

func (s *playerState) setPose(p physics.PlayerPose) {
	s.X, s.Y, s.Z = p.X, p.Y, p.Z
	s.Yaw = p.Yaw
	s.VX, s.VY, s.VZ = p.VX, p.VY, p.VZ
}

func (s *vehicleState) pose() physics.VehiclePose {
	return physics.VehiclePose{X: s.X, Y: s.Y, Z: s.Z, Yaw: s.Yaw, Speed: s.Speed}
}

func (s *vehicleState) setPose(p physics.VehiclePose) {
	s.X, s.Y, s.Z = p.X, p.Y, p.Z
	s.Yaw = p.Yaw
	s.Speed = p.Speed
}

// Package physics holds the movement rules shared by the authoritative
// simulator and the client-side predictor. Every step function is pure:
// identical inputs produce identical outputs, which is what keeps
// prediction and authority from drifting apart.
package physics

import "math"

const (
	// WalkSpeed is the on-foot movement speed in units per second.
	WalkSpeed = 5.0
	// MaxWalkDelta caps the deltaTime a single on-foot command may claim.
	MaxWalkDelta = 0.25

	// EngineForce is the longitudinal acceleration at full throttle.
	EngineForce = 12.0
	// DragCoefficient scales the quadratic drag opposing vehicle motion.
	DragCoefficient = 0.02
	// BrakeDecel is the handbrake deceleration toward a standstill.
	BrakeDecel = 18.0
	// MaxCarSpeed bounds scalar speed symmetrically in both directions.
	MaxCarSpeed = 40.0
	// SteerRate scales yaw change per unit of speed at full steering lock.
	SteerRate = 0.045
	// MinTurnSpeed is the scalar speed below which steering has no effect.
	MinTurnSpeed = 0.5

	// WorldExtent bounds positions on both horizontal axes.
	WorldExtent = 1024.0
)

// Input is a single sequence-numbered intent captured from live key state.
// It is immutable once created and consumed exactly once by whichever
// branch (player or vehicle) currently owns the sender.
type Input struct {
	Seq       uint64  `json:"seq"`
	Forward   bool    `json:"forward"`
	Backward  bool    `json:"backward"`
	Left      bool    `json:"left"`
	Right     bool    `json:"right"`
	Handbrake bool    `json:"handbrake"`
	DeltaTime float64 `json:"dt"`
}

// PlayerPose is the on-foot kinematic state advanced by StepPlayer.
type PlayerPose struct {
	X, Y, Z    float64
	Yaw        float64
	VX, VY, VZ float64
}

// VehiclePose is the vehicle kinematic state advanced by StepVehicle.
type VehiclePose struct {
	X, Y, Z float64
	Yaw     float64
	Speed   float64
}

// StepPlayer advances an on-foot pose by one input. The local movement
// vector (strafe on x, forward on z) is rotated by the current yaw, and the
// yaw itself turns to face the direction of travel while moving.
func StepPlayer(pose PlayerPose, in Input) PlayerPose {
	dt := clampDelta(in.DeltaTime)

	var lx, lz float64
	if in.Forward {
		lz += 1
	}
	if in.Backward {
		lz -= 1
	}
	if in.Right {
		lx += 1
	}
	if in.Left {
		lx -= 1
	}

	length := math.Hypot(lx, lz)
	if length == 0 {
		pose.VX, pose.VY, pose.VZ = 0, 0, 0
		return pose
	}
	lx /= length
	lz /= length

	sin, cos := math.Sincos(pose.Yaw)
	wx := lx*cos + lz*sin
	wz := lz*cos - lx*sin

	pose.VX = wx * WalkSpeed
	pose.VZ = wz * WalkSpeed
	pose.X = clampExtent(pose.X + pose.VX*dt)
	pose.Z = clampExtent(pose.Z + pose.VZ*dt)
	pose.Yaw = math.Atan2(wx, wz)
	return pose
}

// StepVehicle advances a vehicle pose by one input. Throttle applies a
// longitudinal force opposed by quadratic drag; steering turns the heading
// in proportion to current speed, with no effect below MinTurnSpeed.
func StepVehicle(pose VehiclePose, in Input) VehiclePose {
	dt := clampDelta(in.DeltaTime)

	var throttle float64
	if in.Forward {
		throttle += 1
	}
	if in.Backward {
		throttle -= 1
	}

	accel := throttle*EngineForce - DragCoefficient*pose.Speed*math.Abs(pose.Speed)
	pose.Speed += accel * dt

	if in.Handbrake {
		brake := BrakeDecel * dt
		switch {
		case pose.Speed > brake:
			pose.Speed -= brake
		case pose.Speed < -brake:
			pose.Speed += brake
		default:
			pose.Speed = 0
		}
	}

	if pose.Speed > MaxCarSpeed {
		pose.Speed = MaxCarSpeed
	}
	if pose.Speed < -MaxCarSpeed {
		pose.Speed = -MaxCarSpeed
	}

	if math.Abs(pose.Speed) > MinTurnSpeed {
		var steer float64
		if in.Left {
			steer += 1
		}
		if in.Right {
			steer -= 1
		}
		pose.Yaw += steer * SteerRate * pose.Speed * dt
		pose.Yaw = WrapAngle(pose.Yaw)
	}

	sin, cos := math.Sincos(pose.Yaw)
	pose.X = clampExtent(pose.X + sin*pose.Speed*dt)
	pose.Z = clampExtent(pose.Z + cos*pose.Speed*dt)
	return pose
}

// WrapAngle normalizes an angle into (-pi, pi].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// LerpAngle interpolates between two angles through the shortest arc.
func LerpAngle(from, to, t float64) float64 {
	return WrapAngle(from + WrapAngle(to-from)*t)
}

func clampExtent(v float64) float64 {
	if v > WorldExtent {
		return WorldExtent
	}
	if v < -WorldExtent {
		return -WorldExtent
	}
	return v
}

func clampDelta(dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if dt > MaxWalkDelta {
		return MaxWalkDelta
	}
	return dt
}

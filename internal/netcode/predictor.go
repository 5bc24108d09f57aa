package netcode

import (
	"math"

	"joyride/server/internal/physics"
	"joyride/server/internal/sim"
)

const (
	// ReconcileThreshold is the positional error above which the predictor
	// snaps to the authoritative state and replays its pending inputs.
	// Errors below it are normal float/timing drift and are left alone to
	// avoid visible jitter.
	ReconcileThreshold = 1.0

	defaultPendingCapacity = 256
)

// Keys is the live key state sampled once per render frame.
type Keys struct {
	Forward   bool
	Backward  bool
	Left      bool
	Right     bool
	Handbrake bool
}

// Predictor applies the local player's own inputs immediately, ahead of
// server confirmation, and reconciles against incoming snapshots. It only
// ever mutates the local identity; remote entities belong to the
// Interpolator.
type Predictor struct {
	selfID    string
	pose      physics.PlayerPose
	vehicle   physics.VehiclePose
	vehicleID string
	driving   bool
	pending   *PendingBuffer
	nextSeq   uint64
}

// NewPredictor tracks the given identity starting from the initial view.
func NewPredictor(selfID string, initial sim.Player) *Predictor {
	p := &Predictor{
		selfID:  selfID,
		pending: NewPendingBuffer(defaultPendingCapacity),
	}
	p.adoptPlayer(initial)
	return p
}

// Step builds the next sequence-numbered input from live key state,
// applies it locally through the shared physics rules, and records it as
// pending. The returned input must be transmitted to the server.
func (p *Predictor) Step(keys Keys, dt float64) physics.Input {
	p.nextSeq++
	in := physics.Input{
		Seq:       p.nextSeq,
		Forward:   keys.Forward,
		Backward:  keys.Backward,
		Left:      keys.Left,
		Right:     keys.Right,
		Handbrake: keys.Handbrake,
		DeltaTime: dt,
	}
	if p.driving {
		p.vehicle = physics.StepVehicle(p.vehicle, in)
		p.pose.X, p.pose.Y, p.pose.Z = p.vehicle.X, p.vehicle.Y, p.vehicle.Z
		p.pose.Yaw = p.vehicle.Yaw
	} else {
		p.pose = physics.StepPlayer(p.pose, in)
	}
	p.pending.Push(in)
	return in
}

// Reconcile corrects predicted state against an authoritative snapshot and
// replays whatever the server has not yet incorporated. Remote entities
// are never touched here.
func (p *Predictor) Reconcile(snapshot sim.Snapshot) {
	view, ok := findPlayer(snapshot.Players, p.selfID)
	if !ok {
		return
	}

	// Occupancy is arbitrated by the server; adopt its verdict.
	p.driving = view.Driving
	p.vehicleID = view.VehicleID

	if view.Driving {
		// Driven vehicles are always server-authoritative: no local
		// correction layer, just adopt and trim.
		if vehicle, ok := findVehicle(snapshot.Vehicles, view.VehicleID); ok {
			p.vehicle = physics.VehiclePose{X: vehicle.X, Y: vehicle.Y, Z: vehicle.Z, Yaw: vehicle.Yaw, Speed: vehicle.Speed}
			p.pose.X, p.pose.Y, p.pose.Z = vehicle.X, vehicle.Y, vehicle.Z
			p.pose.Yaw = vehicle.Yaw
			p.pending.TrimAcked(vehicle.LastProcessedInput)
		}
		return
	}

	p.pending.TrimAcked(view.LastProcessedInput)

	dx := p.pose.X - view.X
	dy := p.pose.Y - view.Y
	dz := p.pose.Z - view.Z
	if math.Sqrt(dx*dx+dy*dy+dz*dz) <= ReconcileThreshold {
		return
	}

	// Snap to the authoritative baseline, then rebuild the prediction by
	// replaying every remaining pending input in order.
	p.adoptPlayer(view)
	for _, in := range p.pending.Pending() {
		p.pose = physics.StepPlayer(p.pose, in)
	}
}

// Pose returns the corrected on-foot pose for rendering.
func (p *Predictor) Pose() physics.PlayerPose {
	return p.pose
}

// VehiclePose returns the locally held pose of the driven vehicle.
func (p *Predictor) VehiclePose() physics.VehiclePose {
	return p.vehicle
}

// Driving reports whether the local identity currently drives a vehicle.
func (p *Predictor) Driving() (string, bool) {
	return p.vehicleID, p.driving
}

// PendingLen reports the number of unacknowledged inputs.
func (p *Predictor) PendingLen() int {
	return p.pending.Len()
}

func (p *Predictor) adoptPlayer(view sim.Player) {
	p.pose = physics.PlayerPose{
		X: view.X, Y: view.Y, Z: view.Z,
		Yaw: view.Yaw,
		VX:  view.VX, VY: view.VY, VZ: view.VZ,
	}
	p.driving = view.Driving
	p.vehicleID = view.VehicleID
}

func findPlayer(players []sim.Player, id string) (sim.Player, bool) {
	for _, player := range players {
		if player.ID == id {
			return player, true
		}
	}
	return sim.Player{}, false
}

func findVehicle(vehicles []sim.Vehicle, id string) (sim.Vehicle, bool) {
	for _, vehicle := range vehicles {
		if vehicle.ID == id {
			return vehicle, true
		}
	}
	return sim.Vehicle{}, false
}

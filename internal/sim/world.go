package sim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"joyride/server/internal/physics"
	"joyride/server/logging"
	logsim "joyride/server/logging/simulation"
	logtraffic "joyride/server/logging/traffic"
)

const (
	teleportRejectedMetricKey = "sim_teleport_rejected_total"
	sequenceJumpMetricKey     = "sim_sequence_jump_total"
	inputsDroppedMetricKey    = "sim_inputs_dropped_total"

	playerMaxHealth = 100.0
	// vehicleExitOffset is the lateral distance a player is placed beside a
	// vehicle when exiting.
	vehicleExitOffset = 2.5
)

// VehicleSpawn fixes the initial placement of one fleet vehicle.
type VehicleSpawn struct {
	ID  string  `yaml:"id" json:"id"`
	X   float64 `yaml:"x" json:"x"`
	Z   float64 `yaml:"z" json:"z"`
	Yaw float64 `yaml:"yaw" json:"yaw"`
}

// Config captures the tunables of a single world.
type Config struct {
	InputQueueCapacity    int
	RejectSequenceJumps   bool
	SequenceJumpTolerance uint64
	SpawnX                float64
	SpawnZ                float64
	VehicleSpawns         []VehicleSpawn
}

// Normalized returns a config with defaults applied.
func (cfg Config) Normalized() Config {
	normalized := cfg
	if normalized.InputQueueCapacity <= 0 {
		normalized.InputQueueCapacity = 64
	}
	if normalized.SequenceJumpTolerance == 0 {
		normalized.SequenceJumpTolerance = 32
	}
	if len(normalized.VehicleSpawns) == 0 {
		normalized.VehicleSpawns = DefaultVehicleSpawns(8)
	}
	return normalized
}

// DefaultConfig enables the default fleet and the lenient sequence policy.
func DefaultConfig() Config {
	return Config{}.Normalized()
}

// DefaultVehicleSpawns lays the fleet out along a street grid.
func DefaultVehicleSpawns(count int) []VehicleSpawn {
	spawns := make([]VehicleSpawn, 0, count)
	for i := 0; i < count; i++ {
		spawns = append(spawns, VehicleSpawn{
			ID:  fmt.Sprintf("car-%d", i+1),
			X:   20 + float64(i%4)*15,
			Z:   10 + float64(i/4)*25,
			Yaw: math.Pi / 2 * float64(i%4),
		})
	}
	return spawns
}

// World owns the authoritative state of one room: every player, the vehicle
// fleet, and the staged tick-boundary commands. The tick loop is the only
// writer of entity state; input queues are the only structure shared with
// the concurrent network-receive path.
type World struct {
	mu          sync.Mutex
	players     map[string]*playerState
	vehicles    map[string]*vehicleState
	staged      []Command
	config      Config
	publisher   logging.Publisher
	metrics     Metrics
	currentTick uint64
}

// NewWorld constructs a world with an empty player set and the configured
// vehicle fleet. Vehicles are never destroyed during a session.
func NewWorld(cfg Config, publisher logging.Publisher, metrics Metrics) *World {
	normalized := cfg.Normalized()
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	w := &World{
		players:   make(map[string]*playerState),
		vehicles:  make(map[string]*vehicleState, len(normalized.VehicleSpawns)),
		config:    normalized,
		publisher: publisher,
		metrics:   metrics,
	}
	for _, spawn := range normalized.VehicleSpawns {
		w.vehicles[spawn.ID] = &vehicleState{Vehicle: Vehicle{
			ID:  spawn.ID,
			X:   spawn.X,
			Z:   spawn.Z,
			Yaw: spawn.Yaw,
		}}
	}
	return w
}

// Config returns the normalized world configuration.
func (w *World) Config() Config {
	return w.config
}

// AddPlayer registers a new identity at the spawn point and returns its view.
func (w *World) AddPlayer(id string, now time.Time) Player {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := &playerState{
		Player: Player{
			ID:     id,
			X:      w.config.SpawnX,
			Z:      w.config.SpawnZ,
			Health: playerMaxHealth,
		},
		queue:       NewInputQueue(w.config.InputQueueCapacity, w.metrics),
		lastPing:    now,
		connectedAt: now,
	}
	w.players[id] = state
	return state.Player
}

// RemovePlayer drops an identity, force-releasing any vehicle it drives.
// Other clients observe the removal as absence from the next snapshot.
func (w *World) RemovePlayer(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.players[id]
	if !ok {
		return false
	}
	if state.Driving {
		w.forceReleaseLocked(state)
	}
	delete(w.players, id)
	return true
}

// EnqueueInput appends an input to the player's queue. It runs on the
// network-receive path and never blocks the tick.
func (w *World) EnqueueInput(playerID string, in physics.Input) (bool, string) {
	w.mu.Lock()
	state, ok := w.players[playerID]
	w.mu.Unlock()
	if !ok {
		return false, CommandRejectUnknownActor
	}
	state.queue.Push(in)
	return true, ""
}

// QueueCommand stages a tick-boundary command (occupancy or mission).
func (w *World) QueueCommand(cmd Command) (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.players[cmd.ActorID]; !ok {
		return false, CommandRejectUnknownActor
	}
	cmd.OriginTick = w.currentTick
	w.staged = append(w.staged, cmd)
	return true, ""
}

// UpdatePing records ping receipt time and round-trip estimate.
func (w *World) UpdatePing(playerID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.players[playerID]
	if !ok {
		return 0, false
	}
	state.lastPing = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			state.lastRTT = rtt
		}
	}
	return state.lastRTT, true
}

// Step advances the world by one authoritative tick: staged occupancy
// transitions first, then on-foot players (all queued inputs, FIFO), then
// driven vehicles (exactly one input per tick).
func (w *World) Step(tick uint64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTick = tick

	w.applyStagedLocked(tick, now)

	for _, state := range w.players {
		if state.Driving {
			continue
		}
		for _, in := range state.queue.Drain() {
			w.stepOnFootLocked(state, in, tick)
		}
	}

	for _, vehicle := range w.vehicles {
		if vehicle.DriverID == "" {
			continue
		}
		driver, ok := w.players[vehicle.DriverID]
		if !ok {
			// Driver vanished without a disconnect command; release.
			vehicle.DriverID = ""
			continue
		}
		in, ok := driver.queue.Pop()
		if !ok {
			continue
		}
		w.stepVehicleLocked(vehicle, driver, in, tick)
	}
}

// stepOnFootLocked consumes one on-foot input: sequence-gap policy, shared
// physics step, then the anti-teleport sanity check.
func (w *World) stepOnFootLocked(state *playerState, in physics.Input, tick uint64) {
	if !w.admitInputLocked(state, in, tick) {
		return
	}
	prev := state.pose()
	next := physics.StepPlayer(prev, in)
	if implied, exceeded := impliedSpeedExceeded(prev, next, in.DeltaTime, physics.WalkSpeed); exceeded {
		if w.metrics != nil {
			w.metrics.Add(teleportRejectedMetricKey, 1)
		}
		logsim.TeleportRejected(context.Background(), w.publisher, tick,
			logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer},
			logsim.TeleportRejectedPayload{Sequence: in.Seq, ImpliedSpeed: implied, SpeedCap: physics.WalkSpeed})
	} else {
		state.setPose(next)
	}
	state.LastProcessedInput = in.Seq
}

// stepVehicleLocked consumes one driving input and keeps the driver's
// position pinned to the vehicle.
func (w *World) stepVehicleLocked(vehicle *vehicleState, driver *playerState, in physics.Input, tick uint64) {
	if !w.admitInputLocked(driver, in, tick) {
		return
	}
	vehicle.setPose(physics.StepVehicle(vehicle.pose(), in))
	vehicle.LastProcessedInput = in.Seq
	driver.LastProcessedInput = in.Seq
	driver.X, driver.Y, driver.Z = vehicle.X, vehicle.Y, vehicle.Z
	driver.Yaw = vehicle.Yaw
}

// admitInputLocked applies the stale-input and sequence-gap policies. A
// large jump is always flagged; whether it is also dropped is a
// configuration choice so the policy stays deterministic either way.
func (w *World) admitInputLocked(state *playerState, in physics.Input, tick uint64) bool {
	if in.Seq <= state.LastProcessedInput {
		if w.metrics != nil {
			w.metrics.Add(inputsDroppedMetricKey, 1)
		}
		return false
	}
	prevSeen := state.lastSeqSeen
	jumped := prevSeen > 0 && in.Seq > prevSeen+w.config.SequenceJumpTolerance
	if in.Seq > state.lastSeqSeen {
		state.lastSeqSeen = in.Seq
	}
	if jumped {
		if w.metrics != nil {
			w.metrics.Add(sequenceJumpMetricKey, 1)
		}
		logsim.SequenceJump(context.Background(), w.publisher, tick,
			logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer},
			logsim.SequenceJumpPayload{LastSeen: prevSeen, Received: in.Seq, Rejected: w.config.RejectSequenceJumps})
		if w.config.RejectSequenceJumps {
			if w.metrics != nil {
				w.metrics.Add(inputsDroppedMetricKey, 1)
			}
			return false
		}
	}
	return true
}

// impliedSpeedExceeded reports whether a position delta implies more than
// twice the configured speed cap. A single bad step is reverted, never the
// whole session.
func impliedSpeedExceeded(prev, next physics.PlayerPose, dt, speedCap float64) (float64, bool) {
	if dt <= 0 {
		return 0, false
	}
	dx := next.X - prev.X
	dy := next.Y - prev.Y
	dz := next.Z - prev.Z
	implied := math.Sqrt(dx*dx+dy*dy+dz*dz) / dt
	return implied, implied > 2*speedCap
}

// applyStagedLocked drains the staged command list at the tick boundary.
func (w *World) applyStagedLocked(tick uint64, now time.Time) {
	staged := w.staged
	w.staged = nil
	for _, cmd := range staged {
		state, ok := w.players[cmd.ActorID]
		if !ok {
			continue
		}
		switch cmd.Type {
		case CommandEnterVehicle:
			w.enterVehicleLocked(state, cmd.VehicleID, tick)
		case CommandExitVehicle:
			w.exitVehicleLocked(state, tick)
		case CommandForceRelease:
			w.forceReleaseLocked(state)
		case CommandCompleteMission:
			state.MissionsCompleted++
			logtraffic.MissionCompleted(context.Background(), w.publisher, tick,
				logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer}, cmd.Mission)
		}
	}
}

// enterVehicleLocked grants occupancy iff the vehicle is unoccupied. A
// request against an occupied vehicle is a silent no-op.
func (w *World) enterVehicleLocked(state *playerState, vehicleID string, tick uint64) {
	if state.Driving {
		return
	}
	vehicle, ok := w.vehicles[vehicleID]
	if !ok || vehicle.DriverID != "" {
		return
	}
	vehicle.DriverID = state.ID
	state.Driving = true
	state.VehicleID = vehicleID
	state.X, state.Y, state.Z = vehicle.X, vehicle.Y, vehicle.Z
	state.Yaw = vehicle.Yaw
	state.VX, state.VY, state.VZ = 0, 0, 0
	logtraffic.VehicleEntered(context.Background(), w.publisher, tick,
		logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer}, vehicleID)
}

// exitVehicleLocked releases occupancy if the requester is the driver and
// relocates the player beside the vehicle.
func (w *World) exitVehicleLocked(state *playerState, tick uint64) {
	if !state.Driving {
		return
	}
	vehicle, ok := w.vehicles[state.VehicleID]
	if !ok || vehicle.DriverID != state.ID {
		state.Driving = false
		state.VehicleID = ""
		return
	}
	vehicleID := vehicle.ID
	vehicle.DriverID = ""
	state.Driving = false
	state.VehicleID = ""
	sin, cos := math.Sincos(vehicle.Yaw)
	state.X = vehicle.X + cos*vehicleExitOffset
	state.Z = vehicle.Z - sin*vehicleExitOffset
	state.Yaw = vehicle.Yaw
	logtraffic.VehicleExited(context.Background(), w.publisher, tick,
		logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer}, vehicleID)
}

// forceReleaseLocked clears occupancy after a driver disconnect.
func (w *World) forceReleaseLocked(state *playerState) {
	vehicle, ok := w.vehicles[state.VehicleID]
	if ok && vehicle.DriverID == state.ID {
		vehicle.DriverID = ""
		logtraffic.VehicleReleased(context.Background(), w.publisher, w.currentTick,
			logging.EntityRef{ID: state.ID, Kind: logging.EntityKindPlayer}, vehicle.ID)
	}
	state.Driving = false
	state.VehicleID = ""
}

// Snapshot copies every entity view under the world lock. The result is
// immutable and sorted for stable broadcast payloads.
func (w *World) Snapshot(tick uint64, now time.Time) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	players := make([]Player, 0, len(w.players))
	for _, state := range w.players {
		players = append(players, state.Player)
	}
	vehicles := make([]Vehicle, 0, len(w.vehicles))
	for _, vehicle := range w.vehicles {
		vehicles = append(vehicles, vehicle.Vehicle)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	return Snapshot{
		Tick:       tick,
		ServerTime: now.UnixMilli(),
		Players:    players,
		Vehicles:   vehicles,
	}
}

// PlayerView returns the current view of one player.
func (w *World) PlayerView(id string) (Player, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.players[id]
	if !ok {
		return Player{}, false
	}
	return state.Player, true
}

// ConnectionInfo reports ping data for the diagnostics endpoint.
type ConnectionInfo struct {
	ID                 string `json:"id"`
	LastPing           int64  `json:"lastPing"`
	RTTMillis          int64  `json:"rttMillis"`
	LastProcessedInput uint64 `json:"lastProcessedInput"`
}

// Connections reports ping diagnostics for every player.
func (w *World) Connections() []ConnectionInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	infos := make([]ConnectionInfo, 0, len(w.players))
	for _, state := range w.players {
		infos = append(infos, ConnectionInfo{
			ID:                 state.ID,
			LastPing:           state.lastPing.UnixMilli(),
			RTTMillis:          state.lastRTT.Milliseconds(),
			LastProcessedInput: state.LastProcessedInput,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

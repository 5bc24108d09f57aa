package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"joyride/server/internal/physics"
	"joyride/server/logging"
	logsim "joyride/server/logging/simulation"
	logtraffic "joyride/server/logging/traffic"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func (p *capturePublisher) Publish(_ context.Context, event logging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType logging.EventType) []logging.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []logging.Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func testConfig() Config {
	return Config{
		VehicleSpawns: []VehicleSpawn{
			{ID: "car-1", X: 10, Z: 0, Yaw: 0},
			{ID: "car-2", X: -10, Z: 5, Yaw: math.Pi / 2},
		},
	}
}

func newTestWorld(t *testing.T, cfg Config) (*World, *capturePublisher, *recordingMetrics) {
	t.Helper()
	publisher := &capturePublisher{}
	metrics := &recordingMetrics{values: make(map[string]uint64)}
	return NewWorld(cfg, publisher, metrics), publisher, metrics
}

func forwardInput(seq uint64) physics.Input {
	return physics.Input{Seq: seq, Forward: true, DeltaTime: 0.033}
}

func TestStepDrainsAllOnFootInputs(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)

	for seq := uint64(1); seq <= 3; seq++ {
		if ok, reason := world.EnqueueInput("p1", forwardInput(seq)); !ok {
			t.Fatalf("enqueue %d rejected: %s", seq, reason)
		}
	}
	world.Step(1, now)

	want := physics.PlayerPose{}
	for seq := uint64(1); seq <= 3; seq++ {
		want = physics.StepPlayer(want, forwardInput(seq))
	}
	view, ok := world.PlayerView("p1")
	if !ok {
		t.Fatalf("player disappeared")
	}
	if view.Z != want.Z || view.X != want.X {
		t.Fatalf("expected pose (%.4f, %.4f), got (%.4f, %.4f)", want.X, want.Z, view.X, view.Z)
	}
	if view.LastProcessedInput != 3 {
		t.Fatalf("expected ack 3, got %d", view.LastProcessedInput)
	}
}

func TestDrivenVehicleConsumesOneInputPerTick(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(1, now)

	for seq := uint64(1); seq <= 3; seq++ {
		world.EnqueueInput("p1", forwardInput(seq))
	}

	world.Step(2, now)
	snapshot := world.Snapshot(2, now)
	if snapshot.Vehicles[0].LastProcessedInput != 1 {
		t.Fatalf("expected one input consumed, ack %d", snapshot.Vehicles[0].LastProcessedInput)
	}

	world.Step(3, now)
	world.Step(4, now)
	snapshot = world.Snapshot(4, now)
	vehicle := snapshot.Vehicles[0]
	if vehicle.LastProcessedInput != 3 {
		t.Fatalf("expected ack 3 after three ticks, got %d", vehicle.LastProcessedInput)
	}
	if vehicle.Speed <= 0 {
		t.Fatalf("vehicle should have accelerated, speed %.4f", vehicle.Speed)
	}
	player := snapshot.Players[0]
	if player.X != vehicle.X || player.Z != vehicle.Z || player.Yaw != vehicle.Yaw {
		t.Fatalf("driver pose not pinned to vehicle: player (%.4f, %.4f) vehicle (%.4f, %.4f)",
			player.X, player.Z, vehicle.X, vehicle.Z)
	}
	if player.LastProcessedInput != 3 {
		t.Fatalf("driver ack not mirrored, got %d", player.LastProcessedInput)
	}
}

func TestEnterVehicleExclusive(t *testing.T) {
	world, publisher, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.AddPlayer("p2", now)

	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(1, now)
	world.QueueCommand(Command{ActorID: "p2", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(2, now)

	snapshot := world.Snapshot(2, now)
	if snapshot.Vehicles[0].DriverID != "p1" {
		t.Fatalf("expected p1 to keep the vehicle, driver is %q", snapshot.Vehicles[0].DriverID)
	}
	p2, _ := world.PlayerView("p2")
	if p2.Driving {
		t.Fatalf("second requester must remain on foot")
	}
	if entered := publisher.byType(logtraffic.EventVehicleEntered); len(entered) != 1 {
		t.Fatalf("expected exactly one entered event, got %d", len(entered))
	}
}

func TestEnterUnknownVehicleIsNoOp(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-99"})
	world.Step(1, now)
	view, _ := world.PlayerView("p1")
	if view.Driving {
		t.Fatalf("entering a nonexistent vehicle must not grant occupancy")
	}
}

func TestExitVehicleRelocatesDriver(t *testing.T) {
	world, publisher, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(1, now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandExitVehicle})
	world.Step(2, now)

	snapshot := world.Snapshot(2, now)
	if snapshot.Vehicles[0].DriverID != "" {
		t.Fatalf("vehicle still occupied by %q", snapshot.Vehicles[0].DriverID)
	}
	view, _ := world.PlayerView("p1")
	if view.Driving {
		t.Fatalf("driver flag not cleared")
	}
	if math.Abs(view.X-12.5) > 1e-9 || math.Abs(view.Z) > 1e-9 {
		t.Fatalf("expected relocation beside the vehicle at (12.5, 0), got (%.4f, %.4f)", view.X, view.Z)
	}
	if exited := publisher.byType(logtraffic.EventVehicleExited); len(exited) != 1 {
		t.Fatalf("expected one exited event, got %d", len(exited))
	}
}

func TestExitWhileOnFootIsNoOp(t *testing.T) {
	world, publisher, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandExitVehicle})
	world.Step(1, now)
	if exited := publisher.byType(logtraffic.EventVehicleExited); len(exited) != 0 {
		t.Fatalf("exit without a vehicle emitted %d events", len(exited))
	}
}

func TestRemovePlayerForceReleasesVehicle(t *testing.T) {
	world, publisher, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(1, now)

	if !world.RemovePlayer("p1") {
		t.Fatalf("remove reported failure")
	}
	snapshot := world.Snapshot(2, now)
	if len(snapshot.Players) != 0 {
		t.Fatalf("removed player still present in snapshot")
	}
	if snapshot.Vehicles[0].DriverID != "" {
		t.Fatalf("vehicle not released after driver disconnect")
	}
	if released := publisher.byType(logtraffic.EventVehicleReleased); len(released) != 1 {
		t.Fatalf("expected one release event, got %d", len(released))
	}

	world.AddPlayer("p2", now)
	world.QueueCommand(Command{ActorID: "p2", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.Step(3, now)
	snapshot = world.Snapshot(3, now)
	if snapshot.Vehicles[0].DriverID != "p2" {
		t.Fatalf("released vehicle not available to the next player")
	}
}

func TestCommandsApplyAtTickBoundary(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)

	world.QueueCommand(Command{ActorID: "p1", Type: CommandEnterVehicle, VehicleID: "car-1"})
	world.EnqueueInput("p1", forwardInput(1))
	world.EnqueueInput("p1", forwardInput(2))
	world.Step(1, now)

	snapshot := world.Snapshot(1, now)
	if snapshot.Vehicles[0].DriverID != "p1" {
		t.Fatalf("staged enter not applied before movement")
	}
	if snapshot.Vehicles[0].LastProcessedInput != 1 {
		t.Fatalf("driving branch must consume exactly one input, ack %d", snapshot.Vehicles[0].LastProcessedInput)
	}
}

func TestStaleInputsDropped(t *testing.T) {
	world, _, metrics := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)

	world.EnqueueInput("p1", forwardInput(5))
	world.Step(1, now)
	before, _ := world.PlayerView("p1")

	world.EnqueueInput("p1", forwardInput(4))
	world.EnqueueInput("p1", forwardInput(5))
	world.Step(2, now)

	after, _ := world.PlayerView("p1")
	if after.X != before.X || after.Z != before.Z {
		t.Fatalf("stale inputs moved the player")
	}
	if after.LastProcessedInput != 5 {
		t.Fatalf("ack regressed to %d", after.LastProcessedInput)
	}
	if got := metrics.values[inputsDroppedMetricKey]; got != 2 {
		t.Fatalf("expected 2 dropped inputs, got %d", got)
	}
}

func TestSequenceJumpWarnAndAccept(t *testing.T) {
	world, publisher, metrics := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)

	world.EnqueueInput("p1", forwardInput(1))
	world.EnqueueInput("p1", forwardInput(100))
	world.Step(1, now)

	view, _ := world.PlayerView("p1")
	if view.LastProcessedInput != 100 {
		t.Fatalf("lenient policy must apply the jumped input, ack %d", view.LastProcessedInput)
	}
	jumps := publisher.byType(logsim.EventSequenceJump)
	if len(jumps) != 1 {
		t.Fatalf("expected one sequence jump event, got %d", len(jumps))
	}
	payload, ok := jumps[0].Payload.(logsim.SequenceJumpPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", jumps[0].Payload)
	}
	if payload.LastSeen != 1 || payload.Received != 100 || payload.Rejected {
		t.Fatalf("unexpected jump payload %+v", payload)
	}
	if got := metrics.values[sequenceJumpMetricKey]; got != 1 {
		t.Fatalf("expected jump counter 1, got %d", got)
	}
}

func TestSequenceJumpRejectedWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.RejectSequenceJumps = true
	world, publisher, _ := newTestWorld(t, cfg)
	now := time.Now()
	world.AddPlayer("p1", now)

	world.EnqueueInput("p1", forwardInput(1))
	world.EnqueueInput("p1", forwardInput(100))
	world.Step(1, now)

	view, _ := world.PlayerView("p1")
	if view.LastProcessedInput != 1 {
		t.Fatalf("strict policy must drop the jumped input, ack %d", view.LastProcessedInput)
	}
	jumps := publisher.byType(logsim.EventSequenceJump)
	if len(jumps) != 1 {
		t.Fatalf("expected one sequence jump event, got %d", len(jumps))
	}
	if payload := jumps[0].Payload.(logsim.SequenceJumpPayload); !payload.Rejected {
		t.Fatalf("jump event should record the drop")
	}
}

func TestImpliedSpeedExceeded(t *testing.T) {
	prev := physics.PlayerPose{}
	next := physics.PlayerPose{X: 10}
	implied, exceeded := impliedSpeedExceeded(prev, next, 0.033, physics.WalkSpeed)
	if !exceeded {
		t.Fatalf("10 units in 33ms should exceed the cap, implied %.2f", implied)
	}
	if _, exceeded := impliedSpeedExceeded(prev, next, 0, physics.WalkSpeed); exceeded {
		t.Fatalf("zero delta must never trip the check")
	}
	legit := physics.StepPlayer(prev, forwardInput(1))
	if _, exceeded := impliedSpeedExceeded(prev, legit, 0.033, physics.WalkSpeed); exceeded {
		t.Fatalf("a normal walking step tripped the teleport check")
	}
}

func TestMissionCompleted(t *testing.T) {
	world, publisher, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)
	world.QueueCommand(Command{ActorID: "p1", Type: CommandCompleteMission, Mission: "airport run"})
	world.Step(1, now)

	view, _ := world.PlayerView("p1")
	if view.MissionsCompleted != 1 {
		t.Fatalf("expected 1 completed mission, got %d", view.MissionsCompleted)
	}
	events := publisher.byType(logtraffic.EventMissionCompleted)
	if len(events) != 1 {
		t.Fatalf("expected one mission event, got %d", len(events))
	}
	payload := events[0].Payload.(logtraffic.MissionCompletedPayload)
	if payload.Title != "airport run" {
		t.Fatalf("unexpected mission title %q", payload.Title)
	}
}

func TestSnapshotSortedByID(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("zed", now)
	world.AddPlayer("abe", now)

	snapshot := world.Snapshot(1, now)
	if snapshot.Players[0].ID != "abe" || snapshot.Players[1].ID != "zed" {
		t.Fatalf("players not sorted: %s, %s", snapshot.Players[0].ID, snapshot.Players[1].ID)
	}
	if snapshot.Vehicles[0].ID != "car-1" || snapshot.Vehicles[1].ID != "car-2" {
		t.Fatalf("vehicles not sorted: %s, %s", snapshot.Vehicles[0].ID, snapshot.Vehicles[1].ID)
	}
	if snapshot.ServerTime != now.UnixMilli() {
		t.Fatalf("server time mismatch: %d vs %d", snapshot.ServerTime, now.UnixMilli())
	}
}

func TestUpdatePingComputesRTT(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	now := time.Now()
	world.AddPlayer("p1", now)

	sent := now.Add(-40 * time.Millisecond).UnixMilli()
	rtt, ok := world.UpdatePing("p1", now, sent)
	if !ok {
		t.Fatalf("ping for a known player rejected")
	}
	if rtt < 30*time.Millisecond || rtt > 50*time.Millisecond {
		t.Fatalf("expected roughly 40ms round trip, got %v", rtt)
	}
	if _, ok := world.UpdatePing("ghost", now, sent); ok {
		t.Fatalf("ping for an unknown player accepted")
	}
}

func TestEnqueueInputUnknownPlayer(t *testing.T) {
	world, _, _ := newTestWorld(t, testConfig())
	if ok, reason := world.EnqueueInput("ghost", forwardInput(1)); ok || reason != CommandRejectUnknownActor {
		t.Fatalf("expected unknown actor rejection, got ok=%v reason=%q", ok, reason)
	}
	if ok, reason := world.QueueCommand(Command{ActorID: "ghost", Type: CommandEnterVehicle}); ok || reason != CommandRejectUnknownActor {
		t.Fatalf("expected unknown actor rejection for commands, got ok=%v reason=%q", ok, reason)
	}
}

func TestWorldDeterminism(t *testing.T) {
	run := func() Snapshot {
		world, _, _ := newTestWorld(t, testConfig())
		base := time.UnixMilli(1_700_000_000_000)
		world.AddPlayer("p1", base)
		world.AddPlayer("p2", base)
		world.QueueCommand(Command{ActorID: "p2", Type: CommandEnterVehicle, VehicleID: "car-2"})
		seq := uint64(0)
		for tick := uint64(1); tick <= 20; tick++ {
			seq++
			world.EnqueueInput("p1", physics.Input{Seq: seq, Forward: true, Left: tick%3 == 0, DeltaTime: 0.033})
			world.EnqueueInput("p2", physics.Input{Seq: seq, Forward: true, Right: tick%5 == 0, DeltaTime: 0.033})
			world.Step(tick, base.Add(time.Duration(tick)*33*time.Millisecond))
		}
		return world.Snapshot(20, base)
	}

	first := run()
	second := run()
	for i := range first.Players {
		if first.Players[i] != second.Players[i] {
			t.Fatalf("player state diverged between identical runs:\n%+v\n%+v", first.Players[i], second.Players[i])
		}
	}
	for i := range first.Vehicles {
		if first.Vehicles[i] != second.Vehicles[i] {
			t.Fatalf("vehicle state diverged between identical runs:\n%+v\n%+v", first.Vehicles[i], second.Vehicles[i])
		}
	}
}

package traffic

import (
	"context"

	"joyride/server/logging"
)

const (
	// EventVehicleEntered is emitted when a player takes a vehicle.
	EventVehicleEntered logging.EventType = "traffic.vehicle_entered"
	// EventVehicleExited is emitted when the driver leaves a vehicle.
	EventVehicleExited logging.EventType = "traffic.vehicle_exited"
	// EventVehicleReleased is emitted when a vehicle is force-released
	// because its driver disconnected.
	EventVehicleReleased logging.EventType = "traffic.vehicle_released"
	// EventMissionCompleted is emitted when a player completes a mission.
	EventMissionCompleted logging.EventType = "traffic.mission_completed"
)

// MissionCompletedPayload names the completed mission.
type MissionCompletedPayload struct {
	Title string `json:"title"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, actor logging.EntityRef, vehicleID string, payload any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTraffic,
		Payload:  payload,
	}
	if vehicleID != "" {
		event.Targets = []logging.EntityRef{{ID: vehicleID, Kind: logging.EntityKindVehicle}}
	}
	pub.Publish(ctx, event)
}

// VehicleEntered publishes a successful occupancy grant.
func VehicleEntered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, vehicleID string) {
	publish(ctx, pub, EventVehicleEntered, tick, actor, vehicleID, nil)
}

// VehicleExited publishes a voluntary exit by the driver.
func VehicleExited(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, vehicleID string) {
	publish(ctx, pub, EventVehicleExited, tick, actor, vehicleID, nil)
}

// VehicleReleased publishes a forced release after a driver disconnect.
func VehicleReleased(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, vehicleID string) {
	publish(ctx, pub, EventVehicleReleased, tick, actor, vehicleID, nil)
}

// MissionCompleted publishes a completed mission title.
func MissionCompleted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, title string) {
	publish(ctx, pub, EventMissionCompleted, tick, actor, "", MissionCompletedPayload{Title: title})
}

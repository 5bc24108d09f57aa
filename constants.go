package server

import "time"

const (
	writeWait = 10 * time.Second

	// defaultTickRate is the authoritative simulation frequency in Hz.
	defaultTickRate = 30

	// defaultVehicleCount sizes the fleet created at world initialization.
	defaultVehicleCount = 8

	defaultSpawnX = 0.0
	defaultSpawnZ = 0.0
)

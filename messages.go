package server

import "joyride/server/internal/sim"

// DiagnosticsPayload is served by the /diagnostics endpoint.
type DiagnosticsPayload struct {
	Status      string               `json:"status"`
	ServerTime  int64                `json:"serverTime"`
	Tick        uint64               `json:"tick"`
	TickRate    int                  `json:"tickRate"`
	Connections []sim.ConnectionInfo `json:"connections"`
	Counters    map[string]uint64    `json:"counters,omitempty"`
}

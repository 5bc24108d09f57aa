package netcode

import (
	"time"

	"joyride/server/internal/physics"
	"joyride/server/internal/sim"
)

const (
	// RenderDelay is how far in the past remote entities are rendered,
	// trading visible currency for smoothness between snapshots.
	RenderDelay = 100 * time.Millisecond
	// historySpan bounds how much sample history is retained per entity.
	historySpan = 400 * time.Millisecond
)

// Sample is one timestamped pose observation taken from a snapshot.
type Sample struct {
	At  time.Time
	X   float64
	Y   float64
	Z   float64
	Yaw float64
}

// History is the bounded interpolation buffer of one remote entity.
// Samples are ordered by timestamp and bounded by time span, not count.
type History struct {
	samples []Sample
}

// Append records a sample and evicts everything older than the span.
// Re-applying a snapshot is idempotent: a duplicate timestamp is not
// appended twice.
func (h *History) Append(s Sample) {
	if h == nil {
		return
	}
	if n := len(h.samples); n > 0 && !s.At.After(h.samples[n-1].At) {
		return
	}
	h.samples = append(h.samples, s)
	cutoff := s.At.Add(-historySpan)
	trim := 0
	for trim < len(h.samples)-1 && h.samples[trim].At.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		h.samples = append(h.samples[:0], h.samples[trim:]...)
	}
}

// At returns the pose at renderTime. When a bracketing pair of samples
// straddles renderTime the result is linearly interpolated between them,
// and therefore always lies on the segment joining two real samples. With
// no bracket the most recent sample is returned unmodified: the buffer
// never extrapolates.
func (h *History) At(renderTime time.Time) (Sample, bool) {
	if h == nil || len(h.samples) == 0 {
		return Sample{}, false
	}
	for i := 1; i < len(h.samples); i++ {
		next := h.samples[i]
		if next.At.Before(renderTime) {
			continue
		}
		prev := h.samples[i-1]
		if prev.At.After(renderTime) {
			break
		}
		span := next.At.Sub(prev.At).Seconds()
		if span <= 0 {
			return next, true
		}
		t := renderTime.Sub(prev.At).Seconds() / span
		return Sample{
			At:  renderTime,
			X:   prev.X + (next.X-prev.X)*t,
			Y:   prev.Y + (next.Y-prev.Y)*t,
			Z:   prev.Z + (next.Z-prev.Z)*t,
			Yaw: physics.LerpAngle(prev.Yaw, next.Yaw, t),
		}, true
	}
	return h.samples[len(h.samples)-1], false
}

// Len reports the number of buffered samples.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.samples)
}

// Interpolator smooths every remote entity between discrete snapshots.
// The local identity (and its driven vehicle) is excluded: that state is
// owned by the Predictor.
type Interpolator struct {
	selfID   string
	players  map[string]*History
	vehicles map[string]*History
}

// NewInterpolator tracks remote entities for the given local identity.
func NewInterpolator(selfID string) *Interpolator {
	return &Interpolator{
		selfID:   selfID,
		players:  make(map[string]*History),
		vehicles: make(map[string]*History),
	}
}

// Observe folds one snapshot into the per-entity histories. Entities
// absent from the snapshot are dropped: that is how removal is signaled.
func (ip *Interpolator) Observe(snapshot sim.Snapshot) {
	at := time.UnixMilli(snapshot.ServerTime)

	seenPlayers := make(map[string]struct{}, len(snapshot.Players))
	var selfVehicle string
	for _, player := range snapshot.Players {
		if player.ID == ip.selfID {
			if player.Driving {
				selfVehicle = player.VehicleID
			}
			continue
		}
		seenPlayers[player.ID] = struct{}{}
		history := ip.players[player.ID]
		if history == nil {
			history = &History{}
			ip.players[player.ID] = history
		}
		history.Append(Sample{At: at, X: player.X, Y: player.Y, Z: player.Z, Yaw: player.Yaw})
	}
	for id := range ip.players {
		if _, ok := seenPlayers[id]; !ok {
			delete(ip.players, id)
		}
	}

	for _, vehicle := range snapshot.Vehicles {
		if vehicle.ID == selfVehicle {
			continue
		}
		history := ip.vehicles[vehicle.ID]
		if history == nil {
			history = &History{}
			ip.vehicles[vehicle.ID] = history
		}
		history.Append(Sample{At: at, X: vehicle.X, Y: vehicle.Y, Z: vehicle.Z, Yaw: vehicle.Yaw})
	}
}

// Player returns the interpolated pose of a remote player at now-delay.
func (ip *Interpolator) Player(id string, now time.Time) (Sample, bool) {
	history, ok := ip.players[id]
	if !ok {
		return Sample{}, false
	}
	sample, _ := history.At(now.Add(-RenderDelay))
	return sample, history.Len() > 0
}

// Vehicle returns the interpolated pose of a vehicle at now-delay.
func (ip *Interpolator) Vehicle(id string, now time.Time) (Sample, bool) {
	history, ok := ip.vehicles[id]
	if !ok {
		return Sample{}, false
	}
	sample, _ := history.At(now.Add(-RenderDelay))
	return sample, history.Len() > 0
}

// RemotePlayers lists the ids currently tracked for interpolation.
func (ip *Interpolator) RemotePlayers() []string {
	ids := make([]string, 0, len(ip.players))
	for id := range ip.players {
		ids = append(ids, id)
	}
	return ids
}

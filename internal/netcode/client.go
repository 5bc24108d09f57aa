package netcode

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"joyride/server/internal/net/proto"
	"joyride/server/internal/physics"
	"joyride/server/internal/sim"
)

// Client runs the per-frame netcode loop against one server: it predicts
// the local identity, transmits inputs, and folds incoming snapshots into
// reconciliation and interpolation. Snapshot receipt is asynchronous and
// handed to the frame loop through a channel, so a slow network read never
// blocks a frame.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	selfID    string
	predictor *Predictor
	interp    *Interpolator
	snapshots chan sim.Snapshot
	rttMillis atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
	logger    *log.Logger
}

// Dial joins a server over HTTP and opens the websocket session. baseURL
// is the http(s) origin, e.g. "http://localhost:8080".
func Dial(baseURL string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}

	join, err := join(baseURL)
	if err != nil {
		return nil, err
	}

	wsURL, err := websocketURL(baseURL, join.ID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	self, ok := findPlayer(join.Players, join.ID)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("join response missing own player %s", join.ID)
	}

	c := &Client{
		conn:      conn,
		selfID:    join.ID,
		predictor: NewPredictor(join.ID, self),
		interp:    NewInterpolator(join.ID),
		snapshots: make(chan sim.Snapshot, 8),
		closed:    make(chan struct{}),
		logger:    logger,
	}
	go c.readPump()
	return c, nil
}

func join(baseURL string) (proto.JoinResponse, error) {
	resp, err := http.Post(baseURL+"/join", "application/json", nil)
	if err != nil {
		return proto.JoinResponse{}, fmt.Errorf("join %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return proto.JoinResponse{}, fmt.Errorf("join %s: status %s", baseURL, resp.Status)
	}
	var join proto.JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		return proto.JoinResponse{}, fmt.Errorf("decode join response: %w", err)
	}
	if join.ID == "" {
		return proto.JoinResponse{}, fmt.Errorf("join response missing id")
	}
	return join, nil
}

func websocketURL(baseURL, playerID string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = "/ws"
	parsed.RawQuery = url.Values{"id": {playerID}}.Encode()
	return parsed.String(), nil
}

// ID returns the identity assigned by the server.
func (c *Client) ID() string {
	return c.selfID
}

// Step predicts one frame of local movement and transmits the input.
func (c *Client) Step(keys Keys, dt float64) (physics.Input, error) {
	in := c.predictor.Step(keys, dt)
	return in, c.writeJSON(proto.InputMessage(in))
}

// SendAction transmits a clientAction request; the outcome is observed in
// a later snapshot, never acknowledged directly.
func (c *Client) SendAction(action, vehicleID, mission string) error {
	return c.writeJSON(proto.ClientMessage{
		Ver:       proto.Version,
		Type:      proto.TypeAction,
		Action:    action,
		VehicleID: vehicleID,
		Mission:   mission,
	})
}

// Ping transmits a timestamped ping for round-trip measurement.
func (c *Client) Ping(now time.Time) error {
	return c.writeJSON(proto.ClientMessage{
		Ver:    proto.Version,
		Type:   proto.TypePing,
		SentAt: now.UnixMilli(),
	})
}

// Update folds every snapshot that arrived since the previous frame into
// reconciliation and interpolation. It never blocks: with no pending
// snapshot the predicted state stands as-is, which is also the frozen
// behavior after a dropped connection.
func (c *Client) Update() {
	for {
		select {
		case snapshot := <-c.snapshots:
			c.predictor.Reconcile(snapshot)
			c.interp.Observe(snapshot)
		default:
			return
		}
	}
}

// Predictor exposes the corrected local state for rendering.
func (c *Client) Predictor() *Predictor {
	return c.predictor
}

// Interpolator exposes the smoothed remote entities for rendering.
func (c *Client) Interpolator() *Interpolator {
	return c.interp
}

// RTT reports the last measured round trip.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rttMillis.Load()) * time.Millisecond
}

// Closed reports connection loss; local prediction keeps running but no
// further corrections will arrive.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Close tears down the session.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *Client) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", payload, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump() {
	defer c.closeOnce.Do(func() { close(c.closed) })
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			c.logger.Printf("discarding malformed server message: %v", err)
			continue
		}
		switch probe.Type {
		case proto.TypeState:
			var msg proto.StateMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.logger.Printf("discarding malformed snapshot: %v", err)
				continue
			}
			c.deliver(msg.Snapshot)
		case proto.TypeInit:
			var msg proto.JoinResponse
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.logger.Printf("discarding malformed init message: %v", err)
				continue
			}
			c.deliver(sim.Snapshot{ServerTime: time.Now().UnixMilli(), Players: msg.Players, Vehicles: msg.Vehicles})
		case proto.TypePong:
			var msg proto.PongMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			rtt := time.Now().UnixMilli() - msg.ClientTime
			if rtt < 0 {
				rtt = 0
			}
			c.rttMillis.Store(rtt)
		default:
			c.logger.Printf("unknown server message type %q", probe.Type)
		}
	}
}

// deliver hands a snapshot to the frame loop, dropping the oldest buffered
// one under pressure: a stale snapshot is naturally superseded by the next.
func (c *Client) deliver(snapshot sim.Snapshot) {
	for {
		select {
		case c.snapshots <- snapshot:
			return
		default:
			select {
			case <-c.snapshots:
			default:
			}
		}
	}
}

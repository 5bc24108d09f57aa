package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	server "joyride/server"
	"joyride/server/internal/net/proto"
)

func newTestServer(t *testing.T) (*server.Hub, *httptest.Server) {
	t.Helper()
	hub := server.NewHub(server.Config{VehicleCount: 1}, nil, nil)
	handler := NewHandler(hub, nil)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go handler.Serve(playerID, conn)
	}))
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?id=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestSessionSendsInitialState(t *testing.T) {
	hub, ts := newTestServer(t)
	joined := hub.Join()
	conn := dial(t, ts, joined.ID)

	var initial proto.JoinResponse
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if initial.Type != proto.TypeInit || initial.ID != joined.ID {
		t.Fatalf("unexpected initial payload %+v", initial)
	}
	if len(initial.Players) != 1 || len(initial.Vehicles) != 1 {
		t.Fatalf("initial payload missing entities: %d players, %d vehicles", len(initial.Players), len(initial.Vehicles))
	}
}

func TestSessionRejectsUnknownPlayer(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts, "ghost")

	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close an unknown player's session")
	}
}

func TestSessionAnswersPing(t *testing.T) {
	hub, ts := newTestServer(t)
	joined := hub.Join()
	conn := dial(t, ts, joined.ID)

	var initial proto.JoinResponse
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}

	ping := proto.ClientMessage{
		Ver:    proto.Version,
		Type:   proto.TypePing,
		SentAt: time.Now().Add(-25 * time.Millisecond).UnixMilli(),
	}
	if err := conn.WriteJSON(ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var pong proto.PongMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != proto.TypePong || pong.ClientTime != ping.SentAt {
		t.Fatalf("unexpected pong %+v", pong)
	}
	if pong.RTTMillis <= 0 {
		t.Fatalf("expected a positive round-trip estimate, got %d", pong.RTTMillis)
	}
}

func TestSessionDispatchesInputsAndActions(t *testing.T) {
	hub, ts := newTestServer(t)
	joined := hub.Join()
	conn := dial(t, ts, joined.ID)

	var initial proto.JoinResponse
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}

	enter, _ := json.Marshal(proto.ClientMessage{
		Ver: proto.Version, Type: proto.TypeAction,
		Action: proto.ActionEnterVehicle, VehicleID: initial.Vehicles[0].ID,
	})
	if err := conn.WriteMessage(websocket.TextMessage, enter); err != nil {
		t.Fatalf("write action: %v", err)
	}
	input, _ := json.Marshal(proto.ClientMessage{
		Ver: proto.Version, Type: proto.TypeInput,
		Seq: 1, Forward: true, DeltaTime: 0.033,
	})
	if err := conn.WriteMessage(websocket.TextMessage, input); err != nil {
		t.Fatalf("write input: %v", err)
	}

	// The session goroutine races the assertions below; give the dispatch
	// a moment to land before probing hub state via a pong round trip.
	if err := conn.WriteJSON(proto.ClientMessage{Ver: proto.Version, Type: proto.TypePing, SentAt: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong proto.PongMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}

	diag := hub.DiagnosticsSnapshot()
	if len(diag.Connections) != 1 || diag.Connections[0].ID != joined.ID {
		t.Fatalf("connection not visible in diagnostics: %+v", diag.Connections)
	}
}

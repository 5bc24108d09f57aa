package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	server "joyride/server"
	"joyride/server/internal/journal"
	"joyride/server/internal/net/ws"
	"joyride/server/internal/telemetry"
	"joyride/server/logging"
	loggingsinks "joyride/server/logging/sinks"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", os.Getenv("JOYRIDE_CONFIG"), "path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "listen address override")
	flag.Parse()

	if err := run(configPath, addr); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configPath, addr string) error {
	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}

	logger := telemetry.WrapLogger(log.Default())

	if raw := os.Getenv("TICK_RATE_HZ"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.TickRate = parsed
		} else {
			logger.Printf("ignoring invalid TICK_RATE_HZ value %q", raw)
		}
	}

	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = cfg.LogSinks
	sinks := make([]logging.NamedSink, 0, 2)
	if logConfig.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingsinks.NewConsoleSink(os.Stdout)})
	}
	if logConfig.HasSink("json") && cfg.LogJSONPath != "" {
		file, err := os.Create(cfg.LogJSONPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingsinks.NewJSONSink(file)})
	}
	router := logging.NewRouter(logConfig, logging.SystemClock{}, sinks)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := router.Close(ctx); err != nil {
			logger.Printf("failed to close logging router: %v", err)
		}
	}()

	hub := server.NewHub(cfg, router, logger)

	if cfg.JournalPath != "" {
		recorder, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer recorder.Close()
		hub.AttachJournal(recorder)
	}

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(hub.DiagnosticsSnapshot())
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := json.Marshal(hub.Join())
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	sessions := ws.NewHandler(hub, log.Default())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("id")
		if playerID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed for %s: %v", playerID, err)
			return
		}
		go sessions.Serve(playerID, conn)
	})

	logger.Printf("server listening on %s", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

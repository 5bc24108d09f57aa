package server

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"joyride/server/internal/sim"
)

// Config captures the server tunables. Values omitted from the YAML file
// fall back to the defaults applied by Normalized.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	TickRate   int    `yaml:"tick_rate_hz"`

	InputQueueCapacity    int    `yaml:"input_queue_capacity"`
	RejectSequenceJumps   bool   `yaml:"reject_sequence_jumps"`
	SequenceJumpTolerance uint64 `yaml:"sequence_jump_tolerance"`

	VehicleCount  int                `yaml:"vehicle_count"`
	VehicleSpawns []sim.VehicleSpawn `yaml:"vehicle_spawns"`

	JournalPath string   `yaml:"journal_path"`
	LogSinks    []string `yaml:"log_sinks"`
	LogJSONPath string   `yaml:"log_json_path"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() Config {
	return Config{}.Normalized()
}

// Normalized returns a config with defaults applied.
func (cfg Config) Normalized() Config {
	normalized := cfg
	normalized.ListenAddr = strings.TrimSpace(normalized.ListenAddr)
	if normalized.ListenAddr == "" {
		normalized.ListenAddr = ":8080"
	}
	if normalized.TickRate <= 0 {
		normalized.TickRate = defaultTickRate
	}
	if normalized.InputQueueCapacity <= 0 {
		normalized.InputQueueCapacity = 64
	}
	if normalized.SequenceJumpTolerance == 0 {
		normalized.SequenceJumpTolerance = 32
	}
	if normalized.VehicleCount <= 0 {
		normalized.VehicleCount = defaultVehicleCount
	}
	if len(normalized.LogSinks) == 0 {
		normalized.LogSinks = []string{"console"}
	}
	return normalized
}

// WorldConfig derives the simulation configuration.
func (cfg Config) WorldConfig() sim.Config {
	spawns := cfg.VehicleSpawns
	if len(spawns) == 0 {
		spawns = sim.DefaultVehicleSpawns(cfg.VehicleCount)
	}
	return sim.Config{
		InputQueueCapacity:    cfg.InputQueueCapacity,
		RejectSequenceJumps:   cfg.RejectSequenceJumps,
		SequenceJumpTolerance: cfg.SequenceJumpTolerance,
		SpawnX:                defaultSpawnX,
		SpawnZ:                defaultSpawnZ,
		VehicleSpawns:         spawns,
	}.Normalized()
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.Normalized(), nil
}

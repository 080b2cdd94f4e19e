// Package config loads simulation settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// World tunes the CPU solver.
type World struct {
	Gravity        [3]float32 `yaml:"gravity"`
	Iterations     int        `yaml:"iterations"`
	Substeps       int        `yaml:"substeps"`
	Relaxation     float32    `yaml:"relaxation"`
	ErrorTolerance float32    `yaml:"error_tolerance"`
	MaxContacts    int        `yaml:"max_contacts"`
	CellSize       float32    `yaml:"cell_size"`
	MortonGrid     bool       `yaml:"morton_grid"`
	Workers        int        `yaml:"workers"`
}

// GPU tunes the particle pipeline.
type GPU struct {
	Enabled             bool    `yaml:"enabled"`
	InitialParticles    int     `yaml:"initial_particles"`
	MaxVelocity         float32 `yaml:"max_velocity"`
	BoundsMin           float32 `yaml:"bounds_min"`
	BoundsMax           float32 `yaml:"bounds_max"`
	InitialPoolSize     uint64  `yaml:"initial_pool_size"`
	MaxRecoveryAttempts int     `yaml:"max_recovery_attempts"`
	WaitTimeoutMS       int     `yaml:"wait_timeout_ms"`
	DebugEnabled        bool    `yaml:"debug_enabled"`
	DebugSampleRate     int     `yaml:"debug_sample_rate"`
}

// WaitTimeout converts the configured millisecond value.
func (g GPU) WaitTimeout() time.Duration {
	return time.Duration(g.WaitTimeoutMS) * time.Millisecond
}

// Telemetry tunes the stats websocket.
type Telemetry struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the root document.
type Config struct {
	World     World     `yaml:"world"`
	GPU       GPU       `yaml:"gpu"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Default returns the tuning the benchmark tool ships with.
func Default() Config {
	return Config{
		World: World{
			Gravity:        [3]float32{0, -9.81, 0},
			Iterations:     10,
			Substeps:       1,
			Relaxation:     1,
			ErrorTolerance: 1e-3,
			MaxContacts:    4,
			CellSize:       10,
		},
		GPU: GPU{
			Enabled:             true,
			InitialParticles:    1000,
			InitialPoolSize:     1 << 20,
			MaxVelocity:         100,
			BoundsMin:           -100,
			BoundsMax:           100,
			MaxRecoveryAttempts: 3,
			WaitTimeoutMS:       2000,
			DebugSampleRate:     60,
		},
		Telemetry: Telemetry{
			Addr: "localhost:8797",
		},
	}
}

// Load reads path and overlays it on the defaults, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects settings the solver cannot run with.
func (c Config) Validate() error {
	if c.World.Iterations < 1 {
		return fmt.Errorf("world.iterations must be >= 1, got %d", c.World.Iterations)
	}
	if c.World.Substeps < 1 {
		return fmt.Errorf("world.substeps must be >= 1, got %d", c.World.Substeps)
	}
	if c.World.Relaxation <= 0 || c.World.Relaxation > 2 {
		return fmt.Errorf("world.relaxation must be in (0, 2], got %g", c.World.Relaxation)
	}
	if c.World.ErrorTolerance < 0 {
		return fmt.Errorf("world.error_tolerance must be >= 0, got %g", c.World.ErrorTolerance)
	}
	if c.GPU.InitialParticles < 0 {
		return fmt.Errorf("gpu.initial_particles must be >= 0, got %d", c.GPU.InitialParticles)
	}
	if c.GPU.BoundsMin >= c.GPU.BoundsMax {
		return fmt.Errorf("gpu bounds empty: [%g, %g]", c.GPU.BoundsMin, c.GPU.BoundsMax)
	}
	if c.GPU.MaxVelocity <= 0 {
		return fmt.Errorf("gpu.max_velocity must be > 0, got %g", c.GPU.MaxVelocity)
	}
	if c.Telemetry.Enabled && c.Telemetry.Addr == "" {
		return fmt.Errorf("telemetry.addr required when telemetry is enabled")
	}
	return nil
}

// Package config loads the load tester's run configuration from layered
// sources (defaults, file, environment, explicit overrides), grounded in
// the layered koanf loader pattern used elsewhere in the pack.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every recognized run option, including the ambient logging
// and metrics sections alongside the core target/plan/run settings.
type Config struct {
	Target  Target  `koanf:"target"`
	Plan    Plan    `koanf:"plan"`
	Run     Run     `koanf:"run"`
	Log     Log     `koanf:"log"`
	Metrics Metrics `koanf:"metrics"`
}

// Target describes the ext_proc endpoint under test.
type Target struct {
	URI            string        `koanf:"uri"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// Plan holds the throughput-ramp options that the planner expands into a
// sequence of load stages.
type Plan struct {
	StartThroughput      float64       `koanf:"start_throughput"`
	EndThroughput        float64       `koanf:"end_throughput"`
	ThroughputStep       float64       `koanf:"throughput_step"`
	ThroughputMultiplier float64       `koanf:"throughput_multiplier"`
	TestDuration         time.Duration `koanf:"test_duration"`
}

// Run controls orchestration and pacing behavior.
type Run struct {
	ResultDirectory   string        `koanf:"result_directory"`
	PacingDiscipline  string        `koanf:"pacing_discipline"` // "deterministic" | "poisson"
	GraceWindow       time.Duration `koanf:"grace_window"`
	QueueLimit        int           `koanf:"queue_limit"`
	AbortOnStageError bool          `koanf:"abort_on_stage_error"`
}

// Log configures the ambient logger.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" | "console"
	Output string `koanf:"output"` // "stdout" | "stderr" | a file path
}

// Metrics configures the optional Prometheus exposition endpoint.
type Metrics struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`
}

// ErrInvalidConfig wraps the failures reported by Validate, and a config
// file that Load cannot find.
var ErrInvalidConfig = errors.New("config: invalid")

// Validate checks the fields a koanf unmarshal cannot by itself: required
// non-zero values and mutually-exclusive selectors. Deeper rejection rules
// (expansion-rule consistency, non-finite numbers) belong to the planner,
// which is the authority on plan validity.
func (c *Config) Validate() error {
	if c.Target.URI == "" {
		return fmt.Errorf("%w: target.uri is required", ErrInvalidConfig)
	}
	if c.Run.ResultDirectory == "" {
		return fmt.Errorf("%w: run.result_directory is required", ErrInvalidConfig)
	}
	switch c.Run.PacingDiscipline {
	case "deterministic", "poisson":
	default:
		return fmt.Errorf("%w: run.pacing_discipline must be deterministic or poisson, got %q", ErrInvalidConfig, c.Run.PacingDiscipline)
	}
	return nil
}

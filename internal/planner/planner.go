// Package planner expands a throughput ramp configuration into an ordered
// sequence of load stages.
package planner

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPlan is returned (wrapped) for every plan rejection rule.
var ErrInvalidPlan = errors.New("planner: invalid plan")

// Config is the recognized plan-building input.
type Config struct {
	// Start is the stage-0 rate in streams per second. Must be > 0.
	Start float64
	// End is the inclusive upper bound on rate. Must be >= Start.
	End float64
	// Step is the additive increment between stages. Step > 0 selects
	// additive expansion.
	Step float64
	// Multiplier is the geometric factor between stages, used only when
	// Step == 0. Must be > 1 to produce more than a single stage.
	Multiplier float64
	// StepDuration is how long each stage runs.
	StepDuration time.Duration
}

// Stage is one constant-rate interval of the plan.
type Stage struct {
	Index    int
	RateSPS  float64
	Duration time.Duration
}

// Build validates cfg and expands it into the ordered stage sequence its
// start/end/step/multiplier describe. It performs no I/O and returns
// ErrInvalidPlan (wrapped with the violated rule) without side effects for
// any rejected configuration.
func Build(cfg Config) ([]Stage, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	var rates []float64
	switch {
	case cfg.Step > 0:
		rates = expandAdditive(cfg.Start, cfg.End, cfg.Step)
	case cfg.Multiplier > 1:
		rates = expandMultiplicative(cfg.Start, cfg.End, cfg.Multiplier)
	default:
		rates = []float64{cfg.Start}
	}

	stages := make([]Stage, len(rates))
	for i, r := range rates {
		stages[i] = Stage{Index: i, RateSPS: r, Duration: cfg.StepDuration}
	}
	return stages, nil
}

func validate(cfg Config) error {
	for name, v := range map[string]float64{
		"start": cfg.Start, "end": cfg.End, "step": cfg.Step, "multiplier": cfg.Multiplier,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidPlan, name)
		}
	}

	if cfg.Start <= 0 {
		return fmt.Errorf("%w: start must be positive, got %v", ErrInvalidPlan, cfg.Start)
	}
	if cfg.End < cfg.Start {
		return fmt.Errorf("%w: end (%v) must be >= start (%v)", ErrInvalidPlan, cfg.End, cfg.Start)
	}
	if cfg.Step == 0 && cfg.Multiplier <= 1 && cfg.End > cfg.Start {
		return fmt.Errorf("%w: need either step>0 or multiplier>1 to reach end>start", ErrInvalidPlan)
	}
	if cfg.StepDuration <= 0 {
		return fmt.Errorf("%w: step_duration must be positive", ErrInvalidPlan)
	}
	return nil
}

func expandAdditive(start, end, step float64) []float64 {
	var rates []float64
	for r := start; r <= end; r += step {
		rates = append(rates, r)
	}
	if len(rates) == 0 || rates[len(rates)-1] < end {
		rates = append(rates, end)
	}
	return rates
}

func expandMultiplicative(start, end, multiplier float64) []float64 {
	var rates []float64
	for r := start; r <= end; r *= multiplier {
		rates = append(rates, r)
	}
	if len(rates) == 0 || rates[len(rates)-1] < end {
		rates = append(rates, end)
	}
	return rates
}

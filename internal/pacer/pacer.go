// Package pacer issues new work at a configured arrival rate, independent
// of how long each unit of work takes to complete (open-loop load
// generation).
package pacer

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
	"github.com/bonnetn/ext-proc-load-tester/internal/planner"
)

// Discipline selects the inter-arrival process.
type Discipline int

const (
	// Deterministic spaces arrivals evenly at 1/rate intervals.
	Deterministic Discipline = iota
	// Poisson samples exponential inter-arrival gaps, approximating a
	// Poisson arrival process at the stage's nominal rate.
	Poisson
)

// Launch is invoked for each scheduled arrival. Pacer calls Launch inline
// and does not schedule the next arrival until it returns, so Launch must
// hand the work off (for example to its own goroutine) and return
// promptly; Pacer then never waits for the work itself to complete.
type Launch func(ctx context.Context)

// Pacer drives one stage's worth of paced arrivals.
type Pacer struct {
	Discipline Discipline
	// Rand sources the Poisson discipline's exponential sampling. New
	// replaces a nil rng with a *rand.Rand on the fixed seed 1.
	Rand *rand.Rand
}

// New returns a Pacer for the given discipline. rng is used only by the
// Poisson discipline; pass a seeded *rand.Rand for deterministic tests.
func New(discipline Discipline, rng *rand.Rand) *Pacer {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Pacer{Discipline: discipline, Rand: rng}
}

// Run dispatches launch at the stage's nominal rate until stage.Duration
// has elapsed on clk, or ctx is cancelled. It never blocks a scheduled
// arrival on a prior one's completion, and never coalesces or skips
// arrivals that fall behind schedule: a late arrival fires immediately.
func (p *Pacer) Run(ctx context.Context, clk clock.Clock, stage planner.Stage, launch Launch) error {
	end := clk.Now().Add(stage.Duration)

	switch p.Discipline {
	case Poisson:
		return p.runPoisson(ctx, clk, stage.RateSPS, end, launch)
	default:
		return p.runDeterministic(ctx, clk, stage.RateSPS, end, launch)
	}
}

func (p *Pacer) runDeterministic(ctx context.Context, clk clock.Clock, rateSPS float64, end time.Time, launch Launch) error {
	limiter := rate.NewLimiter(rate.Limit(rateSPS), 1)
	for {
		if !clk.Now().Before(end) {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The next arrival lies past ctx's deadline, so none can fire
			// before ctx ends: hold until the stage or ctx ends.
			return clk.SleepUntil(ctx, end)
		}
		if !clk.Now().Before(end) {
			return nil
		}
		launch(ctx)
	}
}

func (p *Pacer) runPoisson(ctx context.Context, clk clock.Clock, rateSPS float64, end time.Time, launch Launch) error {
	for {
		now := clk.Now()
		if !now.Before(end) {
			return nil
		}

		next := now.Add(p.sampleInterval(rateSPS))
		if err := clk.SleepUntil(ctx, next); err != nil {
			return err
		}
		if !clk.Now().Before(end) {
			return nil
		}
		launch(ctx)
	}
}

// sampleInterval draws an exponentially-distributed inter-arrival gap for
// a Poisson process with the given mean rate, via the standard inverse-CDF
// transform -ln(U)/rate.
func (p *Pacer) sampleInterval(rateSPS float64) time.Duration {
	u := p.Rand.Float64()
	for u == 0 {
		u = p.Rand.Float64()
	}
	seconds := -math.Log(u) / rateSPS
	return time.Duration(seconds * float64(time.Second))
}
